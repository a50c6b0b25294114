package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/campusdesk/internal/api"
	"github.com/kalambet/campusdesk/internal/composer"
	"github.com/kalambet/campusdesk/internal/config"
	"github.com/kalambet/campusdesk/internal/gemini"
	"github.com/kalambet/campusdesk/internal/ingest"
	"github.com/kalambet/campusdesk/internal/logging"
	"github.com/kalambet/campusdesk/internal/notify"
	"github.com/kalambet/campusdesk/internal/observability"
	"github.com/kalambet/campusdesk/internal/ollama"
	"github.com/kalambet/campusdesk/internal/pipeline"
	"github.com/kalambet/campusdesk/internal/retrieval"
	"github.com/kalambet/campusdesk/internal/session"
	"github.com/kalambet/campusdesk/internal/storage"
	"github.com/kalambet/campusdesk/internal/syncer"
	"github.com/kalambet/campusdesk/internal/visitor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the campusdesk server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and dependency status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
}

// backends holds the long-lived clients a server owns.
type backends struct {
	store   *storage.Store
	kv      storage.KV
	redis   *storage.RedisKV
	vectors retrieval.VectorStore
	closers []io.Closer
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			slog.Warn("closing backend", "error", err)
		}
	}
}

func openBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	b := &backends{}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	b.store = store
	b.kv = store
	b.closers = append(b.closers, store)

	if cfg.Storage.Backend == "redis" || cfg.Sync.Mode == "redis" {
		rkv, err := storage.OpenRedis(ctx, cfg.Redis.URL)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.redis = rkv
		b.closers = append(b.closers, rkv)
		if cfg.Storage.Backend == "redis" {
			b.kv = rkv
		}
	}

	switch cfg.Retrieval.VectorBackend {
	case "qdrant-grpc":
		q, err := retrieval.NewQdrantGRPC(cfg.Qdrant.GRPCAddr, cfg.Qdrant.Collection, cfg.Qdrant.APIKey)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.vectors = q
		b.closers = append(b.closers, q)
	default:
		b.vectors = retrieval.NewQdrantHTTP(cfg.Qdrant.URL, cfg.Qdrant.Collection, cfg.Qdrant.APIKey)
	}
	return b, nil
}

func newEmbedder(cfg config.Config, oc *ollama.Client) retrieval.Embedder {
	if cfg.Retrieval.Embedder == "ollama" {
		return retrieval.NewOllamaEmbedder(oc, cfg.Ollama.EmbedModel)
	}
	return retrieval.NewVectorizerClient(cfg.Retrieval.VectorizerURL)
}

// changeSources wires the visitor-request change feed for the configured
// sync mode. Redis pub/sub can drop messages, so a poller reconciles.
func changeSources(cfg config.Config, b *backends) (notify.Publisher, []notify.Subscriber) {
	key := cfg.Storage.RequestsKey
	switch cfg.Sync.Mode {
	case "redis":
		bus := notify.NewRedisBus(b.redis.Client(), notify.DefaultChannel)
		return bus, []notify.Subscriber{bus, notify.NewPoller(b.kv, cfg.Sync.PollInterval, key)}
	case "poll":
		return notify.Discard, []notify.Subscriber{notify.NewPoller(b.kv, cfg.Sync.PollInterval, key)}
	default:
		bus := notify.NewMemoryBus(16)
		return bus, []notify.Subscriber{bus}
	}
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "campusdesk version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logCloser := logging.Setup(cfg.Log)
	defer logCloser.Close()

	apiToken, err := config.GetAPIToken(config.NewSecrets())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	diffMode, err := visitor.ParseDiffMode(cfg.Sync.DiffMode)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	metrics := observability.NewMetrics("campusdesk")

	// The fallback model is optional at startup; questions degrade to the
	// maintenance message while it is missing.
	oc := ollama.New(cfg.Ollama.BaseURL)
	models := []string{cfg.Ollama.Model}
	if cfg.Retrieval.Embedder == "ollama" {
		models = append(models, cfg.Ollama.EmbedModel)
	}
	if err := ollama.EnsureReady(ctx, oc, os.Stderr, models...); err != nil {
		printWarning("fallback model not ready: %v", err)
	}

	embedder := newEmbedder(cfg, oc)
	retriever := retrieval.NewRetriever(embedder, b.vectors, cfg.Retrieval.TopK)
	retriever.EmbedTimeout = cfg.Timeouts.Embed
	retriever.SearchTimeout = cfg.Timeouts.Search

	primary := gemini.NewClient(cfg.Gemini.URL, cfg.Gemini.APIKey)
	fallback := pipeline.OllamaFallback{Client: oc, Model: cfg.Ollama.Model}
	gen := pipeline.NewGenerator(primary, fallback, composer.New(""),
		pipeline.NewAISettings(pipeline.AIConfig{Temperature: cfg.AI.Temperature}), metrics)
	gen.PrimaryTimeout = cfg.Timeouts.Primary
	gen.FallbackTimeout = cfg.Timeouts.Fallback
	pipe := pipeline.New(retriever, gen, metrics)

	prober := pipeline.Prober{Primary: primary, Fallback: fallback, Embedder: embedder, Store: b.vectors}
	conn := prober.Probe(ctx)
	slog.Info("connectivity", "primary", conn.Primary, "fallback", conn.Fallback,
		"embedder", conn.Embedder, "vector_search", conn.VectorSearch)
	if !conn.AnyModel() {
		printWarning("no model reachable; visitors will see the maintenance message")
	}

	publisher, sources := changeSources(cfg, b)
	workflow := visitor.NewWorkflow(b.kv, cfg.Storage.RequestsKey, publisher, metrics)
	sessions := session.NewManager(cfg.Session.TTL, cfg.AI.HistoryWindow, metrics)

	changes := syncer.New(sessions, cfg.Storage.RequestsKey, diffMode, metrics)
	go func() {
		if err := changes.Run(ctx, sources...); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("visitor request sync stopped", "error", err)
		}
	}()

	worker := ingest.NewWorker(b.store, embedder, b.vectors, cfg.Ingest.ChunkChars, cfg.Ingest.PollInterval, metrics)
	go worker.Run(ctx)

	handler := api.NewHandler(api.Deps{
		Pipeline:   pipe,
		Prober:     prober,
		Sessions:   sessions,
		Workflow:   workflow,
		Staff:      visitor.NewStaffSessions(b.kv, cfg.Storage.SessionKey),
		Documents:  b.store,
		Metrics:    metrics,
		Token:      apiToken,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Pipeline: pipe,
			Sessions: sessions,
			Workflow: workflow,
			Version:  version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("campusdesk listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func showStatus(ctx context.Context) error {
	client, err := newAPIClient()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
		return nil
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		return nil
	}
	printStatus("Server", "running at %s", client.baseURL)

	resp, err = client.get(ctx, "/v1/connectivity")
	if err != nil {
		return err
	}
	var conn pipeline.Connectivity
	if err := decodeJSON(resp, &conn); err != nil {
		return err
	}
	printStatus("Primary model", "%s", upDown(conn.Primary))
	printStatus("Fallback model", "%s", upDown(conn.Fallback))
	printStatus("Embedder", "%s", upDown(conn.Embedder))
	printStatus("Vector search", "%s", upDown(conn.VectorSearch))

	resp, err = client.get(ctx, "/v1/staff/visitor-requests/stats")
	if err != nil {
		return err
	}
	var stats visitor.Stats
	if err := decodeJSON(resp, &stats); err != nil {
		return err
	}
	printStatus("Visitor requests", "%d total, %d pending", stats.Total, stats.Pending)
	return nil
}

func upDown(ok bool) string {
	if ok {
		return colorize(successColor, "reachable")
	}
	return colorize(errorColor, "unreachable")
}
