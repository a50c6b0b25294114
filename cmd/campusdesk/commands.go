package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/campusdesk/internal/config"
	"github.com/kalambet/campusdesk/internal/visitor"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the campus assistant a question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		verbose, _ := cmd.Flags().GetBool("verbose")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runAsk(cmd.Context(), client, cmd.OutOrStdout(), sessionID, strings.Join(args, " "), verbose)
	},
}

type answerResponse struct {
	Reply string   `json:"reply"`
	State string   `json:"state"`
	Trace []string `json:"trace"`
	Tiers []struct {
		Tier   string `json:"tier"`
		Reason string `json:"reason"`
	} `json:"tiers"`
}

func runAsk(ctx context.Context, client *apiClient, w io.Writer, sessionID, question string, verbose bool) error {
	if sessionID == "" {
		id, err := client.newSession(ctx)
		if err != nil {
			return err
		}
		sessionID = id
	}

	resp, err := client.post(ctx, "/v1/sessions/"+sessionID+"/messages", map[string]string{"message": question})
	if err != nil {
		return err
	}
	var ans answerResponse
	if err := decodeJSON(resp, &ans); err != nil {
		return err
	}

	fmt.Fprintln(w, ans.Reply)
	if verbose {
		fmt.Fprintf(w, "\n%s %s\n", colorize(boldColor, "session:"), sessionID)
		fmt.Fprintf(w, "%s %s\n", colorize(boldColor, "trace:"), strings.Join(ans.Trace, " → "))
		for _, t := range ans.Tiers {
			fmt.Fprintf(w, "  %s: %s\n", t.Tier, t.Reason)
		}
	}
	return nil
}

func init() {
	askCmd.Flags().String("session", "", "reuse an existing session ID")
	askCmd.Flags().BoolP("verbose", "v", false, "show the pipeline trace")
}

// --- visitor ---

var visitorCmd = &cobra.Command{
	Use:   "visitor",
	Short: "Submit and review visitor requests",
}

var visitorSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a visitor request",
	RunE: func(cmd *cobra.Command, args []string) error {
		form := visitor.Form{}
		form.Name, _ = cmd.Flags().GetString("name")
		form.Phone, _ = cmd.Flags().GetString("phone")
		form.Purpose, _ = cmd.Flags().GetString("purpose")
		form.IDNumber, _ = cmd.Flags().GetString("id-number")
		form.Person, _ = cmd.Flags().GetString("person")
		form.Building, _ = cmd.Flags().GetString("building")
		form.Duration, _ = cmd.Flags().GetString("duration")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		sessionID, err := client.newSession(cmd.Context())
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/sessions/"+sessionID+"/visitor-requests", form)
		if err != nil {
			return err
		}
		var out struct {
			Message string `json:"message"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("%s", out.Message)
		return nil
	},
}

type requestRow struct {
	visitor.Request
	TimeAgo string `json:"timeAgo"`
}

var visitorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List visitor requests, pending first",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runVisitorList(cmd.Context(), client, cmd.OutOrStdout(), status)
	},
}

func runVisitorList(ctx context.Context, client *apiClient, w io.Writer, status string) error {
	path := "/v1/staff/visitor-requests"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	resp, err := client.get(ctx, path)
	if err != nil {
		return err
	}
	var rows []requestRow
	if err := decodeJSON(resp, &rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, "No visitor requests.")
		return nil
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%s  %-8s  %-10s  %s (%s) → %s\n",
			colorize(stepColor, r.TicketID),
			colorize(statusColor(string(r.Status)), string(r.Status)),
			r.TimeAgo,
			r.Name,
			r.Phone,
			r.Purpose,
		)
	}
	return nil
}

func decideCmd(action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <ticket>",
		Short: strings.ToUpper(action[:1]) + action[1:] + " a pending visitor request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			msg, err := runDecide(cmd.Context(), client, args[0], action)
			if err != nil {
				return err
			}
			printSuccess("%s", msg)
			return nil
		},
	}
}

func runDecide(ctx context.Context, client *apiClient, ticket, action string) (string, error) {
	resp, err := client.post(ctx, "/v1/staff/visitor-requests/"+url.PathEscape(ticket)+"/"+action, nil)
	if err != nil {
		return "", err
	}
	var out struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

var visitorStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show visitor request counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/staff/visitor-requests/stats")
		if err != nil {
			return err
		}
		var stats visitor.Stats
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}
		printStatus("Total", "%d", stats.Total)
		printStatus("Pending", "%d", stats.Pending)
		printStatus("Approved", "%d", stats.Approved)
		printStatus("Denied", "%d", stats.Denied)
		printStatus("Today", "%d", stats.Today)
		return nil
	},
}

func init() {
	f := visitorSubmitCmd.Flags()
	f.String("name", "", "visitor full name")
	f.String("phone", "", "visitor phone number, international format")
	f.String("purpose", "", "purpose of the visit")
	f.String("id-number", "", "ID or passport number")
	f.String("person", "", "person or office being visited")
	f.String("building", "", "building being visited")
	f.String("duration", "", "expected duration")

	visitorListCmd.Flags().String("status", "", "only show requests with this status (pending, approved, denied)")

	visitorCmd.AddCommand(visitorSubmitCmd)
	visitorCmd.AddCommand(visitorListCmd)
	visitorCmd.AddCommand(decideCmd("approve"))
	visitorCmd.AddCommand(decideCmd("deny"))
	visitorCmd.AddCommand(visitorStatsCmd)
}

// --- kb ---

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage the campus knowledge base",
}

var kbIngestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest content into the knowledge base",
	Long: `Ingest content into the knowledge base.

Examples:
  campusdesk kb ingest --text "The library opens at 8 AM on weekdays."
  campusdesk kb ingest --url https://www.uob.edu.bh/admissions
  campusdesk kb ingest --file ./handbook.pdf --title "Student handbook"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		pageURL, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")

		req, err := buildIngestRequest(text, pageURL, file, title)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/kb/documents", req)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Queued doc %s (job %s)", result["id"], result["job_id"])
		return nil
	},
}

// buildIngestRequest turns CLI flags into an ingest body. PDF and HTML files
// are sent base64-encoded for server-side extraction.
func buildIngestRequest(text, pageURL, file, title string) (map[string]any, error) {
	if text == "" && pageURL == "" && file == "" {
		return nil, fmt.Errorf("one of --text, --url, or --file is required")
	}

	req := map[string]any{"source": "cli"}
	if title != "" {
		req["title"] = title
	}

	switch {
	case text != "":
		req["type"] = "text"
		req["content"] = text
	case pageURL != "":
		req["type"] = "url"
		req["url"] = pageURL
	default:
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading file: %w", err)
		}
		if title == "" {
			req["title"] = filepath.Base(file)
		}
		switch strings.ToLower(filepath.Ext(file)) {
		case ".pdf":
			req["type"] = "file"
			req["content_type"] = "application/pdf"
			req["content"] = base64.StdEncoding.EncodeToString(data)
		case ".html", ".htm":
			req["type"] = "file"
			req["content_type"] = "text/html"
			req["content"] = base64.StdEncoding.EncodeToString(data)
		default:
			req["type"] = "text"
			req["content"] = string(data)
		}
	}
	return req, nil
}

var kbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingested documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/kb/documents?limit=%d", limit))
		if err != nil {
			return err
		}
		var docs []struct {
			ID         string  `json:"id"`
			Title      string  `json:"title"`
			ChunkCount int     `json:"chunk_count"`
			IndexedAt  *string `json:"indexed_at"`
		}
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Println("No documents found.")
			return nil
		}
		for _, d := range docs {
			state := colorize(warningColor, "queued")
			if d.IndexedAt != nil {
				state = colorize(successColor, fmt.Sprintf("%d chunks", d.ChunkCount))
			}
			fmt.Printf("%s  %s  %s\n", colorize(stepColor, d.ID[:8]), state, d.Title)
		}
		return nil
	},
}

var kbJobCmd = &cobra.Command{
	Use:   "job <id>",
	Short: "Show the status of an ingest job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/kb/jobs/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var job struct {
			ID        string `json:"id"`
			Status    string `json:"status"`
			Attempts  int    `json:"attempts"`
			LastError string `json:"last_error"`
		}
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		fmt.Println(jobLine(job.Status, job.Attempts, job.LastError))
		return nil
	},
}

func jobLine(status string, attempts int, lastError string) string {
	switch status {
	case "completed":
		return colorize(successColor, status)
	case "failed":
		return fmt.Sprintf("%s after %d attempts: %s", colorize(errorColor, status), attempts, lastError)
	default:
		return colorize(warningColor, status)
	}
}

func init() {
	kbIngestCmd.Flags().String("text", "", "text content to ingest")
	kbIngestCmd.Flags().String("url", "", "URL to fetch and ingest")
	kbIngestCmd.Flags().String("file", "", "file path to ingest (text, HTML or PDF)")
	kbIngestCmd.Flags().String("title", "", "title for the document")
	kbListCmd.Flags().Int("limit", 20, "maximum number of documents to list")

	kbCmd.AddCommand(kbIngestCmd)
	kbCmd.AddCommand(kbListCmd)
	kbCmd.AddCommand(kbJobCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(boldColor, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			printStep("valid keys: %s", strings.Join(config.ValidKeys(), ", "))
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
