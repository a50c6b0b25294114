package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/campusdesk/internal/memory"
	"github.com/kalambet/campusdesk/internal/pipeline"
	"github.com/kalambet/campusdesk/internal/session"
	"github.com/kalambet/campusdesk/internal/visitor"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Pipeline *pipeline.Pipeline
	Sessions *session.Manager // optional; without it the session argument is ignored
	Workflow *visitor.Workflow
	Version  string
}

// NewMCPServer creates an MCP server with the campus assistant tools and
// resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"campusdesk",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("campusdesk answers questions about the university campus and files visitor requests with the security office."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_campus",
			mcp.WithDescription("Ask the campus assistant a question. Answers come from the campus knowledge base."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("session", mcp.Description("Optional session ID to keep conversation history")),
		),
		mcpAskCampus(deps),
	)

	s.AddTool(
		mcp.NewTool("submit_visitor_request",
			mcp.WithDescription("Submit a visitor request to the campus security office. Returns the ticket ID."),
			mcp.WithString("name", mcp.Description("Visitor full name"), mcp.Required()),
			mcp.WithString("phone", mcp.Description("Visitor phone number, international format"), mcp.Required()),
			mcp.WithString("purpose", mcp.Description("Purpose of the visit"), mcp.Required()),
			mcp.WithString("id_number", mcp.Description("ID or passport number")),
			mcp.WithString("person", mcp.Description("Person or office being visited")),
			mcp.WithString("building", mcp.Description("Building being visited")),
			mcp.WithString("duration", mcp.Description("Expected duration of the visit")),
			mcp.WithString("session", mcp.Description("Optional session ID that receives the confirmation")),
		),
		mcpSubmitVisitor(deps),
	)

	s.AddTool(
		mcp.NewTool("visitor_request_status",
			mcp.WithDescription("Look up a visitor request by ticket ID."),
			mcp.WithString("ticket", mcp.Description("Ticket ID, e.g. VST-123456789"), mcp.Required()),
		),
		mcpVisitorStatus(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"campus://visitor-requests",
			"Visitor Requests",
			mcp.WithResourceDescription("All visitor requests, pending first"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceVisitors(deps),
	)

	return s
}

func (d MCPDeps) session(id string) (*session.Session, error) {
	if id == "" || d.Sessions == nil {
		return nil, nil
	}
	return d.Sessions.Get(id)
}

func mcpAskCampus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil || question == "" {
			return mcpError("question is required"), nil
		}

		sess, err := deps.session(req.GetString("session", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("unknown session: %v", err)), nil
		}
		if sess == nil {
			// One-shot question: a throwaway memory keeps the user turn in history.
			out := deps.Pipeline.Respond(ctx, memory.New(memory.DefaultWindow), question)
			return mcpText(out.Text), nil
		}

		out, err := sess.Ask(ctx, deps.Pipeline, question)
		if errors.Is(err, session.ErrBusy) {
			return mcpError(err.Error()), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}
		return mcpText(out.Text), nil
	}
}

func mcpSubmitVisitor(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sess, err := deps.session(req.GetString("session", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("unknown session: %v", err)), nil
		}

		form := visitor.Form{
			Name:     req.GetString("name", ""),
			IDNumber: req.GetString("id_number", ""),
			Phone:    req.GetString("phone", ""),
			Purpose:  req.GetString("purpose", ""),
			Person:   req.GetString("person", ""),
			Building: req.GetString("building", ""),
			Duration: req.GetString("duration", ""),
		}
		r, err := deps.Workflow.Submit(ctx, form)
		var ve *visitor.ValidationError
		if errors.As(err, &ve) {
			return mcpError(ve.Error()), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to submit: %v", err)), nil
		}

		msg := visitor.ConfirmationMessage(r.TicketID)
		if sess != nil {
			sess.AddTicket(r.TicketID)
			sess.Append(memory.System, msg)
		}
		return mcpText(msg), nil
	}
}

func mcpVisitorStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ticket, err := req.RequireString("ticket")
		if err != nil || ticket == "" {
			return mcpError("ticket is required"), nil
		}
		r, ok, err := deps.Workflow.Get(ctx, ticket)
		if err != nil {
			return mcpError(fmt.Sprintf("lookup failed: %v", err)), nil
		}
		if !ok {
			return mcpError(fmt.Sprintf("no visitor request with ticket %s", ticket)), nil
		}
		b, err := json.Marshal(r)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal request: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceVisitors(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		reqs, err := deps.Workflow.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list visitor requests: %w", err)
		}
		b, err := json.Marshal(visitor.ForReview(reqs))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal visitor requests: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
