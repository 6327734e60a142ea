package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/evidence-journal/internal/bootstrap"
	"github.com/kirillkom/evidence-journal/internal/config"
	"github.com/kirillkom/evidence-journal/internal/core/domain"
	"github.com/kirillkom/evidence-journal/internal/observability/logging"
)

// journalReader is the read-only slice of the journal the tools need.
type journalReader interface {
	Get(ctx context.Context, id string) (*domain.JournalEntry, error)
	History(ctx context.Context, id string) ([]domain.AuditEvent, error)
	Stats(ctx context.Context) (domain.QueueStats, error)
	ListQueued(ctx context.Context, limit int) ([]domain.JournalEntry, error)
}

func main() {
	if err := config.LoadDotEnv(""); err != nil {
		fmt.Fprintf(os.Stderr, "env file: %v\n", err)
	}
	cfg := config.Load()
	// stdout carries the MCP protocol.
	slog.SetDefault(logging.New(os.Stderr, "mcp", cfg.LogLevel, "json"))

	ctx := context.Background()
	app, err := bootstrap.New(ctx, cfg, "mcp")
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	s := newServer(readOnlyJournal{app: app})
	if err := server.ServeStdio(s); err != nil {
		slog.Error("mcp_server_stopped", "error", err)
		os.Exit(1)
	}
}

type readOnlyJournal struct {
	app *bootstrap.App
}

func (r readOnlyJournal) Get(ctx context.Context, id string) (*domain.JournalEntry, error) {
	return r.app.QueryUC.Get(ctx, id)
}

func (r readOnlyJournal) History(ctx context.Context, id string) ([]domain.AuditEvent, error) {
	return r.app.QueryUC.History(ctx, id)
}

func (r readOnlyJournal) Stats(ctx context.Context) (domain.QueueStats, error) {
	return r.app.QueryUC.Stats(ctx)
}

func (r readOnlyJournal) ListQueued(ctx context.Context, limit int) ([]domain.JournalEntry, error) {
	return r.app.Queue.ListQueued(ctx, limit)
}

func newServer(journal journalReader) *server.MCPServer {
	s := server.NewMCPServer("evidence-journal", "1.0.0", server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("journal_stats",
		mcp.WithDescription("Counts by queue status, duplicate rate and per-tier duplicate hits."),
	), func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := journal.Stats(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(stats)
	})

	s.AddTool(mcp.NewTool("journal_entry",
		mcp.WithDescription("One journal entry with its audit history."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Journal entry id")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		entry, err := journal.Get(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		history, err := journal.History(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]any{"entry": entry, "history": history})
	})

	s.AddTool(mcp.NewTool("journal_queue",
		mcp.WithDescription("Queued entries in claim order, without claiming them."),
		mcp.WithNumber("limit", mcp.Description("Maximum entries to return (default 20)")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		entries, err := journal.ListQueued(ctx, req.GetInt("limit", 20))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]any{"entries": entries})
	})

	return s
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}
