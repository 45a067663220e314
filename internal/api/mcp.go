package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/whereismy/internal/storage"
)

const activeAdsResourceLimit = 200

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store   ModerationStore
	Version string
}

// NewMCPServer creates an MCP server exposing the moderation tools and the
// active ads resource.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"whereismy",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("whereismy moderation: review, archive and delete lost-and-found ads."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_ads",
			mcp.WithDescription("List ads regardless of owner, newest first."),
			mcp.WithString("status", mcp.Description("Filter by status: active or archived")),
			mcp.WithString("kind", mcp.Description("Filter by kind: found or lost")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of ads (default 20, max 200)")),
			mcp.WithNumber("offset", mcp.Description("Number of ads to skip")),
		),
		mcpListAds(deps),
	)

	s.AddTool(
		mcp.NewTool("archive_ad",
			mcp.WithDescription("Archive an active ad. Ownership is not checked."),
			mcp.WithNumber("id", mcp.Description("Ad id"), mcp.Required()),
		),
		mcpArchiveAd(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_ad",
			mcp.WithDescription("Permanently delete an ad."),
			mcp.WithNumber("id", mcp.Description("Ad id"), mcp.Required()),
		),
		mcpDeleteAd(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"ads://active",
			"Active Ads",
			mcp.WithResourceDescription("Currently searchable ads as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceActive(deps),
	)

	return s
}

func mcpListAds(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := map[string]string{
			"status": req.GetString("status", ""),
			"kind":   req.GetString("kind", ""),
		}
		f, err := parseFilter(func(k string) string { return args[k] })
		if err != nil {
			return mcpError(err.Error()), nil
		}

		f.Limit = req.GetInt("limit", 20)
		if f.Limit <= 0 {
			f.Limit = 20
		}
		if f.Limit > 200 {
			f.Limit = 200
		}
		f.Offset = max(req.GetInt("offset", 0), 0)

		ads, err := deps.Store.ListAds(ctx, f)
		if err != nil {
			return mcpError(fmt.Sprintf("listing ads failed: %v", err)), nil
		}
		if len(ads) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(ads)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal ads: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpArchiveAd(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := int64(req.GetInt("id", 0))
		if id <= 0 {
			return mcpError("id is required"), nil
		}

		ok, err := deps.Store.ModeratorArchive(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("archive failed: %v", err)), nil
		}
		if !ok {
			return mcpError(fmt.Sprintf("ad %d not found or already archived", id)), nil
		}
		slog.Info("ad archived by moderator", "component", "mcp", "ad_id", id)
		return mcpText(fmt.Sprintf("Archived ad %d", id)), nil
	}
}

func mcpDeleteAd(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := int64(req.GetInt("id", 0))
		if id <= 0 {
			return mcpError("id is required"), nil
		}

		err := deps.Store.Delete(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("ad %d not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("delete failed: %v", err)), nil
		}
		slog.Info("ad deleted by moderator", "component", "mcp", "ad_id", id)
		return mcpText(fmt.Sprintf("Deleted ad %d", id)), nil
	}
}

func mcpResourceActive(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		ads, err := deps.Store.ListAds(ctx, storage.AdFilter{
			Status: storage.StatusActive,
			Limit:  activeAdsResourceLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list active ads: %w", err)
		}
		if ads == nil {
			ads = []storage.Ad{}
		}

		b, err := json.Marshal(ads)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal ads: %w", err)
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
