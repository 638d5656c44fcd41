// Package server builds the HTTP handler for the http transport: health and
// metrics endpoints plus the streamable MCP endpoint.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quackql/quackql/internal/config"
	"github.com/quackql/quackql/internal/observability"
)

func NewHandler(cfg config.Config, mcp *mcpserver.MCPServer, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	// Stateless so every MCP client request stands alone; client identity
	// still travels in each initialize-aware request.
	streamable := mcpserver.NewStreamableHTTPServer(mcp, mcpserver.WithStateLess(true))
	mux.Handle("/mcp", streamable)

	return observability.HTTPMiddleware(logger)(mux)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
