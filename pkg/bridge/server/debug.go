package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/metabridge-dev/metabridge/go/pkg/bridge/tools"
)

// serveDebug starts the optional HTTP listener for health, info, and
// metrics. It is strictly an operator surface; the MCP protocol never
// touches it. The returned func shuts the listener down.
func (s *Server) serveDebug(addr string) func() {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/info", s.handleInfo).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(s.promReg,
		promhttp.HandlerOpts{})).Methods("GET")

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		s.logger.Info("debug http server listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("debug http server error", zap.Error(err))
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("debug http server shutdown error", zap.Error(err))
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.dispatcher.EngineStatus()
	state := "healthy"
	if status.Degraded {
		state = "degraded"
	}
	writeJSON(w, map[string]interface{}{
		"status":         state,
		"engine_version": status.Version,
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"name":         s.cfg.Server.Name,
		"version":      s.version,
		"sandbox_root": s.registry.Root(),
		"engine": map[string]interface{}{
			"interpreter":     s.cfg.Engine.Interpreter,
			"entry_script":    s.cfg.Engine.EntryScript,
			"timeout_seconds": s.cfg.Engine.TimeoutSeconds,
		},
		"operations": tools.All(),
	})
}

func writeJSON(w http.ResponseWriter, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(value); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
