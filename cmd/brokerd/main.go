// Command brokerd is a read-only HTTP introspection daemon for a
// bus.Broker running in the same process; nothing in this command
// registers modules or emits events on that broker. It lives outside the core
// module deliberately: the core never imports a transport or a config
// loader, and this is the external adapter that layers both on top.
package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/patchbay/bus"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to a TOML or YAML config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := LoadConfig(configPath)
	if err != nil {
		logger.Error("brokerd: failed to load config", "error", err)
		os.Exit(1)
	}

	broker := bus.New(
		bus.WithLogCapacity(cfg.LogCapacity),
		bus.WithLogger(bus.NewSlogLogger(logger)),
		bus.WithDebug(cfg.Debug),
	)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(correlationID)
	r.Get("/modules", modulesHandler(broker))
	r.Get("/log", eventLogHandler(broker))
	r.Post("/debug", debugHandler(broker))

	logger.Info("brokerd: listening", "addr", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, r); err != nil {
		logger.Error("brokerd: server exited", "error", err)
		os.Exit(1)
	}
}

// correlationID stamps every response with a request-scoped uuid in the
// X-Correlation-ID header. The id is not stored in the request context
// and is not written to any log line.
func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Correlation-ID", id)
		next.ServeHTTP(w, req)
	})
}

func modulesHandler(b *bus.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, b.Stats())
	}
}

func eventLogHandler(b *bus.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		limit := 0
		if q := req.URL.Query().Get("limit"); q != "" {
			if n, err := strconv.Atoi(q); err == nil && n >= 0 {
				limit = n
			}
		}
		writeJSON(w, b.EventLog(limit))
	}
}

func debugHandler(b *bus.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Enabled bool `json:"enabled"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, "brokerd: invalid body", http.StatusBadRequest)
			return
		}
		b.SetDebug(body.Enabled)
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

