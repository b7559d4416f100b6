package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Tarunvoff/apiris-sdk/pipeline"
	"github.com/Tarunvoff/apiris-sdk/workload"
)

var (
	serveAddr string // Diagnostics listen address
	serveSeed int64  // Seed for the background demo traffic
	serveRate float64
)

// serveCmd runs a diagnostics HTTP server over a live engine fed by the
// synthetic workload generator. The server only exposes read accessors:
// model-state snapshots, cache stats and health.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve pipeline diagnostics over HTTP",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			logrus.Fatalf("unable to load config: %v", err)
		}
		engine, err := pipeline.NewEngine(cfg)
		if err != nil {
			logrus.Fatalf("unable to build engine: %v", err)
		}
		defer engine.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go feedTraffic(ctx, engine)

		router := mux.NewRouter()
		router.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet)
		router.HandleFunc("/v1/endpoints", handleEndpoints(engine)).Methods(http.MethodGet)
		router.HandleFunc("/v1/endpoints/{key:.+}/state", handleState(engine)).Methods(http.MethodGet)
		router.HandleFunc("/v1/cache/stats", handleCacheStats(engine)).Methods(http.MethodGet)

		srv := &http.Server{Addr: serveAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		logrus.Infof("Serving diagnostics on %s", serveAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("diagnostics server: %v", err)
		}
	},
}

// feedTraffic keeps the engine warm with deterministic synthetic requests
// so the diagnostics endpoints have state to show.
func feedTraffic(ctx context.Context, engine *pipeline.Engine) {
	gen := workload.NewGenerator(serveSeed, serveRate, nil)
	interval := time.Duration(1000/serveRate) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample := gen.Next()
			pre, err := engine.DecideBefore(sample.Descriptor)
			if err != nil {
				continue
			}
			engine.DecideAfter(sample.Descriptor, pre, sample.Outcome)
		}
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleEndpoints(engine *pipeline.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"endpoints": engine.EndpointKeys()})
	}
}

func handleState(engine *pipeline.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := mux.Vars(r)["key"]
		snap, ok := engine.StateSnapshot(key)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown endpoint key"})
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func handleCacheStats(engine *pipeline.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, engine.CacheStats())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Warnf("encoding diagnostics response: %v", err)
	}
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8090", "diagnostics listen address")
	serveCmd.Flags().Int64Var(&serveSeed, "seed", 42, "seed for background demo traffic")
	serveCmd.Flags().Float64Var(&serveRate, "rate", 5, "background traffic rate (req/s)")
}
