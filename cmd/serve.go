package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wildsight/spot-pipeline/internal/catalog"
	"github.com/wildsight/spot-pipeline/internal/model"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the catalog over HTTP",
	Long:  "Read-only REST surface. Every spot is served with its verification status and confidence; quarantined and unverified records are deliberate, inspectable states, not errors, so no endpoint filters them out by default.",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntP("port", "p", 0, "HTTP server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	port, _ := cmd.Flags().GetInt("port")
	if port == 0 {
		port = cfg.Server.Port
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/spots", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		minConf, _ := strconv.ParseFloat(q.Get("min_confidence"), 64)
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))

		spots, err := store.ListSpots(req.Context(), catalog.SpotFilter{
			Status:        model.VerificationStatus(q.Get("status")),
			Category:      model.Category(q.Get("category")),
			MinConfidence: minConf,
			Limit:         limit,
			Offset:        offset,
		})
		if err != nil {
			serveError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"spots": spots, "count": len(spots)})
	})

	r.Get("/spots/{id}", func(w http.ResponseWriter, req *http.Request) {
		spot, err := store.GetSpot(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			serveError(w, err)
			return
		}
		if spot == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "spot not found"})
			return
		}
		writeJSON(w, http.StatusOK, spot)
	})

	r.Get("/audit", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))

		entries, err := store.ListAudit(req.Context(), catalog.AuditFilter{
			Kind:     model.AuditKind(q.Get("kind")),
			SpotID:   q.Get("spot_id"),
			SourceID: q.Get("source_id"),
			Limit:    limit,
		})
		if err != nil {
			serveError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
	})

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	zap.L().Info("starting catalog server", zap.String("addr", addr))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func serveError(w http.ResponseWriter, err error) {
	zap.L().Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
