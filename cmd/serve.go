package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/atelierdata/specpipe/internal/model"
	"github.com/atelierdata/specpipe/internal/monitoring"
	"github.com/atelierdata/specpipe/internal/pipeline"
	"github.com/atelierdata/specpipe/internal/review"
	"github.com/atelierdata/specpipe/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP submission and verification API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		// In-flight background batches must drain before the store closes.
		var batches sync.WaitGroup
		defer batches.Wait()

		if cfg.Monitoring.WebhookURL != "" {
			checker := monitoring.NewChecker(e.Metrics, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		r := chi.NewRouter()
		r.Use(chimiddleware.RequestID)
		r.Use(chimiddleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, e.Metrics.Snapshot())
		})

		r.Post("/batch", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				ProjectID    string   `json:"project_id"`
				URLs         []string `json:"urls"`
				ForceRefresh bool     `json:"force_refresh"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if len(body.URLs) == 0 {
				writeError(w, http.StatusBadRequest, "urls is required")
				return
			}
			if body.ProjectID == "" {
				body.ProjectID = "default"
			}

			// Batches run in the background; outcomes land in the store.
			batches.Add(1)
			go func() {
				defer batches.Done()
				outcomes := e.Pipeline.RunBatch(ctx, body.ProjectID, body.URLs, pipeline.Options{
					ForceRefresh: body.ForceRefresh,
				})
				accepted := 0
				for _, out := range outcomes {
					if out.Status == model.OutcomeAccepted {
						accepted++
					}
				}
				zap.L().Info("batch submission complete",
					zap.String("project_id", body.ProjectID),
					zap.Int("urls", len(outcomes)),
					zap.Int("accepted", accepted),
				)
			}()

			writeJSON(w, http.StatusAccepted, map[string]any{
				"status":     "accepted",
				"project_id": body.ProjectID,
				"urls":       len(body.URLs),
			})
		})

		r.Get("/verifications", func(w http.ResponseWriter, req *http.Request) {
			limit := 20
			if q := req.URL.Query().Get("limit"); q != "" {
				if n, convErr := strconv.Atoi(q); convErr == nil {
					limit = n
				}
			}
			pending, err := e.Queue.Pending(req.Context(), limit)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			if pending == nil {
				pending = []model.VerificationRequest{}
			}
			writeJSON(w, http.StatusOK, pending)
		})

		r.Post("/verifications/{id}/claim", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Reviewer string `json:"reviewer"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			resolved, err := e.Queue.Claim(req.Context(), chi.URLParam(req, "id"), body.Reviewer)
			if err != nil {
				writeQueueError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, resolved)
		})

		r.Post("/verifications/{id}/resolve", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Reviewer    string       `json:"reviewer"`
				Corrections model.Fields `json:"corrections"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			resolved, err := e.Queue.Resolve(req.Context(), chi.URLParam(req, "id"), body.Corrections, body.Reviewer)
			if err != nil {
				writeQueueError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, resolved)
		})

		r.Post("/verifications/{id}/cancel", func(w http.ResponseWriter, req *http.Request) {
			cancelled, err := e.Queue.Cancel(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeQueueError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, cancelled)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeQueueError maps queue errors onto HTTP statuses.
func writeQueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, review.ErrTerminalState):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
