package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/horizonte-ai/atlas/internal/model"
	"github.com/horizonte-ai/atlas/internal/monitoring"
	"github.com/horizonte-ai/atlas/internal/session"
)

var servePort int

// queuedRun is one accepted analysis waiting for a worker.
type queuedRun struct {
	run    *model.AnalysisRun
	runAll bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the analysis HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		workers := cfg.Analysis.MaxConcurrentAnalyses
		jobs := make(chan queuedRun, workers*4)

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for job := range jobs {
					runAnalysis(ctx, env, job)
				}
			}()
		}

		// Background threshold checks while the server runs.
		if cfg.Monitoring.WebhookURL != "" {
			checker := monitoring.NewChecker(env.Collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		} else {
			zap.L().Debug("ATLAS_MONITORING_WEBHOOK_URL not set, alert checker disabled")
		}

		api := &apiServer{store: env.Store, collector: env.Collector, jobs: jobs}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.Int("workers", workers))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		// Drain queued runs; with the context gone they fail fast and are
		// recorded as failed.
		close(jobs)
		wg.Wait()

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// runAnalysis executes one queued run and logs the outcome. Failures are
// already persisted on the run record by the pipeline.
func runAnalysis(ctx context.Context, env *analysisEnv, job queuedRun) {
	log := zap.L().With(
		zap.String("run_id", job.run.ID),
		zap.String("company", job.run.Submission.Company),
	)

	report, err := env.Pipeline.Execute(ctx, job.run, job.runAll)
	if err != nil {
		log.Error("analysis failed", zap.Error(err))
		return
	}

	md, _ := report[model.MetadataKey].(model.Metadata)
	log.Info("analysis complete",
		zap.String("quality_tier", string(md.QualityTier)),
		zap.Float64("cost_usd", md.TotalCostActualUSD),
		zap.Float64("duration_s", md.ProcessingTimeSeconds),
	)
}

// apiServer carries what the HTTP handlers need. Enqueued runs are picked up
// by the serve command's worker pool.
type apiServer struct {
	store     session.Store
	collector *monitoring.Collector
	jobs      chan queuedRun
}

func (s *apiServer) router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", s.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/analyses", s.createAnalysis)
		r.Get("/analyses", s.listAnalyses)
		r.Get("/analyses/{id}", s.getAnalysis)
		r.Get("/stats", s.stats)
	})

	return r
}

func (s *apiServer) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) createAnalysis(w http.ResponseWriter, r *http.Request) {
	var req struct {
		model.Submission
		AllStages bool `json:"all_stages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if err := req.Submission.Validate(); err != nil {
		http.Error(w, `{"error":"company is required"}`, http.StatusBadRequest)
		return
	}

	run, err := s.store.CreateRun(r.Context(), req.Submission)
	if err != nil {
		zap.L().Error("create run failed", zap.Error(err))
		http.Error(w, `{"error":"could not create run"}`, http.StatusInternalServerError)
		return
	}

	select {
	case s.jobs <- queuedRun{run: run, runAll: req.AllStages}:
	default:
		// The queue is full; record the rejection on the run so the client
		// can see what happened to its id.
		_ = s.store.FailRun(r.Context(), run.ID, "analysis queue full")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"id":    run.ID,
			"error": "analysis queue full",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":    run.ID,
		"state": string(run.State),
	})
}

func (s *apiServer) getAnalysis(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		zap.L().Error("get run failed", zap.Error(err))
		http.Error(w, `{"error":"could not load run"}`, http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, `{"error":"run not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *apiServer) listAnalyses(w http.ResponseWriter, r *http.Request) {
	filter := session.RunFilter{
		State: model.ProcessingState(r.URL.Query().Get("state")),
		Limit: 50,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, `{"error":"limit must be a positive integer"}`, http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("list runs failed", zap.Error(err))
		http.Error(w, `{"error":"could not list runs"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *apiServer) stats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.collector.Snapshot(r.Context())
	if err != nil {
		zap.L().Error("stats snapshot failed", zap.Error(err))
		http.Error(w, `{"error":"could not collect stats"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs one line per request with the chi request id.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
