package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/recoverguard/platform/internal/activity"
	"github.com/recoverguard/platform/internal/adapters/ehr"
	"github.com/recoverguard/platform/internal/alert"
	"github.com/recoverguard/platform/internal/audit"
	"github.com/recoverguard/platform/internal/detection"
	"github.com/recoverguard/platform/internal/ingest"
	"github.com/recoverguard/platform/internal/notification"
	"github.com/recoverguard/platform/internal/patient"
	"github.com/recoverguard/platform/internal/shared/auth"
	"github.com/recoverguard/platform/internal/shared/config"
	"github.com/recoverguard/platform/internal/shared/database"
	"github.com/recoverguard/platform/internal/shared/events"
	"github.com/recoverguard/platform/internal/shared/metrics"
	secmiddleware "github.com/recoverguard/platform/internal/shared/middleware"
)

// App holds all application dependencies
type App struct {
	Config *config.Config
	DB     *database.DB
	Bus    *events.Bus

	Patients patient.Repository
	Alerts   alert.Repository
	Audit    audit.Repository
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	app := &App{Config: cfg}

	// Initialize database (optional - skip if not available)
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		fmt.Printf("Warning: Database not available: %v\n", err)
		fmt.Println("Running in limited mode with in-memory stores...")
	} else {
		app.DB = db
		defer db.Close()

		// Run migrations
		if err := database.Migrate(ctx, db.Pool); err != nil {
			fmt.Printf("Warning: Migration failed: %v\n", err)
		}
	}

	// Initialize event bus with KurrentDB (optional - skip if not available)
	bus, err := events.NewBus(ctx, cfg.KurrentDB)
	if err != nil {
		fmt.Printf("Warning: KurrentDB not available: %v\n", err)
		fmt.Println("Running without event streaming...")
	} else {
		app.Bus = bus
		defer bus.Close()
		fmt.Println("KurrentDB Event Bus initialized")
	}

	// Repositories: Postgres when the database is up, in-memory otherwise.
	// The audit chain prefers the append-only event store when available.
	if app.DB != nil {
		app.Patients = patient.NewPostgresRepository(app.DB.Pool)
		app.Alerts = alert.NewPostgresRepository(app.DB.Pool)
		app.Audit = audit.NewPostgresRepository(app.DB.Pool)
	} else {
		app.Patients = patient.NewMemoryRepository()
		app.Alerts = alert.NewMemoryRepository()
		app.Audit = audit.NewMemoryRepository()
	}
	if app.Bus != nil {
		auditRepo := audit.NewKurrentDBRepository(app.Bus.Client())
		if err := auditRepo.Initialize(ctx); err != nil {
			fmt.Printf("Warning: Audit stream initialization failed: %v\n", err)
		} else {
			app.Audit = auditRepo
			fmt.Println("Audit trail backed by KurrentDB")
		}
	}

	// Event publishing is optional; services skip it when no bus is up
	var publisher *events.Bus
	if app.Bus != nil {
		publisher = app.Bus
	}
	var alertPub alert.Publisher
	var patientPub patient.Publisher
	var ingestPub ingest.Publisher
	if publisher != nil {
		alertPub = publisher
		patientPub = publisher
		ingestPub = publisher
	}

	// Care-team notification fan-out
	var notifier alert.Notifier
	var notifySvc *notification.Service
	if cfg.Notify.Enabled {
		providers := map[notification.Channel]notification.Provider{
			notification.ChannelNurseQueue:    notification.NewConsoleProvider("NURSE QUEUE"),
			notification.ChannelPhysicianPage: notification.NewConsoleProvider("PHYSICIAN PAGE"),
		}
		notifySvc = notification.NewService(providers, cfg.Notify)
		if err := notifySvc.Start(ctx); err != nil {
			fmt.Printf("Warning: Notification service failed to start: %v\n", err)
		} else {
			notifier = notifySvc
			defer notifySvc.Stop()
		}
	}

	// Recent-activity feed projected from the event stream
	var feed *activity.Feed
	if app.Bus != nil {
		feed = activity.NewFeed(256)
		for _, pattern := range []string{"alert.*", "consent.*", "reading.*"} {
			if err := app.Bus.Subscribe(ctx, pattern, feed.Record); err != nil {
				fmt.Printf("Warning: activity subscription %q failed: %v\n", pattern, err)
			}
		}
	}

	// Core services
	engine := detection.NewPolicyEngine(cfg.Detection)
	alertSvc := alert.NewService(app.Alerts, app.Audit, app.Patients, engine, alertPub, notifier)
	patientSvc := patient.NewService(app.Patients, app.Audit, patientPub)
	ingestSvc := ingest.NewService(app.Patients, alertSvc, cfg.Detection, ingestPub)

	// EHR discharge-feed importer (optional)
	if cfg.EHR.Enabled {
		adapter := ehr.New(cfg.EHR, app.Patients)
		if err := adapter.Start(ctx); err != nil {
			fmt.Printf("Warning: EHR adapter failed to start: %v\n", err)
		} else {
			fmt.Printf("EHR discharge feed polling every %s\n", cfg.EHR.PollInterval)
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				adapter.Stop(stopCtx)
			}()
		}
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(metrics.Middleware)
	r.Use(corsMiddleware)

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler(app))
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())

	// API info
	r.Get("/", infoHandler)

	// Patient-submitted traffic gets a per-IP budget
	ingestLimiter := secmiddleware.NewIPRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// role gates only bite in production, where the JWT middleware runs
		passthrough := func(next http.Handler) http.Handler { return next }
		careTeam, auditors := passthrough, passthrough
		if cfg.Server.Env == "production" {
			r.Use(auth.Middleware(cfg.Auth))
			careTeam = auth.RequireRoles(auth.RoleNurse, auth.RolePhysician, auth.RoleAdmin)
			auditors = auth.RequireRoles(auth.RoleAuditor, auth.RoleAdmin)
		}

		r.Mount("/patients", patient.NewHandler(patientSvc).Routes())
		r.With(ingestLimiter.Middleware, secmiddleware.MaxBody(1<<20)).
			Mount("/ingest", ingest.NewHandler(ingestSvc).Routes())
		r.With(careTeam).Mount("/alerts", alert.NewHandler(alertSvc).Routes())
		r.With(auditors).Mount("/audit", audit.NewHandler(app.Audit).Routes())
		if feed != nil {
			r.With(careTeam).Mount("/activity", activity.NewHandler(feed).Routes())
		}

		r.Get("/metrics/summary", metricsSummaryHandler(app))
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		fmt.Println("\nShutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			fmt.Printf("Server shutdown error: %v\n", err)
		}
		close(done)
	}()

	fmt.Println("============================================")
	fmt.Println("RecoverGuard Post-Discharge Monitoring")
	fmt.Println("============================================")
	fmt.Printf("Environment:    %s\n", cfg.Server.Env)
	fmt.Printf("Server:         http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("API:            http://localhost:%d/api/v1\n", cfg.Server.Port)
	fmt.Printf("Health:         http://localhost:%d/health\n", cfg.Server.Port)
	fmt.Printf("Red threshold:  %.2f\n", cfg.Detection.RedThreshold)
	fmt.Printf("Yellow thresh:  %.2f\n", cfg.Detection.YellowThreshold)
	fmt.Printf("EHR feed:       %v\n", cfg.EHR.Enabled)
	fmt.Printf("KurrentDB:      %s:%d\n", cfg.KurrentDB.Host, cfg.KurrentDB.Port)
	fmt.Println("============================================")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}

	<-done
	fmt.Println("Server stopped")
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "RecoverGuard Post-Discharge Monitoring Platform",
		"version": "0.1.0",
		"docs":    "/api/v1",
	})
}

func healthHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
		})
	}
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		// Check database
		if app.DB != nil {
			if err := app.DB.Health(r.Context()); err != nil {
				checks["database"] = "not ready: " + err.Error()
			} else {
				checks["database"] = "ready"
			}
		} else {
			checks["database"] = "not configured"
		}

		// Check KurrentDB
		if app.Bus != nil {
			if err := app.Bus.Health(); err != nil {
				checks["kurrentdb"] = "not ready: " + err.Error()
			} else {
				checks["kurrentdb"] = "ready"
			}
		} else {
			checks["kurrentdb"] = "not configured"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}

// metricsSummaryHandler reports program-level counts for the ops dashboard
func metricsSummaryHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		patients, err := app.Patients.Count(ctx)
		if err != nil {
			http.Error(w, "failed to count patients", http.StatusInternalServerError)
			return
		}
		total, err := app.Alerts.Count(ctx)
		if err != nil {
			http.Error(w, "failed to count alerts", http.StatusInternalServerError)
			return
		}
		bySeverity, err := app.Alerts.CountBySeverity(ctx)
		if err != nil {
			http.Error(w, "failed to count alerts by severity", http.StatusInternalServerError)
			return
		}
		open := alert.StatusOpen
		openAlerts, err := app.Alerts.List(ctx, alert.ListFilter{Status: &open})
		if err != nil {
			http.Error(w, "failed to list open alerts", http.StatusInternalServerError)
			return
		}
		avgConfidence := 0.0
		for _, a := range openAlerts {
			avgConfidence += a.Confidence
		}
		if len(openAlerts) > 0 {
			avgConfidence /= float64(len(openAlerts))
		}
		auditEntries, err := app.Audit.Count(ctx)
		if err != nil {
			http.Error(w, "failed to count audit entries", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"patients_monitored": patients,
			"alerts_total":       total,
			"alerts_open":        len(openAlerts),
			"alerts_by_severity": bySeverity,
			"avg_confidence":     avgConfidence,
			"audit_entries":      auditEntries,
			"generated_at":       time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
