// Svapnad runs the consolidation daemon: periodic svapna cycles over the
// configured project plus monthly/yearly report synthesis on period
// boundaries, with a small HTTP surface for health and progress.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/svapna/pkg/config"
	"github.com/codeready-toolchain/svapna/pkg/database"
	"github.com/codeready-toolchain/svapna/pkg/eventbus"
	"github.com/codeready-toolchain/svapna/pkg/report"
	"github.com/codeready-toolchain/svapna/pkg/store"
	"github.com/codeready-toolchain/svapna/pkg/svapna"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	httpPort := getEnv("HTTP_PORT", "8080")
	gin.SetMode(getEnv("GIN_MODE", "release"))

	cfg, err := config.Initialize(*configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := database.NewClient(ctx, database.FromAppConfig(cfg.Database))
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("error closing database client", "error", err)
		}
	}()
	slog.Info("connected to database", "host", cfg.Database.Host, "database", cfg.Database.Database)

	st := store.New(dbClient)
	bus := eventbus.New()
	bus.OnEvent(func(e eventbus.Event) {
		slog.Debug("event", "kind", string(e.Kind), "project", e.Project)
	})

	pipeline := svapna.New(st, cfg.Svapna, bus)
	synthesizer := report.New(st, cfg.Report, cfg.Svapna.Project, bus)

	interval, err := time.ParseDuration(getEnv("SVAPNA_INTERVAL", "6h"))
	if err != nil {
		log.Fatalf("Invalid SVAPNA_INTERVAL: %v", err)
	}
	go runConsolidationLoop(ctx, pipeline, interval)
	go runReportLoop(ctx, synthesizer)

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		status := database.CheckHealth(reqCtx, dbClient.DB.DB)
		code := http.StatusOK
		if !status.Healthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"database": status})
	})

	router.GET("/stats", func(c *gin.Context) {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		state, err := st.GetNidraState(reqCtx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		reports, err := synthesizer.ListReports()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"project": cfg.Svapna.Project,
			"nidra":   state,
			"reports": reports,
		})
	})

	srv := &http.Server{Addr: ":" + httpPort, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("svapnad listening", "port", httpPort, "project", cfg.Svapna.Project)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("HTTP server error: %v", err)
	}
}

// runConsolidationLoop runs one svapna cycle per interval until ctx ends.
func runConsolidationLoop(ctx context.Context, pipeline *svapna.Pipeline, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := pipeline.Run(ctx, nil)
			if err != nil {
				slog.Error("consolidation cycle failed", "error", err)
				continue
			}
			slog.Info("consolidation cycle complete",
				"cycle_id", result.CycleID,
				"sessions", result.Sessions,
				"vasanas_created", result.Crystallize.Created,
				"vidhis_created", result.Proceduralize.Created)
		}
	}
}

// runReportLoop backfills the previous month's and year's reports once they
// are missing, checking hourly so a boundary crossing is picked up soon
// after it happens.
func runReportLoop(ctx context.Context, syn *report.Synthesizer) {
	check := func() {
		now := time.Now().UTC()
		// Last day of the previous month; AddDate(0, -1, 0) would normalize
		// e.g. March 31 into early March again.
		prevMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
		if !syn.HasMonthlyReport(prevMonth.Year(), prevMonth.Month()) {
			if _, err := syn.Monthly(ctx, prevMonth.Year(), prevMonth.Month()); err != nil {
				slog.Error("monthly report synthesis failed", "error", err)
			}
		}
		prevYear := now.Year() - 1
		if !syn.HasYearlyReport(prevYear) {
			if _, err := syn.Yearly(ctx, prevYear); err != nil {
				slog.Error("yearly report synthesis failed", "error", err)
			}
		}
	}

	check()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}
