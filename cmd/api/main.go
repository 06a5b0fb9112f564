package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ingest/internal/interfaces/scheduler"
	"ingest/internal/shared/config"
	"ingest/internal/shared/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()

	tel, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		Environment:    cfg.Telemetry.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		MetricsPort:    cfg.Telemetry.MetricsPort,
		DisableTracing: !cfg.Telemetry.Enabled,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down telemetry: %v", err)
		}
	}()

	deps, err := NewDependencies(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	deps.Pool.Start()
	go logJobResults(deps.JobResults)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.NewScheduler(scheduler.SchedulerConfig{
			ScheduleTimes: cfg.Scheduler.ScheduleTimes,
			RunOnStartup:  cfg.Scheduler.RunOnStartup,
			Pool:          deps.Pool,
			JobProvider:   scheduler.ValidConsentJobs(deps.Consents, deps.Discovery),
		})
		if err != nil {
			deps.Pool.Shutdown()
			return err
		}
		sched.Start()
		log.Printf("Scheduler started with times: %v, next run at %s",
			sched.GetScheduleTimes(), sched.GetNextScheduledTime().Format(time.RFC3339))
	} else {
		log.Println("Scheduler is disabled")
	}

	handler := SetupRoutes(deps, cfg, tel.MetricsHandler())
	srv := StartServer(cfg.Server.Host+":"+cfg.Server.Port, handler)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	GracefulShutdown(srv, sched, deps.Pool, 30*time.Second)
	return nil
}

// logJobResults drains the pool completion channel for the life of the process.
func logJobResults(results <-chan scheduler.JobResult) {
	for result := range results {
		if result.Err != nil {
			log.Printf("Job %q for user %s failed after %v: %v", result.Description, result.UserID, result.Duration, result.Err)
		}
	}
}
