package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"ingest/internal/interfaces/scheduler"
)

// StartServer creates and starts the API server in the background.
func StartServer(addr string, handler http.Handler) *http.Server {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("HTTP server starting on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	return srv
}

// GracefulShutdown stops accepting requests, then the scheduler, then drains
// the worker pool so in-flight syncs finish their current page.
func GracefulShutdown(srv *http.Server, sched *scheduler.Scheduler, pool *scheduler.WorkerPool, timeout time.Duration) {
	log.Println("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}

	if sched != nil {
		sched.Shutdown(timeout)
	}

	if pool != nil {
		pool.ShutdownWithTimeout(timeout)
	}

	log.Println("Server stopped")
}
