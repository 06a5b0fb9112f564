package main

import (
	"net/http"

	httphandlers "ingest/internal/interfaces/http"
	"ingest/internal/shared/config"
	"ingest/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config, metrics http.Handler) http.Handler {
	mux := http.NewServeMux()

	// Health check and metrics
	mux.HandleFunc("/health", httphandlers.HandleHealth)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	// Bank redirect target; the state parameter identifies the consent
	mux.HandleFunc("/bt/callback", deps.BankHandler.HandleCallback)

	// Protected routes
	authMiddleware := middleware.Auth(deps.JWT)

	mux.Handle("/api/bt/consent/create", authMiddleware(http.HandlerFunc(deps.BankHandler.HandleCreateConsent)))
	mux.Handle("/api/bt/consent/status", authMiddleware(http.HandlerFunc(deps.BankHandler.HandleConsentStatus)))
	mux.Handle("/api/bt/accounts/sync", authMiddleware(http.HandlerFunc(deps.BankHandler.HandleSyncAccounts)))
	mux.Handle("/api/notifications/register-device/", authMiddleware(http.HandlerFunc(deps.NotificationHandler.HandleRegisterDevice)))

	// Apply global middleware
	handler := middleware.Logging(middleware.CORS(cfg.Server.AllowedHosts)(mux))
	handler = middleware.Tracing(handler)

	return handler
}
