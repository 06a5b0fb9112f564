package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"ingest/internal/domain/consent"
	"ingest/internal/domain/openfinance"
	"ingest/internal/shared/middleware"
)

// ConsentService is the consent lifecycle used by BankHandler.
type ConsentService interface {
	BuildAuthorizationRedirect(ctx context.Context, userID int64) (string, error)
	GetConsentStatus(ctx context.Context, userID int64) (consent.Availability, error)
	GetValidConsent(ctx context.Context, userID int64) (*consent.Record, error)
}

// TokenExchanger completes the authorization code flow.
type TokenExchanger interface {
	ExchangeCodeForTokens(ctx context.Context, code, state string) error
}

// BankHandler exposes the bank consent flow and manual resync.
type BankHandler struct {
	consents   ConsentService
	tokens     TokenExchanger
	discovery  openfinance.Discoverer
	successURL string
}

func NewBankHandler(consents ConsentService, tokens TokenExchanger, discovery openfinance.Discoverer, successURL string) *BankHandler {
	return &BankHandler{
		consents:   consents,
		tokens:     tokens,
		discovery:  discovery,
		successURL: successURL,
	}
}

type ConsentURLResponse struct {
	URL string `json:"url"`
}

type ConsentStatusResponse struct {
	Status consent.Availability `json:"status"`
}

type SyncResponse struct {
	ConsentID     string   `json:"consentId"`
	AccountsFound int      `json:"accountsFound"`
	Created       int      `json:"created"`
	Dispatched    int      `json:"dispatched"`
	Errors        []string `json:"errors,omitempty"`
}

// HandleCreateConsent handles GET /api/bt/consent/create
func (h *BankHandler) HandleCreateConsent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	url, err := h.consents.BuildAuthorizationRedirect(r.Context(), userID)
	if err != nil {
		log.Printf("User %d: failed to create consent: %v", userID, err)
		if errors.Is(err, consent.ErrProvider) {
			http.Error(w, "Bank is unavailable", http.StatusBadGateway)
			return
		}
		http.Error(w, "Failed to create consent", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ConsentURLResponse{URL: url})
}

// HandleConsentStatus handles GET /api/bt/consent/status
func (h *BankHandler) HandleConsentStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	status, err := h.consents.GetConsentStatus(r.Context(), userID)
	if err != nil {
		log.Printf("User %d: failed to read consent status: %v", userID, err)
		http.Error(w, "Failed to read consent status", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ConsentStatusResponse{Status: status})
}

// HandleCallback handles GET /bt/callback, the redirect target of the bank's
// authorization page. It is not behind Auth: the state parameter identifies
// the consent.
func (h *BankHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	if oauthError := query.Get("error"); oauthError != "" {
		log.Printf("Bank callback returned error %q", oauthError)
		http.Error(w, "Authorization was not granted", http.StatusBadRequest)
		return
	}

	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		http.Error(w, "Code and state are required", http.StatusBadRequest)
		return
	}

	if err := h.tokens.ExchangeCodeForTokens(r.Context(), code, state); err != nil {
		switch {
		case errors.Is(err, openfinance.ErrUnknownState):
			http.Error(w, "Unknown or expired authorization request", http.StatusBadRequest)
		case errors.Is(err, openfinance.ErrTokenExchange):
			log.Printf("Bank callback: %v", err)
			http.Error(w, "Failed to exchange authorization code", http.StatusBadRequest)
		default:
			log.Printf("Bank callback: %v", err)
			http.Error(w, "Failed to complete authorization", http.StatusInternalServerError)
		}
		return
	}

	http.Redirect(w, r, h.successURL, http.StatusFound)
}

// HandleSyncAccounts handles POST /api/bt/accounts/sync
func (h *BankHandler) HandleSyncAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	record, err := h.consents.GetValidConsent(r.Context(), userID)
	if err != nil {
		if errors.Is(err, consent.ErrNotFound) {
			http.Error(w, "No valid bank consent", http.StatusNotFound)
			return
		}
		log.Printf("User %d: failed to load consent: %v", userID, err)
		http.Error(w, "Failed to load consent", http.StatusInternalServerError)
		return
	}

	result, err := h.discovery.DiscoverAccounts(r.Context(), record)
	if err != nil {
		log.Printf("User %d: account discovery failed: %v", userID, err)
		switch {
		case errors.Is(err, openfinance.ErrAuthExpired):
			http.Error(w, "Bank consent expired", http.StatusConflict)
		case errors.Is(err, openfinance.ErrProviderUnavailable):
			http.Error(w, "Bank is unavailable", http.StatusBadGateway)
		default:
			http.Error(w, "Failed to sync accounts", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SyncResponse{
		ConsentID:     result.ConsentID,
		AccountsFound: result.AccountsFound,
		Created:       result.Created,
		Dispatched:    result.Dispatched,
		Errors:        result.Errors,
	})
}
