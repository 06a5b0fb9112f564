package notification

import (
	"context"
	"log"
	"strconv"

	"ingest/internal/shared/messages"
)

type Service struct {
	repo      Repository
	messenger Messenger
	texts     *messages.Messages
}

// NewService creates a notification service. messenger may be nil when push
// delivery is not configured; sends then become no-ops. A nil texts uses the
// built-in defaults.
func NewService(repo Repository, messenger Messenger, texts *messages.Messages) *Service {
	if texts == nil {
		texts = messages.Default()
	}
	return &Service{repo: repo, messenger: messenger, texts: texts}
}

// RegisterDevice stores a device token for the user. A token already owned by
// another user is reassigned.
func (s *Service) RegisterDevice(ctx context.Context, params CreateDeviceTokenParams) (*DeviceToken, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return s.repo.UpsertDeviceToken(ctx, params)
}

// SendToUser pushes a notification to every active device of the user.
func (s *Service) SendToUser(ctx context.Context, userID int64, title, body, category string, data map[string]string) error {
	if !IsValidCategory(category) {
		return ErrInvalidCategory
	}

	tokens, err := s.repo.GetActiveTokensByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		log.Printf("No active device tokens for user %d", userID)
		return nil
	}

	if data == nil {
		data = make(map[string]string)
	}
	if _, ok := data["route"]; !ok {
		data["route"] = category
	}

	if s.messenger == nil {
		return nil
	}

	tokenStrings := make([]string, len(tokens))
	for i, t := range tokens {
		tokenStrings[i] = t.Token
	}

	return s.messenger.SendMulticast(ctx, tokenStrings, title, body, data)
}

// NotifyConsentExpired tells the user their bank access lapsed and a new
// consent is needed before imports can resume.
func (s *Service) NotifyConsentExpired(ctx context.Context, userID int64, consentID string) error {
	text := s.texts.ConsentExpired
	err := s.SendToUser(ctx, userID, text.Title, text.Body, CategoryBanking,
		map[string]string{"route": "bank-consent", "consentId": consentID},
	)
	if err != nil {
		log.Printf("User %d: failed to send consent-expired notification: %v", userID, err)
	}
	return err
}

// NotifyImportComplete tells the user how many new entries one account sync
// added. Nothing is sent when the count is zero.
func (s *Service) NotifyImportComplete(ctx context.Context, userID int64, accountLabel string, count int) error {
	if count <= 0 {
		return nil
	}
	text := s.texts.ImportComplete.Format(map[string]string{
		"count":   strconv.Itoa(count),
		"account": accountLabel,
	})
	err := s.SendToUser(ctx, userID, text.Title, text.Body, CategoryBanking,
		map[string]string{"route": "transactions"},
	)
	if err != nil {
		log.Printf("User %d: failed to send import notification: %v", userID, err)
	}
	return err
}
