// Package settings exposes runtime-tunable platform settings persisted in the
// store. Settings are written by admins and read on the hot path, so reads go
// through a short-lived cache.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sketchsage/server/internal/storage"
)

// Setting keys as stored in system_settings.
const (
	KeyDefaultWelcomeCredits = "default_welcome_credits"
	KeyMaxImageSizeMB        = "max_image_size_mb"
	KeyMaxVideoSizeMB        = "max_video_size_mb"
	KeyQuestionsPerEval      = "questions_per_evaluation"
	KeyStripePublishableKey  = "stripe_publishable_key"
	KeyGoogleOAuthEnabled    = "google_oauth_enabled"
	KeyFacebookOAuthEnabled  = "facebook_oauth_enabled"
)

// Settings is the typed view of the system_settings table.
type Settings struct {
	DefaultWelcomeCredits  int    `json:"default_welcome_credits"`
	MaxImageSizeMB         int    `json:"max_image_size_mb"`
	MaxVideoSizeMB         int    `json:"max_video_size_mb"`
	QuestionsPerEvaluation int    `json:"questions_per_evaluation"`
	StripePublishableKey   string `json:"stripe_publishable_key"`
	GoogleOAuthEnabled     bool   `json:"google_oauth_enabled"`
	FacebookOAuthEnabled   bool   `json:"facebook_oauth_enabled"`
}

// Defaults returns the settings in effect before any admin override.
func Defaults() Settings {
	return Settings{
		DefaultWelcomeCredits:  3,
		MaxImageSizeMB:         10,
		MaxVideoSizeMB:         100,
		QuestionsPerEvaluation: 3,
	}
}

// Service reads and writes settings with a TTL cache in front of the store.
type Service struct {
	store  storage.Store
	ttl    time.Duration
	logger zerolog.Logger

	mu        sync.RWMutex
	cached    Settings
	fetchedAt time.Time
}

// NewService creates a settings service. A zero cacheTTL disables caching.
func NewService(store storage.Store, cacheTTL time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		ttl:    cacheTTL,
		logger: logger.With().Str("component", "settings").Logger(),
	}
}

// Get returns the current settings, serving from cache when fresh.
func (s *Service) Get(ctx context.Context) (Settings, error) {
	if s.ttl > 0 {
		s.mu.RLock()
		if time.Since(s.fetchedAt) < s.ttl {
			cached := s.cached
			s.mu.RUnlock()
			return cached, nil
		}
		s.mu.RUnlock()
	}

	loaded, err := s.load(ctx)
	if err != nil {
		return Settings{}, err
	}

	s.mu.Lock()
	s.cached = loaded
	s.fetchedAt = time.Now()
	s.mu.Unlock()

	return loaded, nil
}

func (s *Service) load(ctx context.Context) (Settings, error) {
	raw, err := s.store.GetSettings(ctx)
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}

	out := Defaults()
	decode := func(key string, dst any) {
		value, ok := raw[key]
		if !ok {
			return
		}
		if err := json.Unmarshal(value, dst); err != nil {
			// A malformed value falls back to the default rather than
			// taking the platform down.
			s.logger.Warn().Err(err).Str("key", key).Msg("settings.value_malformed")
		}
	}

	decode(KeyDefaultWelcomeCredits, &out.DefaultWelcomeCredits)
	decode(KeyMaxImageSizeMB, &out.MaxImageSizeMB)
	decode(KeyMaxVideoSizeMB, &out.MaxVideoSizeMB)
	decode(KeyQuestionsPerEval, &out.QuestionsPerEvaluation)
	decode(KeyStripePublishableKey, &out.StripePublishableKey)
	decode(KeyGoogleOAuthEnabled, &out.GoogleOAuthEnabled)
	decode(KeyFacebookOAuthEnabled, &out.FacebookOAuthEnabled)

	return out, nil
}

// Set writes a single setting and invalidates the cache.
func (s *Service) Set(ctx context.Context, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return fmt.Errorf("setting %q: value is not valid JSON", key)
	}
	if err := s.store.SetSetting(ctx, key, value); err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}

	s.mu.Lock()
	s.fetchedAt = time.Time{}
	s.mu.Unlock()

	s.logger.Info().Str("key", key).Msg("settings.updated")
	return nil
}

// Invalidate drops the cache so the next Get hits the store.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.fetchedAt = time.Time{}
	s.mu.Unlock()
}
