package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"

	"github.com/maauso/voicedesk/internal/objectstore"
)

// SettingsKey is the fixed key of the settings singleton.
const SettingsKey = "current"

// Speed limits of synthesized speech.
const (
	MinSpeed     = 0.5
	MaxSpeed     = 2.0
	DefaultSpeed = 1.0
)

// ErrInvalidSettings is returned when settings fail validation.
var ErrInvalidSettings = errors.New("history: invalid settings")

// Settings is the persisted speech form state. Exactly one record exists.
type Settings struct {
	ID               string  `json:"id"`
	Language         string  `json:"language" validate:"required,language"`
	Speed            float64 `json:"speed" validate:"gte=0.5,lte=2"`
	Text             string  `json:"text"`
	IsOptimizeWithAI bool    `json:"isOptimizeWithAI"`
	Voice            string  `json:"voice,omitempty"`
}

// DefaultSettings returns the settings used before any are saved.
func DefaultSettings() Settings {
	return Settings{
		ID:       SettingsKey,
		Language: DefaultLanguage,
		Speed:    DefaultSpeed,
	}
}

var settingsValidator = NewValidator()

// NewValidator returns a validator that understands the "language" tag,
// which accepts only the supported language codes.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("language", func(fl validator.FieldLevel) bool {
		return IsSupportedLanguage(fl.Field().String())
	})
	return v
}

// Validate checks the language is supported and the speed is in range.
func (s Settings) Validate() error {
	if err := settingsValidator.Struct(s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return nil
}

// SettingsRepository persists the settings singleton.
type SettingsRepository struct {
	db     objectstore.DB
	logger *slog.Logger
}

// NewSettingsRepository creates a settings repository.
func NewSettingsRepository(db objectstore.DB, logger *slog.Logger) *SettingsRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsRepository{db: db, logger: logger}
}

// Load returns the stored settings, or the defaults when none are stored.
func (r *SettingsRepository) Load(ctx context.Context) (Settings, error) {
	raw, err := r.db.GetAll(ctx, StoreSettings, "")
	if err != nil {
		return DefaultSettings(), fmt.Errorf("load settings: %w", err)
	}

	for _, data := range raw {
		var s Settings
		if err := sonic.Unmarshal(data, &s); err != nil {
			r.logger.Warn("skipping undecodable settings record",
				slog.String("error", err.Error()),
			)
			continue
		}
		if s.ID == SettingsKey {
			return s, nil
		}
	}
	return DefaultSettings(), nil
}

// Save validates s and replaces the stored settings with it.
func (r *SettingsRepository) Save(ctx context.Context, s Settings) error {
	s.ID = SettingsKey
	if err := s.Validate(); err != nil {
		return err
	}
	if err := r.db.Put(ctx, StoreSettings, s); err != nil {
		return fmt.Errorf("%w: save settings: %w", ErrPersistence, err)
	}
	return nil
}
