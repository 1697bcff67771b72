package history

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSettingsRepository_LoadDefaults(t *testing.T) {
	repo := NewSettingsRepository(newSQLite(t), nil)

	s, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestSettingsRepository_Singleton(t *testing.T) {
	ctx := context.Background()
	db := newSQLite(t)
	repo := NewSettingsRepository(db, nil)

	var last Settings
	for i, lang := range []string{"en-US", "fr-FR", "de-DE", "ja-JP", "es-ES"} {
		last = Settings{
			Language:         lang,
			Speed:            0.5 + float64(i)*0.25,
			Text:             "hello " + lang,
			IsOptimizeWithAI: i%2 == 0,
		}
		require.NoError(t, repo.Save(ctx, last))
	}

	raw, err := db.GetAll(ctx, StoreSettings, "")
	require.NoError(t, err)
	assert.Len(t, raw, 1)

	loaded, err := repo.Load(ctx)
	require.NoError(t, err)
	last.ID = SettingsKey
	assert.Equal(t, last, loaded)
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name    string
		s       Settings
		wantErr bool
	}{
		{"defaults", DefaultSettings(), false},
		{"min speed", Settings{Language: "en-US", Speed: 0.5}, false},
		{"max speed", Settings{Language: "en-US", Speed: 2.0}, false},
		{"speed too low", Settings{Language: "en-US", Speed: 0.4}, true},
		{"speed too high", Settings{Language: "en-US", Speed: 2.1}, true},
		{"unknown language", Settings{Language: "xx-XX", Speed: 1}, true},
		{"missing language", Settings{Speed: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSettings)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewValidator_LanguageTag(t *testing.T) {
	type request struct {
		Language string `validate:"omitempty,language"`
	}
	v := NewValidator()

	assert.NoError(t, v.Struct(request{}))
	assert.NoError(t, v.Struct(request{Language: "es-ES"}))
	assert.Error(t, v.Struct(request{Language: "xx-XX"}))
}

func TestSettingsRepository_SaveRejectsInvalid(t *testing.T) {
	db := &mockDB{}
	repo := NewSettingsRepository(db, nil)

	err := repo.Save(context.Background(), Settings{Language: "en-US", Speed: 3})
	assert.ErrorIs(t, err, ErrInvalidSettings)
	db.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything)
}

func TestSettingsRepository_SaveFailure(t *testing.T) {
	db := &mockDB{}
	db.On("Put", mock.Anything, StoreSettings, mock.Anything).Return(errors.New("locked"))
	repo := NewSettingsRepository(db, nil)

	err := repo.Save(context.Background(), DefaultSettings())
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestSettingsRepository_LoadFailureReturnsDefaults(t *testing.T) {
	db := &mockDB{}
	db.On("GetAll", mock.Anything, StoreSettings, "").Return(nil, errors.New("gone"))
	repo := NewSettingsRepository(db, nil)

	s, err := repo.Load(context.Background())
	assert.Error(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestLanguages(t *testing.T) {
	langs := Languages()
	require.NotEmpty(t, langs)
	assert.True(t, IsSupportedLanguage(DefaultLanguage))
	assert.False(t, IsSupportedLanguage("tlh"))

	langs[0].Code = "changed"
	assert.NotEqual(t, "changed", Languages()[0].Code, "Languages returns a copy")
}
