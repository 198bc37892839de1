package widget

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/guarzo/commentproxy/common"
	"github.com/guarzo/commentproxy/common/model"
)

// WidgetService serves the configuration of the embeddable comment widget.
// Per-thread configuration lives only in the widget cache.
type WidgetService interface {
	Config(ctx context.Context, threadID string) (*model.WidgetConfig, error)
	UpdateConfig(ctx context.Context, threadID string, patch []byte) (*model.WidgetConfig, error)
	Themes(ctx context.Context) ([]model.WidgetTheme, error)
	Embed(ctx context.Context, threadID string) (*model.WidgetEmbed, error)
	Preview(ctx context.Context, patch []byte) (*model.WidgetPreview, error)
}

const (
	minMaxComments = 1
	maxMaxComments = 1000

	// DefaultScriptURL is where embed snippets load the widget from unless configured otherwise.
	DefaultScriptURL = "/static/js/widgetv01.js"
)

var (
	validThemes    = []string{"default", "dark", "light", "custom"}
	validPositions = []string{"bottom-right", "bottom-left", "top-right", "top-left", "inline"}
)

// DefaultConfig returns a fresh copy of the built-in widget configuration.
func DefaultConfig() model.WidgetConfig {
	return model.WidgetConfig{
		Theme:             "default",
		Position:          "bottom-right",
		MaxComments:       50,
		AutoLoad:          true,
		ShowTimestamps:    true,
		AllowAnonymous:    false,
		RequireModeration: true,
		CustomCSS:         "",
		Colors: model.WidgetColors{
			Primary:    "#007bff",
			Secondary:  "#6c757d",
			Background: "#ffffff",
			Text:       "#212529",
		},
	}
}

var themes = []model.WidgetTheme{
	{ID: "default", Name: "Default", Description: "Clean, modern design with neutral colors", Preview: "/static/css/themes/default.css"},
	{ID: "dark", Name: "Dark", Description: "Dark theme for better contrast", Preview: "/static/css/themes/dark.css"},
	{ID: "light", Name: "Light", Description: "Bright, minimal design", Preview: "/static/css/themes/light.css"},
	{ID: "custom", Name: "Custom", Description: "Fully customizable theme", Preview: "/static/css/themes/custom.css"},
}

type widgetService struct {
	cache     common.CacheRepository[[]byte]
	scriptURL string
	logger    zerolog.Logger
}

// NewWidgetService wires the service; an empty scriptURL selects DefaultScriptURL.
func NewWidgetService(cache common.CacheRepository[[]byte], scriptURL string, logger zerolog.Logger) WidgetService {
	if scriptURL == "" {
		scriptURL = DefaultScriptURL
	}
	return &widgetService{
		cache:     cache,
		scriptURL: scriptURL,
		logger:    logger.With().Str("component", "widget").Logger(),
	}
}

func configKey(threadID string) string {
	if threadID == "" {
		return "widget:config:default"
	}
	return "widget:config:" + threadID
}

func (s *widgetService) Config(ctx context.Context, threadID string) (*model.WidgetConfig, error) {
	threadID = strings.TrimSpace(threadID)
	cfg, err := common.FetchCachedJSON(s.cache, configKey(threadID), func() (model.WidgetConfig, error) {
		cfg := DefaultConfig()
		cfg.ThreadID = threadID
		return cfg, nil
	})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergePatch applies a JSON patch over the defaults and validates the result.
func mergePatch(patch []byte) (model.WidgetConfig, error) {
	cfg := DefaultConfig()
	if len(bytes.TrimSpace(patch)) > 0 {
		if err := validatePatch(patch); err != nil {
			return cfg, err
		}
		if err := json.Unmarshal(patch, &cfg); err != nil {
			return cfg, common.Invalid("config", "invalid JSON: %v", err)
		}
	}
	return cfg, Validate(cfg)
}

// UpdateConfig merges the JSON patch over the defaults, validates the result
// and stores it for the thread (or the default slot).
func (s *widgetService) UpdateConfig(ctx context.Context, threadID string, patch []byte) (*model.WidgetConfig, error) {
	threadID = strings.TrimSpace(threadID)

	cfg, err := mergePatch(patch)
	if err != nil {
		return nil, err
	}
	if threadID != "" {
		cfg.ThreadID = threadID
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode widget config: %w", err)
	}
	s.cache.Set(configKey(threadID), data)

	s.logger.Info().Str("thread_id", threadID).Str("theme", cfg.Theme).Str("position", cfg.Position).Msg("widget config updated")
	return &cfg, nil
}

// Validate checks the enumerated fields of a widget configuration.
func Validate(cfg model.WidgetConfig) error {
	if !contains(validThemes, cfg.Theme) {
		return common.Invalid("theme", "must be one of: %s", strings.Join(validThemes, ", "))
	}
	if !contains(validPositions, cfg.Position) {
		return common.Invalid("position", "must be one of: %s", strings.Join(validPositions, ", "))
	}
	if cfg.MaxComments < minMaxComments || cfg.MaxComments > maxMaxComments {
		return common.Invalid("max_comments", "must be between %d and %d", minMaxComments, maxMaxComments)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (s *widgetService) Themes(ctx context.Context) ([]model.WidgetTheme, error) {
	return common.FetchCachedJSON(s.cache, "widget:themes", func() ([]model.WidgetTheme, error) {
		return append([]model.WidgetTheme(nil), themes...), nil
	})
}

func (s *widgetService) Embed(ctx context.Context, threadID string) (*model.WidgetEmbed, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, common.Invalid("thread_id", "is required")
	}

	cfg, err := s.Config(ctx, threadID)
	if err != nil {
		return nil, err
	}

	html, script, err := renderEmbed(threadID, s.scriptURL, *cfg)
	if err != nil {
		return nil, err
	}

	return &model.WidgetEmbed{
		ThreadID:    threadID,
		EmbedHTML:   html,
		EmbedScript: script,
		Config:      *cfg,
	}, nil
}

// Preview renders a configuration without storing it.
func (s *widgetService) Preview(ctx context.Context, patch []byte) (*model.WidgetPreview, error) {
	cfg, err := mergePatch(patch)
	if err != nil {
		return nil, err
	}

	html, err := renderPreview(cfg)
	if err != nil {
		return nil, err
	}
	return &model.WidgetPreview{PreviewHTML: html, Config: cfg}, nil
}
