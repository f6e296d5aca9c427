package config

import (
	"sync"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/pkg/errors"

	"github.com/next-unicorn-dev/canvas/model"
	"github.com/next-unicorn-dev/canvas/model/anthropic"
	"github.com/next-unicorn-dev/canvas/model/openai"
)

// Supported model providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Models resolves provider/model pairs to adapters. Adapters are created
// once per pair and reused.
type Models struct {
	cfg Config

	mu    sync.Mutex
	cache map[string]model.Model
}

// NewModels creates a resolver using cfg's defaults.
func NewModels(cfg Config) *Models {
	return &Models{cfg: cfg, cache: make(map[string]model.Model)}
}

// Resolve returns the model for provider and name. Empty values fall back
// to the configured provider and its default model.
func (m *Models) Resolve(provider, name string) (model.Model, error) {
	if provider == "" {
		provider = m.cfg.Provider
	}
	if name == "" {
		switch provider {
		case ProviderOpenAI:
			name = m.cfg.OpenAIModel
		case ProviderAnthropic:
			name = m.cfg.AnthropicModel
		}
	}

	key := provider + "/" + name
	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.cache[key]; ok {
		return cached, nil
	}

	var created model.Model
	switch provider {
	case ProviderOpenAI:
		created = openai.NewModel(func(o *openai.Options) {
			o.Model = name
			o.BaseURL = m.cfg.OpenAIBaseURL
		})
	case ProviderAnthropic:
		created = anthropic.NewModel(func(o *anthropic.Options) {
			o.Model = anthropicsdk.Model(name)
		})
	default:
		return nil, errors.Errorf("unsupported model provider %q", provider)
	}
	m.cache[key] = created
	return created, nil
}
