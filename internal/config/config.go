// Package config loads the process configuration of canvasd from flags,
// environment (CANVAS_ prefix) and an optional config file through viper,
// plus the YAML file overriding agent definitions and remote tools.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/next-unicorn-dev/canvas/agent"
	"github.com/next-unicorn-dev/canvas/tool"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "CANVAS"

// Keys of the configuration values.
const (
	KeyAddr           = "addr"
	KeyDB             = "db"
	KeyLogLevel       = "log-level"
	KeyLogFormat      = "log-format"
	KeyAgents         = "agents"
	KeyProvider       = "provider"
	KeyOpenAIModel    = "openai-model"
	KeyOpenAIBaseURL  = "openai-base-url"
	KeyAnthropicModel = "anthropic-model"
	KeyRunsPerSecond  = "runs-per-second"
	KeyRunBurst       = "run-burst"
	KeyMaxModelCalls  = "max-model-calls"
	KeyParallelism    = "parallelism"
	KeyToolTimeout    = "tool-timeout"
)

// Config is the resolved process configuration.
type Config struct {
	Addr      string
	DBPath    string
	LogLevel  string
	LogFormat string
	// AgentsFile is a YAML document with `agents:` and `tools:` lists.
	AgentsFile string

	// Provider is used when a request names none.
	Provider       string
	OpenAIModel    string
	OpenAIBaseURL  string
	AnthropicModel string

	RunsPerSecond float64
	RunBurst      int
	MaxModelCalls int
	Parallelism   int
	ToolTimeout   time.Duration
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyAddr, ":8000")
	v.SetDefault(KeyDB, "data/canvas.db")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "json")
	v.SetDefault(KeyProvider, ProviderOpenAI)
	v.SetDefault(KeyOpenAIModel, "gpt-4o-mini")
	v.SetDefault(KeyAnthropicModel, "claude-3-5-sonnet-20241022")
	v.SetDefault(KeyRunsPerSecond, 1.0)
	v.SetDefault(KeyRunBurst, 5)
	v.SetDefault(KeyMaxModelCalls, 25)
	v.SetDefault(KeyParallelism, 4)
	v.SetDefault(KeyToolTimeout, 2*time.Minute)
}

// Init wires environment lookup and, when path is set, reads the config
// file into v.
func Init(v *viper.Viper, path string) error {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}
	return nil
}

// Load resolves v into a Config and validates it.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Addr:           v.GetString(KeyAddr),
		DBPath:         v.GetString(KeyDB),
		LogLevel:       v.GetString(KeyLogLevel),
		LogFormat:      v.GetString(KeyLogFormat),
		AgentsFile:     v.GetString(KeyAgents),
		Provider:       v.GetString(KeyProvider),
		OpenAIModel:    v.GetString(KeyOpenAIModel),
		OpenAIBaseURL:  v.GetString(KeyOpenAIBaseURL),
		AnthropicModel: v.GetString(KeyAnthropicModel),
		RunsPerSecond:  v.GetFloat64(KeyRunsPerSecond),
		RunBurst:       v.GetInt(KeyRunBurst),
		MaxModelCalls:  v.GetInt(KeyMaxModelCalls),
		Parallelism:    v.GetInt(KeyParallelism),
		ToolTimeout:    v.GetDuration(KeyToolTimeout),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unusable values.
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr must not be empty")
	}
	switch c.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return errors.Errorf("unknown provider %q", c.Provider)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return errors.Errorf("unknown log format %q", c.LogFormat)
	}
	if c.MaxModelCalls <= 0 {
		return errors.Errorf("max-model-calls must be positive, got %d", c.MaxModelCalls)
	}
	return nil
}

// Overrides are the agent definitions and remote tools of an agents file.
type Overrides struct {
	Agents []agent.Definition
	Tools  []tool.RemoteSpec
}

// LoadOverrides reads the agents file. An empty path yields no overrides.
func LoadOverrides(path string) (Overrides, error) {
	if path == "" {
		return Overrides{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Overrides{}, errors.Wrap(err, "read agents file")
	}
	return ParseOverrides(data)
}

// ParseOverrides parses an agents document. Both lists are optional.
func ParseOverrides(data []byte) (Overrides, error) {
	defs, err := agent.ParseDefinitions(data)
	if err != nil {
		return Overrides{}, errors.Wrap(err, "agents")
	}
	specs, err := tool.ParseRemoteSpecs(data)
	if err != nil {
		return Overrides{}, errors.Wrap(err, "tools")
	}
	return Overrides{Agents: defs, Tools: specs}, nil
}

// Apply registers the overrides on registry and catalog. Remote tools
// without an explicit timeout use defaultTimeout.
func (o Overrides) Apply(registry *agent.Registry, catalog *tool.Catalog, defaultTimeout time.Duration) error {
	for _, s := range o.Tools {
		if s.Timeout <= 0 {
			s.Timeout = defaultTimeout
		}
		if err := catalog.Add(s.Entry(nil)); err != nil {
			return errors.Wrapf(err, "tool %s", s.Name)
		}
	}
	if len(o.Agents) > 0 {
		if err := registry.Override(o.Agents...); err != nil {
			return errors.Wrap(err, "override agents")
		}
	}
	return nil
}
