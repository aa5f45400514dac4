package daemon

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/OmidH/llm-to-matrix/internal/llm"
)

// Config holds the bot configuration.
type Config struct {
	// CommandPrefix starts every command, e.g. "!c".
	CommandPrefix string `yaml:"command_prefix"`
	// HTTPAddr is where the operator API listens. Empty disables it.
	HTTPAddr string `yaml:"http_addr"`

	Matrix  MatrixConfig  `yaml:"matrix"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	LLM     LLMConfig     `yaml:"llm"`
}

// MatrixConfig holds Matrix connection settings.
type MatrixConfig struct {
	UserID        string   `yaml:"user_id"`       // e.g., @bot:matrix.example.com
	UserPassword  string   `yaml:"user_password"` // used when no token is given
	UserToken     string   `yaml:"user_token"`
	DeviceID      string   `yaml:"device_id"`
	DeviceName    string   `yaml:"device_name"`
	HomeserverURL string   `yaml:"homeserver_url"`
	AllowedUsers  []string `yaml:"allowed_users"` // empty allows everyone
	DataDir       string   `yaml:"data_dir"`      // saved credentials, defaults to storage.store_path
}

// StorageConfig locates the conversation log.
type StorageConfig struct {
	Database  string `yaml:"database"` // sqlite://path or postgres://...
	StorePath string `yaml:"store_path"`
}

// LoggingConfig selects log level and sinks.
type LoggingConfig struct {
	Level          string `yaml:"level"`
	ConsoleLogging struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"console_logging"`
	FileLogging struct {
		Enabled  bool   `yaml:"enabled"`
		Filepath string `yaml:"filepath"`
	} `yaml:"file_logging"`
}

// LLMConfig holds inference API settings.
type LLMConfig struct {
	Name         string `yaml:"llm_name"`
	BaseURL      string `yaml:"llm_base_url"`
	URLSuffix    string `yaml:"llm_url_suffix"`
	TagsSuffix   string `yaml:"llm_tags_suffix"`
	Model        string `yaml:"llm_model"`
	CodeModel    string `yaml:"llm_code_model"`
	SummaryModel string `yaml:"llm_summary_model"`

	Temperature   float64 `yaml:"llm_param_temp"`
	NumCtx        int     `yaml:"llm_param_num_ctx"`
	NumPredict    int     `yaml:"llm_param_num_predict"`
	RepeatLastN   int     `yaml:"llm_param_repeat_last_n"`
	RepeatPenalty float64 `yaml:"llm_param_repeat_penalty"`
	Seed          int     `yaml:"llm_param_seed"`
	TopK          int     `yaml:"llm_param_top_k"`
	TopP          float64 `yaml:"llm_param_top_p"`
	Stop          string  `yaml:"llm_param_stop"`
	MsgTemplate   string  `yaml:"llm_msg_template"`

	RequestTimeout Duration `yaml:"request_timeout"`
	TypingTimeout  Duration `yaml:"typing_timeout"`
}

// Duration is a time.Duration written as a string like "60s".
type Duration time.Duration

// UnmarshalYAML parses the duration with time.ParseDuration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	Key     string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Message)
}

var userIDPattern = regexp.MustCompile(`^@.*:.*$`)

// LoadConfig reads, resolves and validates the config at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML on top of the defaults and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Resolve env var references in all $-prefixed values
	cfg.Matrix.UserID = resolveEnv(cfg.Matrix.UserID)
	cfg.Matrix.UserPassword = resolveEnv(cfg.Matrix.UserPassword)
	cfg.Matrix.UserToken = resolveEnv(cfg.Matrix.UserToken)
	cfg.Matrix.HomeserverURL = resolveEnv(cfg.Matrix.HomeserverURL)
	cfg.Storage.Database = resolveEnv(cfg.Storage.Database)
	cfg.LLM.BaseURL = resolveEnv(cfg.LLM.BaseURL)
	cfg.LLM.Model = resolveEnv(cfg.LLM.Model)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !userIDPattern.MatchString(c.Matrix.UserID) {
		return &ConfigError{Key: "matrix.user_id", Message: "must be a complete user id like @bot:example.org"}
	}
	if c.Matrix.UserToken == "" && c.Matrix.UserPassword == "" {
		return &ConfigError{Key: "matrix", Message: "user_token or user_password is required"}
	}
	required := []struct{ key, value string }{
		{"matrix.homeserver_url", c.Matrix.HomeserverURL},
		{"llm.llm_base_url", c.LLM.BaseURL},
		{"llm.llm_url_suffix", c.LLM.URLSuffix},
		{"llm.llm_model", c.LLM.Model},
	}
	for _, r := range required {
		if r.value == "" {
			return &ConfigError{Key: r.key, Message: "is required"}
		}
	}
	if !strings.HasPrefix(c.Storage.Database, "sqlite://") &&
		!strings.HasPrefix(c.Storage.Database, "postgres://") &&
		!strings.HasPrefix(c.Storage.Database, "postgresql://") {
		return &ConfigError{Key: "storage.database", Message: "must start with sqlite:// or postgres://"}
	}
	switch strings.ToUpper(c.Logging.Level) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		return &ConfigError{Key: "logging.level", Message: fmt.Sprintf("unknown level %q", c.Logging.Level)}
	}
	return nil
}

// ensureStorePath creates the store directory if missing.
func (c *Config) ensureStorePath() error {
	if c.Storage.StorePath == "" {
		return nil
	}
	info, err := os.Stat(c.Storage.StorePath)
	if os.IsNotExist(err) {
		return os.MkdirAll(c.Storage.StorePath, 0o755)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &ConfigError{Key: "storage.store_path", Message: "is not a directory"}
	}
	return nil
}

// Settings converts the LLM section for the request builder.
func (c *LLMConfig) Settings() llm.Settings {
	return llm.Settings{
		Model:        c.Model,
		CodeModel:    c.CodeModel,
		SummaryModel: c.SummaryModel,
		Template:     c.MsgTemplate,
		Stop:         c.Stop,
		Sampling: llm.Options{
			Temperature:   c.Temperature,
			TopK:          c.TopK,
			TopP:          c.TopP,
			RepeatPenalty: c.RepeatPenalty,
			RepeatLastN:   c.RepeatLastN,
			NumCtx:        c.NumCtx,
			NumPredict:    c.NumPredict,
			Seed:          c.Seed,
		},
	}
}

// resolveEnv replaces $ENV_VAR references with actual values.
func resolveEnv(s string) string {
	if len(s) > 1 && s[0] == '$' {
		if v := os.Getenv(s[1:]); v != "" {
			return v
		}
	}
	return s
}

// defaultConfig returns the values used for keys the file leaves out.
func defaultConfig() *Config {
	cfg := &Config{
		CommandPrefix: "!c",
		HTTPAddr:      envOr("LLMBOT_HTTP_ADDR", ":8080"),
		Matrix: MatrixConfig{
			DeviceName: "llm-to-matrix",
			DataDir:    envOr("LLMBOT_DATA_DIR", ""),
		},
		Storage: StorageConfig{
			Database:  "sqlite://bot.db",
			StorePath: "store",
		},
		LLM: LLMConfig{
			Name:           "LLM",
			TagsSuffix:     "api/tags",
			CodeModel:      llm.DefaultCodeModel,
			SummaryModel:   llm.DefaultSummaryModel,
			Temperature:    0.7,
			NumCtx:         215,
			NumPredict:     -1,
			RepeatLastN:    64,
			RepeatPenalty:  1.2,
			Seed:           -1,
			TopK:           40,
			TopP:           0.95,
			RequestTimeout: Duration(10 * time.Minute),
			TypingTimeout:  Duration(60 * time.Second),
		},
	}
	cfg.Logging.Level = "INFO"
	cfg.Logging.ConsoleLogging.Enabled = true
	cfg.Logging.FileLogging.Filepath = "bot.log"
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
