package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
matrix:
  user_id: "@bot:example.org"
  user_password: secret
  homeserver_url: https://matrix.example.org
llm:
  llm_base_url: http://localhost:11434
  llm_url_suffix: api/generate
  llm_model: llama2:latest
`

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "!c", cfg.CommandPrefix)
	assert.Equal(t, "sqlite://bot.db", cfg.Storage.Database)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.True(t, cfg.Logging.ConsoleLogging.Enabled)
	assert.Equal(t, "api/tags", cfg.LLM.TagsSuffix)
	assert.Equal(t, 0.7, cfg.LLM.Temperature)
	assert.Equal(t, 215, cfg.LLM.NumCtx)
	assert.Equal(t, -1, cfg.LLM.NumPredict)
	assert.Equal(t, 64, cfg.LLM.RepeatLastN)
	assert.Equal(t, 1.2, cfg.LLM.RepeatPenalty)
	assert.Equal(t, -1, cfg.LLM.Seed)
	assert.Equal(t, 40, cfg.LLM.TopK)
	assert.Equal(t, 0.95, cfg.LLM.TopP)
	assert.Empty(t, cfg.LLM.Stop)
	assert.Equal(t, 60*time.Second, time.Duration(cfg.LLM.TypingTimeout))
	assert.Equal(t, 10*time.Minute, time.Duration(cfg.LLM.RequestTimeout))
}

func TestParseConfigOverrides(t *testing.T) {
	cfg, err := ParseConfig([]byte(minimalConfig + `
  llm_param_temp: 0.2
  llm_param_stop: "</s>"
  llm_msg_template: "[INST] {message} [/INST]"
  typing_timeout: 30s
command_prefix: "!bot"
logging:
  level: DEBUG
  file_logging:
    enabled: true
    filepath: /tmp/bot.log
`))
	require.NoError(t, err)

	assert.Equal(t, "!bot", cfg.CommandPrefix)
	assert.Equal(t, 0.2, cfg.LLM.Temperature)
	assert.Equal(t, 30*time.Second, time.Duration(cfg.LLM.TypingTimeout))
	assert.True(t, cfg.Logging.FileLogging.Enabled)
	assert.True(t, cfg.Logging.ConsoleLogging.Enabled, "unset nested keys keep defaults")

	s := cfg.LLM.Settings()
	assert.Equal(t, "llama2:latest", s.Model)
	assert.Equal(t, "</s>", s.Stop)
	assert.Equal(t, 0.2, s.Sampling.Temperature)
	assert.Equal(t, 40, s.Sampling.TopK)
}

func TestParseConfigResolvesEnv(t *testing.T) {
	t.Setenv("LLMBOT_TEST_PASSWORD", "from-env")
	cfg, err := ParseConfig([]byte(`
matrix:
  user_id: "@bot:example.org"
  user_password: $LLMBOT_TEST_PASSWORD
  homeserver_url: https://matrix.example.org
llm:
  llm_base_url: http://localhost:11434
  llm_url_suffix: api/generate
  llm_model: llama2
`))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Matrix.UserPassword)
}

func TestParseConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		key  string
	}{
		{"bad user id", `
matrix: {user_id: bot, user_password: x, homeserver_url: h}
llm: {llm_base_url: b, llm_url_suffix: s, llm_model: m}`, "matrix.user_id"},
		{"no credentials", `
matrix: {user_id: "@bot:example.org", homeserver_url: h}
llm: {llm_base_url: b, llm_url_suffix: s, llm_model: m}`, "matrix"},
		{"no model", `
matrix: {user_id: "@bot:example.org", user_token: t, homeserver_url: h}
llm: {llm_base_url: b, llm_url_suffix: s}`, "llm.llm_model"},
		{"bad database", `
matrix: {user_id: "@bot:example.org", user_token: t, homeserver_url: h}
storage: {database: "mysql://x"}
llm: {llm_base_url: b, llm_url_suffix: s, llm_model: m}`, "storage.database"},
		{"bad level", `
matrix: {user_id: "@bot:example.org", user_token: t, homeserver_url: h}
logging: {level: LOUD}
llm: {llm_base_url: b, llm_url_suffix: s, llm_model: m}`, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			var cerr *ConfigError
			require.True(t, errors.As(err, &cerr), "want ConfigError, got %v", err)
			assert.Equal(t, tt.key, cerr.Key)
		})
	}
}

func TestParseConfigBadDuration(t *testing.T) {
	_, err := ParseConfig([]byte(minimalConfig + "  typing_timeout: soon\n"))
	require.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestEnsureStorePath(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	cfg := &Config{Storage: StorageConfig{StorePath: dir}}
	require.NoError(t, cfg.ensureStorePath())
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	cfg.Storage.StorePath = file
	var cerr *ConfigError
	assert.True(t, errors.As(cfg.ensureStorePath(), &cerr))
}
