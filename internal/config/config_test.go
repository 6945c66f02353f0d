package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultWindow, cfg.DefaultWindow)
	assert.Equal(t, DefaultDailyCutoff, cfg.DailyCutoff)
	assert.True(t, cfg.AutoCloseEnabled)
	assert.Equal(t, DefaultAutoCloseInterval, cfg.AutoCloseInterval)
}

func TestLoad_InvalidWindow(t *testing.T) {
	setEnv(t, "SETTLEMENT_DEFAULT_WINDOW", "Weekly")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "SETTLEMENT_DEFAULT_WINDOW")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "valid config",
			config: Config{
				DefaultWindow:      "Hourly",
				Port:               "8080",
				DBStatementTimeout: 30000,
			},
			wantErr: "",
		},
		{
			name: "invalid window",
			config: Config{
				DefaultWindow:      "Weekly",
				Port:               "8080",
				DBStatementTimeout: 30000,
			},
			wantErr: "SETTLEMENT_DEFAULT_WINDOW",
		},
		{
			name: "invalid port",
			config: Config{
				DefaultWindow:      "Hourly",
				Port:               "not-a-port",
				DBStatementTimeout: 30000,
			},
			wantErr: "PORT must be a number",
		},
		{
			name: "statement timeout too low",
			config: Config{
				DefaultWindow:      "Hourly",
				Port:               "8080",
				DBStatementTimeout: 10,
			},
			wantErr: "POSTGRES_STATEMENT_TIMEOUT",
		},
		{
			name: "write timeout below request timeout",
			config: Config{
				DefaultWindow:      "Hourly",
				Port:               "8080",
				DBStatementTimeout: 30000,
				HTTPWriteTimeout:   1 * time.Second,
				RequestTimeout:     5 * time.Second,
			},
			wantErr: "HTTP_WRITE_TIMEOUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestGetEnvBool(t *testing.T) {
	setEnv(t, "TEST_BOOL", "false")
	assert.False(t, getEnvBool("TEST_BOOL", true))
	assert.True(t, getEnvBool("NONEXISTENT_BOOL", true))
}
