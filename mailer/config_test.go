package mailer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testConfigYAML = `
default: transactional
from: "Example <noreply@example.com>"
mailers:
  transactional:
    transport: sendgrid
    options:
      tracking_settings:
        click_tracking:
          enable: false
  debug:
    transport: log
services:
  sendgrid:
    api_key: file-key
    timeout: 15s
`

type testServiceConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mail.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, testConfigYAML))
	require.NoError(t, err)

	require.Equal(t, "transactional", cfg.Default)
	require.Equal(t, "Example <noreply@example.com>", cfg.From)
	require.Len(t, cfg.Mailers, 2)
	require.Equal(t, "sendgrid", cfg.Mailers["transactional"].Transport)
	require.Equal(t, "log", cfg.Mailers["debug"].Transport)

	tracking, ok := cfg.Mailers["transactional"].Options["tracking_settings"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, tracking, "click_tracking")

	var service testServiceConfig
	require.NoError(t, cfg.DecodeService("sendgrid", &service))
	require.Equal(t, "file-key", service.APIKey)
	require.Equal(t, 15*time.Second, service.Timeout)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("SENDGRID_API_KEY", "env-key")
	t.Setenv("MAIL_DEFAULT", "debug")

	cfg, err := LoadConfig(writeConfig(t, testConfigYAML))
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Default)

	var service testServiceConfig
	require.NoError(t, cfg.DecodeService("sendgrid", &service))
	require.Equal(t, "env-key", service.APIKey)
}

func TestLoadConfigEnvironmentOnly(t *testing.T) {
	t.Setenv("SENDGRID_API_KEY", "env-key")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, defaultMailerName, cfg.Default)
	require.Equal(t, "log", cfg.Mailers[defaultMailerName].Transport)

	var service testServiceConfig
	require.NoError(t, cfg.DecodeService("sendgrid", &service))
	require.Equal(t, "env-key", service.APIKey)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDecodeServiceMissingSection(t *testing.T) {
	cfg := &Config{}
	service := testServiceConfig{APIKey: "unchanged"}
	require.NoError(t, cfg.DecodeService("sendgrid", &service))
	require.Equal(t, "unchanged", service.APIKey)
}

func TestDecodeServiceTimeoutUnits(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  time.Duration
	}{
		{name: "bare integer is seconds", value: 60, want: 60 * time.Second},
		{name: "float is seconds", value: 1.5, want: 1500 * time.Millisecond},
		{name: "numeric string is seconds", value: "45", want: 45 * time.Second},
		{name: "duration string", value: "250ms", want: 250 * time.Millisecond},
		{name: "duration value", value: 2 * time.Second, want: 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Services: map[string]map[string]any{
				"sendgrid": {"api_key": "k", "timeout": tt.value},
			}}

			var service testServiceConfig
			require.NoError(t, cfg.DecodeService("sendgrid", &service))
			require.Equal(t, tt.want, service.Timeout)
		})
	}
}

func TestLoadConfigIntegerTimeout(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
services:
  sendgrid:
    api_key: k
    timeout: 60
`))
	require.NoError(t, err)

	var service testServiceConfig
	require.NoError(t, cfg.DecodeService("sendgrid", &service))
	require.Equal(t, 60*time.Second, service.Timeout)
}

func TestDecodeServiceRejectsBadTimeout(t *testing.T) {
	cfg := &Config{Services: map[string]map[string]any{
		"sendgrid": {"timeout": "soon"},
	}}

	var service testServiceConfig
	require.Error(t, cfg.DecodeService("sendgrid", &service))
}
