package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitaflow/realtime-go-sdk/api"
)

const testConfig = `
base_url: http://localhost:3000
token: static-token
reconnect_interval: 2s
max_reconnect_attempts: 3
debounce_window: 250ms
event_types:
  - student_checkin
  - student_checkout
key_patterns:
  dashboard_keyword: overview
redis:
  address: localhost:6379
  prefix: "app:"
`

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig([]byte(testConfig))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:3000", cfg.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.ReconnectInterval)
	assert.Equal(t, 3, cfg.MaxReconnectAttempts)
	assert.Equal(t, []api.EventType{api.EventType_StudentCheckin, api.EventType_StudentCheckout}, cfg.EventTypes)
	require.NotNil(t, cfg.Redis)
	assert.Equal(t, "app:", cfg.Redis.Prefix)

	options := cfg.options()
	options.CheckDefaults()
	assert.Equal(t, 250*time.Millisecond, options.DebounceWindow)
	assert.Equal(t, "overview", options.KeyPatterns.DashboardKeyword)
	assert.Equal(t, "active-group-visits", options.KeyPatterns.GroupVisitsPrefix)
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing base url":      "token: abc\n",
		"bad base url":          "base_url: not a url\n",
		"negative attempts":     "base_url: http://localhost\nmax_reconnect_attempts: -1\n",
		"redis without address": "base_url: http://localhost\nredis:\n  prefix: x\n",
		"not yaml":              "base_url: [",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseConfig([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestNewSession_Token(t *testing.T) {
	t.Setenv("REALTIME_TOKEN", "")
	token = ""

	_, _, err := newSession(&Config{BaseURL: "http://localhost"}, nil)
	assert.Error(t, err)

	session, closeSession, err := newSession(&Config{BaseURL: "http://localhost", Token: "from-file"}, nil)
	require.NoError(t, err)
	defer closeSession()
	assert.Equal(t, api.SessionStatus_Authenticated, session.Status())
	assert.Equal(t, "from-file", session.Token())

	t.Setenv("REALTIME_TOKEN", "from-env")
	session, _, err = newSession(&Config{BaseURL: "http://localhost", Token: "from-file"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "from-env", session.Token())
}

func TestVersionCommand(t *testing.T) {
	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "eventtail ")
}
