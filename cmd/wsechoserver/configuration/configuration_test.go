package configuration

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Build a getenv function from a map
func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestLoadDefaults(t *testing.T) {
	config, err := load(env(nil))
	require.NoError(t, err)
	require.Equal(t, DefaultAddress, config.Address)
	require.Equal(t, 65536, config.MaxFrameSize)
	require.False(t, config.TracingEnabled)
}

func TestLoad(t *testing.T) {
	config, err := load(env(map[string]string{
		"WSECHO_ADDRESS":               "localhost:9000",
		"WSECHO_MAX_FRAME_SIZE":        "1024",
		"WSECHO_TRACING_ENABLED":       "TRUE",
		"WSECHO_TRACING_OTLP_ENDPOINT": "localhost:4318",
	}))
	require.NoError(t, err)
	require.Equal(t, "localhost:9000", config.Address)
	require.Equal(t, 1024, config.MaxFrameSize)
	require.True(t, config.TracingEnabled)
	require.Equal(t, "localhost:4318", config.TracingEndpoint)
}

func TestLoadInvalid(t *testing.T) {
	_, err := load(env(map[string]string{"WSECHO_MAX_FRAME_SIZE": "big"}))
	require.Error(t, err)
	_, err = load(env(map[string]string{"WSECHO_MAX_FRAME_SIZE": "0"}))
	require.Error(t, err)
	_, err = load(env(map[string]string{"WSECHO_ADDRESS": "nope"}))
	require.Error(t, err)
	_, err = load(env(map[string]string{"WSECHO_TRACING_ENABLED": "1"}))
	require.Error(t, err)
}
