package configuration

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Default address the echo server listens on
const DefaultAddress = "0.0.0.0:8081"

type Configuration struct {
	// Address the echo server listens on
	Address string `validate:"required,hostname_port"`
	// Maximum size of a frame or a reassembled message
	MaxFrameSize int `validate:"gte=1"`
	// Indicates whether tracing is enabled or not
	TracingEnabled bool
	// Endpoint of the OTLP/HTTP tracing backend
	TracingEndpoint string `validate:"required_if=TracingEnabled true"`
}

// # Description
//
// Load the configuration from the environment:
//   - WSECHO_ADDRESS: listen address (default 0.0.0.0:8081)
//   - WSECHO_MAX_FRAME_SIZE: maximum frame size (default 65536)
//   - WSECHO_TRACING_ENABLED: true or 1 to export traces
//   - WSECHO_TRACING_OTLP_ENDPOINT: OTLP/HTTP endpoint used when tracing is enabled
//
// # Return
//
// The validated configuration or an error.
func LoadConfiguration() (Configuration, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Configuration, error) {
	config := Configuration{
		Address:         getenv("WSECHO_ADDRESS"),
		MaxFrameSize:    65536,
		TracingEnabled:  strings.ToLower(getenv("WSECHO_TRACING_ENABLED")) == "true" || getenv("WSECHO_TRACING_ENABLED") == "1",
		TracingEndpoint: getenv("WSECHO_TRACING_OTLP_ENDPOINT"),
	}
	if config.Address == "" {
		config.Address = DefaultAddress
	}
	if raw := getenv("WSECHO_MAX_FRAME_SIZE"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return Configuration{}, fmt.Errorf("invalid WSECHO_MAX_FRAME_SIZE: %w", err)
		}
		config.MaxFrameSize = size
	}
	if err := validator.New().Struct(config); err != nil {
		return Configuration{}, err
	}
	return config, nil
}
