// Package logger builds the agent's zerolog loggers.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level      string `json:"level" yaml:"level"`
	Debug      bool   `json:"debug" yaml:"debug"`
	Output     string `json:"output" yaml:"output"`
	TimeFormat string `json:"time_format" yaml:"time_format"`
	// Pretty switches from JSON lines to zerolog's console format.
	Pretty bool `json:"pretty" yaml:"pretty"`
}

func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Output: "stdout",
	}
}

// New returns a logger writing to the configured output.
func New(config Config) (zerolog.Logger, error) {
	var output io.Writer = os.Stdout
	switch config.Output {
	case "", "stdout":
	case "stderr":
		output = os.Stderr
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log output %q", config.Output)
	}
	return NewWithWriter(config, output)
}

func NewWithWriter(config Config, output io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel

	if config.Debug {
		level = zerolog.DebugLevel
	} else if config.Level != "" {
		var err error

		level, err = zerolog.ParseLevel(config.Level)
		if err != nil {
			return zerolog.Nop(), err
		}
	}

	if config.TimeFormat != "" {
		zerolog.TimeFieldFormat = config.TimeFormat
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
	}

	if config.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.Kitchen}
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger(), nil
}

func WithComponent(l zerolog.Logger, component string) zerolog.Logger {
	return l.With().Str("component", component).Logger()
}
