package internal

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Host string `env:"HOST,default=0.0.0.0"`
	Port int    `env:"PORT,default=8080"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath  string `env:"BLUGE_FILEPATH,required=true"`
	WordListPath   string `env:"WORD_LIST_PATH"`

	LogLevel string `env:"LOG_LEVEL,default=INFO"`

	TokenSecret   string        `env:"TOKEN_SECRET,required=true"`
	TokenIssuer   string        `env:"TOKEN_ISSUER,default=campus-chat"`
	TokenLifetime time.Duration `env:"TOKEN_LIFETIME,default=24h"`

	NumberOfWorkers int           `env:"NUMBER_OF_WORKERS,default=4"`
	BufferSize      int           `env:"BUFFER_SIZE,default=256"`
	SinkTimeout     time.Duration `env:"SINK_TIMEOUT,default=2s"`

	TypingWindow  time.Duration `env:"TYPING_WINDOW,default=6s"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL,default=10s"`

	DebugPort int `env:"DEBUG_PORT,default=8081"`
}

// Validate rejects values the engine cannot run with before anything
// is opened.
func (c Config) Validate() error {
	if strings.TrimSpace(c.TokenSecret) == "" {
		return fmt.Errorf("TOKEN_SECRET must not be blank")
	}
	if len(c.TokenSecret) < 32 {
		return fmt.Errorf("TOKEN_SECRET must be at least 32 bytes, got %d", len(c.TokenSecret))
	}
	if c.NumberOfWorkers < 1 {
		return fmt.Errorf("NUMBER_OF_WORKERS must be positive, got %d", c.NumberOfWorkers)
	}
	if c.BufferSize < 1 {
		return fmt.Errorf("BUFFER_SIZE must be positive, got %d", c.BufferSize)
	}
	return nil
}
