package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	MessageStorePostgres  = "postgres"
	MessageStoreFirestore = "firestore"
)

// Config holds the project config values
type Config struct {
	ServerUrl    string
	DatabaseUrl  string
	Env          string
	MessageStore string
	// How long a realtime connection may stay unauthenticated.
	AuthTimeout time.Duration
	// Upper bound for one optimistic send before it is rolled back.
	SendTimeout time.Duration
}

// New loads .env when present, reads the environment and installs the zap
// logger for APP_ENV as the global logger.
func New() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env file: %w", err)
	}

	conf := &Config{
		ServerUrl:    getenv("SERVER_URL", ":3003"),
		DatabaseUrl:  os.Getenv("DATABASE_URL"),
		Env:          getenv("APP_ENV", "production"),
		MessageStore: getenv("MESSAGE_STORE", MessageStorePostgres),
	}

	var err error
	if conf.AuthTimeout, err = duration("AUTH_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if conf.SendTimeout, err = SendTimeout(); err != nil {
		return nil, err
	}
	if conf.MessageStore != MessageStorePostgres && conf.MessageStore != MessageStoreFirestore {
		return nil, fmt.Errorf("MESSAGE_STORE must be %q or %q, got %q", MessageStorePostgres, MessageStoreFirestore, conf.MessageStore)
	}

	//setup zap logger and replace default logger
	logger, err := NewLogger(conf.Env)
	if err != nil {
		return nil, err
	}
	_ = zap.ReplaceGlobals(logger)

	return conf, nil
}

// SendTimeout reads SEND_TIMEOUT, the bound for one optimistic send.
func SendTimeout() (time.Duration, error) {
	return duration("SEND_TIMEOUT", 15*time.Second)
}

// NewLogger picks the zap preset for the environment.
func NewLogger(env string) (*zap.Logger, error) {
	switch env {
	case "local":
		return zap.NewExample(), nil
	case "development":
		return zap.NewDevelopment()
	default:
		return zap.NewProduction()
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}
