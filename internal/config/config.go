package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every variable read by Load.
const EnvPrefix = "RHYTHMFLOW_"

const (
	NotifyLog   = "log"
	NotifyKafka = "kafka"
)

type Config struct {
	HTTPAddr   string
	GRPCAddr   string
	PGDSN      string
	AuthSecret string
	TokenTTL   time.Duration
	DevTokens  bool

	RateBurst  int
	RatePerSec float64
	CORSOrigin string

	Notify       string
	KafkaBrokers []string
	KafkaTopic   string
}

// LoadDotEnv reads .env from the working directory when present. Variables
// already set in the environment win.
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "config: ignoring unreadable .env: %v\n", err)
	}
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:   getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr:   getEnv("GRPC_ADDR", ":9090"),
		PGDSN:      getEnv("PG_DSN", ""),
		AuthSecret: getEnv("AUTH_SECRET", ""),
		CORSOrigin: getEnv("CORS_ORIGIN", "*"),
		Notify:     strings.ToLower(getEnv("NOTIFY", NotifyLog)),
		KafkaTopic: getEnv("KAFKA_TOPIC", "rhythmflow.class-notices"),
	}
	var errs []error
	var err error

	if cfg.TokenTTL, err = time.ParseDuration(getEnv("TOKEN_TTL", "15m")); err != nil || cfg.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("%sTOKEN_TTL: must be a positive duration", EnvPrefix))
	}
	if cfg.DevTokens, err = strconv.ParseBool(getEnv("DEV_TOKENS", "false")); err != nil {
		errs = append(errs, fmt.Errorf("%sDEV_TOKENS: %w", EnvPrefix, err))
	}
	if cfg.RateBurst, err = strconv.Atoi(getEnv("RATE_BURST", "20")); err != nil || cfg.RateBurst < 1 {
		errs = append(errs, fmt.Errorf("%sRATE_BURST: must be a positive integer", EnvPrefix))
	}
	if cfg.RatePerSec, err = strconv.ParseFloat(getEnv("RATE_PER_SEC", "10"), 64); err != nil || cfg.RatePerSec <= 0 {
		errs = append(errs, fmt.Errorf("%sRATE_PER_SEC: must be a positive number", EnvPrefix))
	}
	if strings.TrimSpace(cfg.AuthSecret) == "" {
		errs = append(errs, fmt.Errorf("%sAUTH_SECRET is required", EnvPrefix))
	}

	for _, b := range strings.Split(getEnv("KAFKA_BROKERS", ""), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}
	switch cfg.Notify {
	case NotifyLog:
	case NotifyKafka:
		if len(cfg.KafkaBrokers) == 0 {
			errs = append(errs, fmt.Errorf("%sKAFKA_BROKERS is required when %sNOTIFY=kafka", EnvPrefix, EnvPrefix))
		}
	default:
		errs = append(errs, fmt.Errorf("%sNOTIFY: unknown notifier %q", EnvPrefix, cfg.Notify))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(EnvPrefix + key))
	if value == "" {
		return defaultValue
	}
	return value
}
