package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the call orchestration engine.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string
	LogFormat        string

	AllowAnyOrigin bool

	DatabaseURL string

	KafkaBrokers      []string
	KafkaJobsTopic    string
	KafkaResultsTopic string
	KafkaGroupID      string

	RecordingDir           string
	RecordingMinChunkBytes int
	RecordingBufferChunks  int

	HangupGrace   time.Duration
	TransferGrace time.Duration
	ResultSettle  time.Duration

	DTMFToneMs  int
	DTMFPauseMs int

	GoodbyeText          string
	TransferAnnouncement string

	DefaultSTTProvider string
	DefaultLLMProvider string
	DefaultTTSProvider string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:               envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:       envOrDefault("APP_METRICS_NAMESPACE", "calliope"),
		LogLevel:               envOrDefault("APP_LOG_LEVEL", "info"),
		LogFormat:              envOrDefault("APP_LOG_FORMAT", "json"),
		AllowAnyOrigin:         false,
		DatabaseURL:            stringsTrimSpace("DATABASE_URL"),
		KafkaJobsTopic:         envOrDefault("KAFKA_JOBS_TOPIC", "call-jobs"),
		KafkaResultsTopic:      envOrDefault("KAFKA_RESULTS_TOPIC", "call-results"),
		KafkaGroupID:           envOrDefault("KAFKA_GROUP_ID", "calliope-engine"),
		RecordingDir:           envOrDefault("RECORDING_DIR", "recordings"),
		RecordingMinChunkBytes: 50,
		RecordingBufferChunks:  3,
		HangupGrace:            3 * time.Second,
		TransferGrace:          6 * time.Second,
		ResultSettle:           2 * time.Second,
		DTMFToneMs:             100,
		DTMFPauseMs:            50,
		GoodbyeText:            envOrDefault("CALL_GOODBYE_TEXT", "Thank you for calling. Goodbye."),
		TransferAnnouncement:   envOrDefault("CALL_TRANSFER_TEXT", "Please hold while I transfer you."),
		DefaultSTTProvider:     envOrDefault("DEFAULT_STT_PROVIDER", "mock"),
		DefaultLLMProvider:     envOrDefault("DEFAULT_LLM_PROVIDER", "mock"),
		DefaultTTSProvider:     envOrDefault("DEFAULT_TTS_PROVIDER", "mock"),
		ShutdownTimeout:        15 * time.Second,
	}
	if brokers := stringsTrimSpace("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = trimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HangupGrace, err = durationFromEnv("CALL_HANGUP_GRACE", cfg.HangupGrace)
	if err != nil {
		return Config{}, err
	}
	cfg.TransferGrace, err = durationFromEnv("CALL_TRANSFER_GRACE", cfg.TransferGrace)
	if err != nil {
		return Config{}, err
	}
	cfg.ResultSettle, err = durationFromEnv("RESULT_SETTLE", cfg.ResultSettle)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.RecordingMinChunkBytes, err = intFromEnv("RECORDING_MIN_CHUNK_BYTES", cfg.RecordingMinChunkBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.RecordingBufferChunks, err = intFromEnv("RECORDING_BUFFER_CHUNKS", cfg.RecordingBufferChunks)
	if err != nil {
		return Config{}, err
	}
	cfg.DTMFToneMs, err = intFromEnv("DTMF_TONE_MS", cfg.DTMFToneMs)
	if err != nil {
		return Config{}, err
	}
	cfg.DTMFPauseMs, err = intFromEnv("DTMF_PAUSE_MS", cfg.DTMFPauseMs)
	if err != nil {
		return Config{}, err
	}

	if cfg.HangupGrace <= 0 {
		return Config{}, fmt.Errorf("CALL_HANGUP_GRACE must be positive")
	}
	if cfg.TransferGrace <= 0 {
		return Config{}, fmt.Errorf("CALL_TRANSFER_GRACE must be positive")
	}
	if cfg.ResultSettle <= 0 {
		return Config{}, fmt.Errorf("RESULT_SETTLE must be positive")
	}
	if cfg.RecordingMinChunkBytes <= 0 {
		return Config{}, fmt.Errorf("RECORDING_MIN_CHUNK_BYTES must be positive")
	}
	if cfg.RecordingBufferChunks < 0 {
		return Config{}, fmt.Errorf("RECORDING_BUFFER_CHUNKS must be >= 0")
	}
	if cfg.DTMFToneMs <= 0 {
		return Config{}, fmt.Errorf("DTMF_TONE_MS must be positive")
	}
	if cfg.DTMFPauseMs < 0 {
		return Config{}, fmt.Errorf("DTMF_PAUSE_MS must be >= 0")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
