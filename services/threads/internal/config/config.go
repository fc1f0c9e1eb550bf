package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/example/nonprofit-platform/services/threads/internal/thread"
)

// ThreadsConfig holds the threads service settings that are not shared with
// other services.
type ThreadsConfig struct {
	Engine thread.Config

	AutoMigrate  bool
	ContentItems []string // seed for the static checker when no database is configured
	ContentTTL   time.Duration

	EventsStream      string
	EventsSubjects    string
	InvalidateSubject string

	ModerationStream   string
	ModerationSubject  string
	ModerationDurable  string
	ModerationBatch    int
	IdempotencyTTL     time.Duration
	WriteRatePerSecond float64
	WriteBurst         int
}

func LoadThreads() (ThreadsConfig, error) {
	d := thread.DefaultConfig()
	cfg := ThreadsConfig{
		AutoMigrate:       envBool("THREADS_AUTO_MIGRATE"),
		ContentItems:      splitList(os.Getenv("THREADS_CONTENT_ITEMS")),
		EventsStream:      envString("THREADS_EVENTS_STREAM", "THREADS"),
		EventsSubjects:    envString("THREADS_EVENTS_SUBJECTS", "threads.>"),
		InvalidateSubject: envString("THREADS_CONTENT_INVALIDATE_SUBJECT", "content.items.invalidate"),
		ModerationStream:  envString("THREADS_MODERATION_STREAM", "MODERATION"),
		ModerationSubject: envString("THREADS_MODERATION_SUBJECT", "moderation.comments.decided"),
		ModerationDurable: envString("THREADS_MODERATION_DURABLE", "threads-moderation"),
	}

	var err error
	ints := []struct {
		key string
		dst *int
		def int
	}{
		{"THREADS_MAX_BODY_RUNES", &cfg.Engine.MaxBodyRunes, d.MaxBodyRunes},
		{"THREADS_DEFAULT_LIMIT", &cfg.Engine.DefaultLimit, d.DefaultLimit},
		{"THREADS_MAX_LIMIT", &cfg.Engine.MaxLimit, d.MaxLimit},
		{"THREADS_MAX_DEPTH", &cfg.Engine.MaxDepth, d.MaxDepth},
		{"THREADS_SCAN_BATCH_ROWS", &cfg.Engine.ScanBatchRows, d.ScanBatchRows},
		{"THREADS_MODERATION_BATCH", &cfg.ModerationBatch, 10},
		{"THREADS_WRITE_BURST", &cfg.WriteBurst, 10},
	}
	for _, it := range ints {
		if *it.dst, err = envInt(it.key, it.def); err != nil {
			return ThreadsConfig{}, err
		}
	}
	if cfg.ContentTTL, err = envDuration("THREADS_CONTENT_CACHE_TTL", time.Minute); err != nil {
		return ThreadsConfig{}, err
	}
	if cfg.IdempotencyTTL, err = envDuration("THREADS_IDEMPOTENCY_TTL", 72*time.Hour); err != nil {
		return ThreadsConfig{}, err
	}
	if cfg.WriteRatePerSecond, err = envFloat("THREADS_WRITE_RATE", 1); err != nil {
		return ThreadsConfig{}, err
	}
	if cfg.Engine.DefaultLimit > cfg.Engine.MaxLimit {
		return ThreadsConfig{}, fmt.Errorf("THREADS_DEFAULT_LIMIT (%d) exceeds THREADS_MAX_LIMIT (%d)",
			cfg.Engine.DefaultLimit, cfg.Engine.MaxLimit)
	}
	return cfg, nil
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return b
}

func envInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("%s must be a positive number, got %q", key, v)
	}
	return f, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, v)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
