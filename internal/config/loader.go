package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [EngineConfig] accessors and consumers of a zero field.
const (
	DefaultConfidenceFloor = 0.3
	DefaultFeedbackWeight  = 0.5
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Unknown keys are rejected. An empty document yields the zero [Config].
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Engine
	e := cfg.Engine
	if e.MaxRules < 0 {
		errs = append(errs, fmt.Errorf("engine.max_rules %d must not be negative", e.MaxRules))
	}
	if e.ConfidenceFloor != nil && (*e.ConfidenceFloor < 0 || *e.ConfidenceFloor >= 1) {
		errs = append(errs, fmt.Errorf("engine.confidence_floor %.2f is out of range [0, 1)", *e.ConfidenceFloor))
	}
	if e.FeedbackWeight != nil && (*e.FeedbackWeight < 0 || *e.FeedbackWeight > 1) {
		errs = append(errs, fmt.Errorf("engine.feedback_weight %.2f is out of range [0, 1]", *e.FeedbackWeight))
	}
	if e.CustomPriority < 0 {
		errs = append(errs, fmt.Errorf("engine.custom_priority %d must not be negative", e.CustomPriority))
	}
	if e.BatchConcurrency < 0 {
		errs = append(errs, fmt.Errorf("engine.batch_concurrency %d must not be negative", e.BatchConcurrency))
	}
	p := e.Phonetic
	if p.PhoneticThreshold < 0 || p.PhoneticThreshold > 1 {
		errs = append(errs, fmt.Errorf("engine.phonetic.phonetic_threshold %.2f is out of range [0, 1]", p.PhoneticThreshold))
	}
	if p.FuzzyThreshold < 0 || p.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("engine.phonetic.fuzzy_threshold %.2f is out of range [0, 1]", p.FuzzyThreshold))
	}
	if p.MinWordLength < 0 {
		errs = append(errs, fmt.Errorf("engine.phonetic.min_word_length %d must not be negative", p.MinWordLength))
	}

	// Storage
	s := cfg.Storage
	if s.Backend != "" && !s.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: memory, file, postgres, redis", s.Backend))
	}
	switch s.Backend {
	case BackendFile:
		if s.Path == "" {
			errs = append(errs, errors.New("storage.path is required when backend is file"))
		}
	case BackendPostgres:
		if s.Postgres.DSN == "" {
			errs = append(errs, errors.New("storage.postgres.dsn is required when backend is postgres"))
		}
	case BackendRedis:
		if s.Redis.Addr == "" {
			errs = append(errs, errors.New("storage.redis.addr is required when backend is redis"))
		}
	}
	if s.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("storage.breaker.max_failures %d must not be negative", s.Breaker.MaxFailures))
	}
	if s.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("storage.breaker.reset_timeout %s must not be negative", s.Breaker.ResetTimeout))
	}

	// Availability warnings
	if s.Backend == "" || s.Backend == BackendMemory {
		if s.FallbackPath != "" {
			slog.Warn("storage.fallback_path is set but the memory backend never fails; fallback is unused")
		} else {
			slog.Warn("storage.backend is memory; rules and preferences will not survive a restart")
		}
	}
	if s.FallbackPath != "" && s.FallbackPath == s.Path {
		errs = append(errs, fmt.Errorf("storage.fallback_path %q must differ from storage.path", s.FallbackPath))
	}

	return errors.Join(errs...)
}

// Floor returns the configured confidence floor or [DefaultConfidenceFloor].
func (e EngineConfig) Floor() float64 {
	if e.ConfidenceFloor == nil {
		return DefaultConfidenceFloor
	}
	return *e.ConfidenceFloor
}

// Weight returns the configured feedback weight or [DefaultFeedbackWeight].
func (e EngineConfig) Weight() float64 {
	if e.FeedbackWeight == nil {
		return DefaultFeedbackWeight
	}
	return *e.FeedbackWeight
}

// Words returns the inline vocabulary followed by the entries of
// VocabularyFile, if set.
func (p PhoneticConfig) Words() ([]string, error) {
	words := append([]string(nil), p.Vocabulary...)
	if p.VocabularyFile == "" {
		return words, nil
	}

	f, err := os.Open(p.VocabularyFile)
	if err != nil {
		return nil, fmt.Errorf("config: open vocabulary %q: %w", p.VocabularyFile, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("config: read vocabulary %q: %w", p.VocabularyFile, err)
	}
	return words, nil
}
