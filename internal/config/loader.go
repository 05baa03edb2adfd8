package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"math"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/polyvox/internal/soundbank"
	"github.com/MrWong99/polyvox/pkg/audio/voice"
)

// ValidBackendNames lists the backends shipped with polyvox. [Validate] warns
// about other names, which may still be registered by third-party code.
var ValidBackendNames = []string{"headless", "oto"}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr = ":9464"
	DefaultTickRate   = 60
	DefaultBackend    = "headless"
	DefaultSampleRate = 48000
	DefaultBufferSize = 20 * time.Millisecond
	DefaultCacheTTL   = 10 * time.Minute
	maxTickRate       = 1000
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields of cfg in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Pool.MaxRealVoices == 0 {
		cfg.Pool.MaxRealVoices = voice.DefaultMaxRealVoices
	}
	if cfg.Pool.StealBehavior == "" {
		cfg.Pool.StealBehavior = voice.Quietest.String()
	}
	if cfg.Pool.PromotionThreshold == 0 {
		cfg.Pool.PromotionThreshold = voice.DefaultPromotionThreshold
	}
	if cfg.Engine.TickRate == 0 {
		cfg.Engine.TickRate = DefaultTickRate
	}
	if cfg.Backend.Name == "" {
		cfg.Backend.Name = DefaultBackend
	}
	if cfg.Backend.SampleRate == 0 {
		cfg.Backend.SampleRate = DefaultSampleRate
	}
	if cfg.Backend.BufferSize == 0 {
		cfg.Backend.BufferSize = DefaultBufferSize
	}
	if cfg.Backend.CacheTTL == 0 {
		cfg.Backend.CacheTTL = DefaultCacheTTL
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Pool
	if _, err := voice.ParseStealBehavior(cfg.Pool.StealBehavior); err != nil {
		errs = append(errs, fmt.Errorf("pool.steal_behavior %q is invalid; valid values: none, oldest, quietest, furthest", cfg.Pool.StealBehavior))
	}
	if cfg.Pool.PromotionThreshold < 0 || cfg.Pool.PromotionThreshold > 1 {
		errs = append(errs, fmt.Errorf("pool.promotion_threshold %g is out of range [0, 1]", cfg.Pool.PromotionThreshold))
	}
	if cfg.Pool.InitialCapacity < 0 {
		errs = append(errs, fmt.Errorf("pool.initial_capacity %d is negative", cfg.Pool.InitialCapacity))
	}

	// Engine
	if cfg.Engine.TickRate < 0 || cfg.Engine.TickRate > maxTickRate {
		errs = append(errs, fmt.Errorf("engine.tick_rate %d is out of range [1, %d]", cfg.Engine.TickRate, maxTickRate))
	}
	if b := cfg.Engine.Breaker; b.MaxFailures < 0 || b.Cooldown < 0 || b.HalfOpenMax < 0 {
		errs = append(errs, errors.New("engine.breaker values must not be negative"))
	}

	// Listener
	for i, v := range []float64{cfg.Listener.X, cfg.Listener.Y, cfg.Listener.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			errs = append(errs, fmt.Errorf("listener.%c is not a finite number", "xyz"[i]))
		}
	}

	// Backend
	if cfg.Backend.Name != "" && !slices.Contains(ValidBackendNames, cfg.Backend.Name) {
		slog.Warn("unknown backend name; may be a typo or a third-party backend",
			"name", cfg.Backend.Name,
			"known", ValidBackendNames,
		)
	}
	if cfg.Backend.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("backend.sample_rate %d is negative", cfg.Backend.SampleRate))
	}
	if cfg.Backend.BufferSize < 0 {
		errs = append(errs, fmt.Errorf("backend.buffer_size %v is negative", cfg.Backend.BufferSize))
	}
	if cfg.Backend.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("backend.cache_ttl %v is negative", cfg.Backend.CacheTTL))
	}

	// Buses
	for _, name := range slices.Sorted(maps.Keys(cfg.Buses)) {
		v := cfg.Buses[name]
		if name == "" {
			errs = append(errs, errors.New("buses: bus name must not be empty"))
		}
		if v < 0 || v > 1 || math.IsNaN(v) {
			errs = append(errs, fmt.Errorf("buses.%s volume %g is out of range [0, 1]", name, v))
		}
	}

	// Sound bank. Events from the bank file are checked when it is loaded.
	if len(cfg.SoundBank.Events) > 0 {
		if _, err := soundbank.New(cfg.SoundBank.Events...); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.SoundBank.Path == "" && len(cfg.SoundBank.Events) == 0 {
		slog.Warn("soundbank has neither a path nor inline events; every play request will fail")
	}

	return errors.Join(errs...)
}

// LoadBank builds the sound bank from the bank file and the inline events.
// A relative bank path is resolved against baseDir, as are relative event
// files when Backend.SampleDir is empty.
func (c *Config) LoadBank(baseDir string) (*soundbank.Bank, error) {
	var events []soundbank.Event
	if p := c.SoundBank.Path; p != "" {
		if !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("config: open soundbank %q: %w", p, err)
		}
		defer f.Close()

		fromFile, err := soundbank.DecodeEvents(f)
		if err != nil {
			return nil, fmt.Errorf("config: parse soundbank %q: %w", p, err)
		}
		events = append(events, fromFile...)
	}
	events = append(events, c.SoundBank.Events...)

	sampleDir := c.Backend.SampleDir
	if sampleDir == "" {
		sampleDir = baseDir
	} else if !filepath.IsAbs(sampleDir) {
		sampleDir = filepath.Join(baseDir, sampleDir)
	}
	for i := range events {
		if events[i].File != "" && !filepath.IsAbs(events[i].File) {
			events[i].File = filepath.Join(sampleDir, events[i].File)
		}
	}

	b, err := soundbank.New(events...)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return b, nil
}
