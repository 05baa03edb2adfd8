// Package config provides the configuration schema, loader, hot-reload diff
// and file watcher for the polyvox server.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/polyvox/internal/soundbank"
	"github.com/MrWong99/polyvox/pkg/audio"
)

// LogLevel controls log verbosity for the polyvox server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog returns the matching [slog.Level]. Unknown levels map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Config is the root configuration structure for polyvox.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig       `yaml:"server"`
	Pool      PoolConfig         `yaml:"pool"`
	Engine    EngineConfig       `yaml:"engine"`
	Listener  ListenerConfig     `yaml:"listener"`
	Backend   BackendConfig      `yaml:"backend"`
	Buses     map[string]float64 `yaml:"buses"`
	SoundBank SoundBankConfig    `yaml:"soundbank"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the metrics, health and debug
	// endpoints (e.g., ":9464"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// PoolConfig sizes the voice pool.
type PoolConfig struct {
	// MaxRealVoices is the number of voices the backend mixes at once.
	MaxRealVoices uint `yaml:"max_real_voices"`

	// StealBehavior is one of none, oldest, quietest, furthest.
	StealBehavior string `yaml:"steal_behavior"`

	// PromotionThreshold is the audibility a virtual voice must exceed before
	// a free slot is spent on it.
	PromotionThreshold float64 `yaml:"promotion_threshold"`

	// InitialCapacity pre-sizes the slot arena. It is not a limit.
	InitialCapacity int `yaml:"initial_capacity"`
}

// EngineConfig tunes the frame loop.
type EngineConfig struct {
	// TickRate is the number of frames per second.
	TickRate int `yaml:"tick_rate"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the breaker guarding backend starts. Zero values use
// the breaker defaults.
type BreakerConfig struct {
	MaxFailures int           `yaml:"max_failures"`
	Cooldown    time.Duration `yaml:"cooldown"`
	HalfOpenMax int           `yaml:"half_open_max"`
}

// ListenerConfig is the initial listener position.
type ListenerConfig struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

// Vec3 converts l to a world position.
func (l ListenerConfig) Vec3() audio.Vec3 { return audio.Vec3{X: l.X, Y: l.Y, Z: l.Z} }

// BackendConfig selects and tunes the audio backend.
type BackendConfig struct {
	// Name selects the registered backend ("headless", "oto").
	Name string `yaml:"name"`

	// SampleRate is the device rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// BufferSize is the device buffer length.
	BufferSize time.Duration `yaml:"buffer_size"`

	// CacheTTL is how long decoded samples stay cached after their last use.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// SampleDir is prepended to relative event file paths.
	SampleDir string `yaml:"sample_dir"`
}

// SoundBankConfig locates the event definitions. Events from Path and inline
// Events are merged; names must be unique across both.
type SoundBankConfig struct {
	Path   string            `yaml:"path"`
	Events []soundbank.Event `yaml:"events"`
}
