package config_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/polyvox/internal/config"
	"github.com/MrWong99/polyvox/pkg/audio"
	"github.com/MrWong99/polyvox/pkg/audio/mock"
	"github.com/MrWong99/polyvox/pkg/audio/voice"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9000"
  log_level: debug

pool:
  max_real_voices: 16
  steal_behavior: oldest
  promotion_threshold: 0.01
  initial_capacity: 128

engine:
  tick_rate: 30
  breaker:
    max_failures: 3
    cooldown: 5s

listener: { x: 1, y: 2, z: 3 }

backend:
  name: oto
  sample_rate: 44100
  buffer_size: 40ms
  cache_ttl: 1m

buses:
  sfx: 1
  music: 0.6

soundbank:
  path: bank.yaml
  events:
    - name: click
      file: ui/click.wav
      bus: ui
      priority: 100
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9000")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Pool.MaxRealVoices != 16 || cfg.Pool.StealBehavior != "oldest" || cfg.Pool.InitialCapacity != 128 {
		t.Errorf("pool: got %+v", cfg.Pool)
	}
	if cfg.Engine.TickRate != 30 || cfg.Engine.Breaker.MaxFailures != 3 || cfg.Engine.Breaker.Cooldown != 5*time.Second {
		t.Errorf("engine: got %+v", cfg.Engine)
	}
	if got := cfg.Listener.Vec3(); got != (audio.Vec3{X: 1, Y: 2, Z: 3}) {
		t.Errorf("listener: got %+v", got)
	}
	if cfg.Backend.Name != "oto" || cfg.Backend.SampleRate != 44100 || cfg.Backend.BufferSize != 40*time.Millisecond {
		t.Errorf("backend: got %+v", cfg.Backend)
	}
	if cfg.Buses["music"] != 0.6 {
		t.Errorf("buses.music: got %g, want 0.6", cfg.Buses["music"])
	}
	if len(cfg.SoundBank.Events) != 1 || cfg.SoundBank.Events[0].Priority != 100 {
		t.Fatalf("soundbank.events: got %+v", cfg.SoundBank.Events)
	}
}

func TestLoadFromReader_EmptyGetsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error for empty config: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q", cfg.Server.LogLevel)
	}
	if cfg.Pool.MaxRealVoices != voice.DefaultMaxRealVoices {
		t.Errorf("max_real_voices: got %d", cfg.Pool.MaxRealVoices)
	}
	if cfg.Pool.StealBehavior != "quietest" {
		t.Errorf("steal_behavior: got %q", cfg.Pool.StealBehavior)
	}
	if cfg.Engine.TickRate != config.DefaultTickRate {
		t.Errorf("tick_rate: got %d", cfg.Engine.TickRate)
	}
	if cfg.Backend.Name != config.DefaultBackend || cfg.Backend.SampleRate != config.DefaultSampleRate {
		t.Errorf("backend: got %+v", cfg.Backend)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("pool:\n  max_voices: 3\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "polyvox.yaml")
	writeFile(t, path, sampleYAML)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Pool.MaxRealVoices != 16 {
		t.Errorf("max_real_voices: got %d", cfg.Pool.MaxRealVoices)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()
	dir := filepath.Join("..", "..", "configs")

	cfg, err := config.Load(filepath.Join(dir, "example.yaml"))
	if err != nil {
		t.Fatalf("example config: %v", err)
	}
	bank, err := cfg.LoadBank(dir)
	if err != nil {
		t.Fatalf("example bank: %v", err)
	}
	if bank.Len() != 6 {
		t.Errorf("example bank has %d events, want 6", bank.Len())
	}
	ev, err := bank.Lookup("footstep")
	if err != nil {
		t.Fatalf("Lookup(footstep): %v", err)
	}
	if want := filepath.Join(dir, "samples", "player", "footstep.wav"); ev.File != want {
		t.Errorf("footstep file = %q, want %q", ev.File, want)
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"log level", "server:\n  log_level: verbose\n", "log_level"},
		{"tls half", "server:\n  tls: { cert_file: a.pem }\n", "server.tls"},
		{"steal", "pool:\n  steal_behavior: loudest\n", "steal_behavior"},
		{"threshold", "pool:\n  promotion_threshold: 2\n", "promotion_threshold"},
		{"capacity", "pool:\n  initial_capacity: -1\n", "initial_capacity"},
		{"tick rate", "engine:\n  tick_rate: 5000\n", "tick_rate"},
		{"breaker", "engine:\n  breaker: { max_failures: -1 }\n", "engine.breaker"},
		{"sample rate", "backend:\n  sample_rate: -1\n", "sample_rate"},
		{"bus volume", "buses:\n  music: 1.5\n", "buses.music"},
		{"inline event", "soundbank:\n  events:\n    - name: x\n", "file is required"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatalf("expected error mentioning %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error should mention %q, got: %v", tc.wantErr, err)
			}
		})
	}
}

func TestValidate_JoinsErrors(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: loud\npool:\n  steal_behavior: random\n"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"log_level", "steal_behavior"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestLogLevel_Slog(t *testing.T) {
	t.Parallel()
	for lvl, want := range map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"bogus":         slog.LevelInfo,
	} {
		if got := lvl.Slog(); got != want {
			t.Errorf("%q.Slog() = %v, want %v", lvl, got, want)
		}
	}
}

// ── Sound bank ───────────────────────────────────────────────────────────────

func TestLoadBank_MergesFileAndInline(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bank.yaml"), `
events:
  - name: step
    file: sfx/step.wav
  - name: abs
    file: /srv/sounds/abs.wav
`)
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Backend.SampleDir = "samples"

	bank, err := cfg.LoadBank(dir)
	if err != nil {
		t.Fatalf("LoadBank: %v", err)
	}
	if bank.Len() != 3 {
		t.Fatalf("bank has %d events, want 3", bank.Len())
	}
	step, _ := bank.Lookup("step")
	if want := filepath.Join(dir, "samples", "sfx", "step.wav"); step.File != want {
		t.Errorf("step file = %q, want %q", step.File, want)
	}
	abs, _ := bank.Lookup("abs")
	if abs.File != "/srv/sounds/abs.wav" {
		t.Errorf("absolute file rewritten to %q", abs.File)
	}
	click, _ := bank.Lookup("click")
	if click.Bus != "ui" {
		t.Errorf("inline event bus = %q, want ui", click.Bus)
	}
	if cfg.SoundBank.Events[0].File != "ui/click.wav" {
		t.Errorf("LoadBank modified the config: %q", cfg.SoundBank.Events[0].File)
	}
}

func TestLoadBank_DuplicateAcrossSources(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bank.yaml"), "events:\n  - name: click\n    file: a.wav\n")
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cfg.LoadBank(dir); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestLoadBank_MissingFile(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{SoundBank: config.SoundBankConfig{Path: "nope.yaml"}}
	if _, err := cfg.LoadBank(t.TempDir()); err == nil {
		t.Fatal("expected error for missing bank file")
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.CreateBackend(context.Background(), config.BackendConfig{Name: "nonexistent"})
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("expected ErrBackendNotRegistered, got: %v", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	want := &mock.Backend{}
	var gotCfg config.BackendConfig
	reg.RegisterBackend("stub", func(_ context.Context, cfg config.BackendConfig) (audio.Backend, error) {
		gotCfg = cfg
		return want, nil
	})
	reg.RegisterBackend("alpha", func(context.Context, config.BackendConfig) (audio.Backend, error) {
		return nil, errors.New("factory boom")
	})

	got, err := reg.CreateBackend(context.Background(), config.BackendConfig{Name: "stub", SampleRate: 8000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned backend is not the expected instance")
	}
	if gotCfg.SampleRate != 8000 {
		t.Errorf("factory got config %+v", gotCfg)
	}

	if _, err := reg.CreateBackend(context.Background(), config.BackendConfig{Name: "alpha"}); err == nil || !strings.Contains(err.Error(), "factory boom") {
		t.Errorf("expected factory error, got %v", err)
	}
	if names := reg.Backends(); len(names) != 2 || names[0] != "alpha" || names[1] != "stub" {
		t.Errorf("Backends() = %v", names)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}
