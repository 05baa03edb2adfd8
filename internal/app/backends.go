package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/polyvox/internal/config"
	"github.com/MrWong99/polyvox/pkg/audio"
	"github.com/MrWong99/polyvox/pkg/audio/headless"
)

// BuiltinRegistry returns a registry holding every backend compiled into
// this binary. The oto backend is left out of builds tagged "headless".
func BuiltinRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterBackend("headless", func(context.Context, config.BackendConfig) (audio.Backend, error) {
		return headless.New(), nil
	})
	registerDeviceBackends(reg)
	return reg
}

// lengthSetter is implemented by backends that cannot measure sample files
// themselves and need the event lengths to report playback as done.
type lengthSetter interface {
	SetLength(file string, d time.Duration)
}

// preloader is implemented by backends that can decode sample files ahead
// of the first play.
type preloader interface {
	Preload(files ...string) error
}

// logBackends is called once at startup.
func logBackends(reg *config.Registry, selected string) {
	slog.Info("audio backends", "available", reg.Backends(), "selected", selected)
}
