//go:build !headless

package app

import (
	"context"
	"log/slog"

	"github.com/MrWong99/polyvox/internal/config"
	"github.com/MrWong99/polyvox/pkg/audio"
	"github.com/MrWong99/polyvox/pkg/audio/otoplay"
)

func registerDeviceBackends(reg *config.Registry) {
	reg.RegisterBackend("oto", func(ctx context.Context, cfg config.BackendConfig) (audio.Backend, error) {
		return otoplay.New(ctx, otoplay.Options{
			SampleRate: cfg.SampleRate,
			BufferSize: cfg.BufferSize,
			CacheTTL:   cfg.CacheTTL,
			Logger:     slog.Default().With("backend", "oto"),
		})
	})
}
