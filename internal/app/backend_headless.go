//go:build headless

package app

import "github.com/MrWong99/polyvox/internal/config"

// Headless builds carry no audio device backend.
func registerDeviceBackends(*config.Registry) {}
