package config

import (
	"bytes"

	"gopkg.in/yaml.v3"
)

// ConfigDiff describes what changed between two configs.
// Hot-reloadable changes carry their new value; everything else is listed in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	MaxVoicesChanged bool
	NewMaxVoices     uint

	StealChanged bool
	NewSteal     string

	ListenerChanged bool
	NewListener     ListenerConfig

	// BusChanges maps every added or changed bus to its new volume. Removed
	// buses map to 1, the volume of an unconfigured bus.
	BusChanges map[string]float64

	// RestartRequired names the changed sections that only take effect after
	// a restart, in a stable order.
	RestartRequired []string
}

// IsEmpty reports whether nothing changed.
func (d ConfigDiff) IsEmpty() bool {
	return !d.LogLevelChanged && !d.MaxVoicesChanged && !d.StealChanged &&
		!d.ListenerChanged && len(d.BusChanges) == 0 && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Pool.MaxRealVoices != new.Pool.MaxRealVoices {
		d.MaxVoicesChanged = true
		d.NewMaxVoices = new.Pool.MaxRealVoices
	}
	if old.Pool.StealBehavior != new.Pool.StealBehavior {
		d.StealChanged = true
		d.NewSteal = new.Pool.StealBehavior
	}
	if old.Listener != new.Listener {
		d.ListenerChanged = true
		d.NewListener = new.Listener
	}
	d.BusChanges = diffBuses(old.Buses, new.Buses)

	if old.Server.ListenAddr != new.Server.ListenAddr || !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Pool.PromotionThreshold != new.Pool.PromotionThreshold || old.Pool.InitialCapacity != new.Pool.InitialCapacity {
		d.RestartRequired = append(d.RestartRequired, "pool")
	}
	if old.Engine != new.Engine {
		d.RestartRequired = append(d.RestartRequired, "engine")
	}
	if old.Backend != new.Backend {
		d.RestartRequired = append(d.RestartRequired, "backend")
	}
	if !sameSoundBank(old.SoundBank, new.SoundBank) {
		d.RestartRequired = append(d.RestartRequired, "soundbank")
	}

	return d
}

func diffBuses(old, new map[string]float64) map[string]float64 {
	var changes map[string]float64
	set := func(name string, v float64) {
		if changes == nil {
			changes = make(map[string]float64)
		}
		changes[name] = v
	}

	for name, v := range new {
		if prev, ok := old[name]; !ok || prev != v {
			set(name, v)
		}
	}
	for name := range old {
		if _, ok := new[name]; !ok {
			set(name, 1)
		}
	}
	return changes
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// sameSoundBank compares the bank source. Inline events are compared by
// their YAML form.
func sameSoundBank(a, b SoundBankConfig) bool {
	if a.Path != b.Path || len(a.Events) != len(b.Events) {
		return false
	}
	ya, errA := yaml.Marshal(a.Events)
	yb, errB := yaml.Marshal(b.Events)
	return errA == nil && errB == nil && bytes.Equal(ya, yb)
}
