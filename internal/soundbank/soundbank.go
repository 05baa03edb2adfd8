// Package soundbank resolves event names to the sample file and playback
// parameters a voice is started with.
//
// A bank is loaded from YAML:
//
//	events:
//	  - name: footstep
//	    file: sfx/step.wav
//	    volume: [0.7, 0.9]
//	    pitch: [0.95, 1.05]
//	    bus: sfx
//	    priority: 40
//	    length: 350ms
//	    distance: { curve: inverse_square, min: 1, max: 25 }
//
// Loaded banks are immutable and safe for concurrent use.
package soundbank

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"slices"
	"time"

	"github.com/antzucaro/matchr"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/polyvox/pkg/audio/attenuation"
)

// DefaultBus is the bus events are routed to when they name none.
const DefaultBus = "sfx"

// ErrUnknownEvent is returned by [Bank.Lookup] for names the bank does not
// define.
var ErrUnknownEvent = errors.New("soundbank: unknown event")

// Range is an inclusive [Min, Max] interval. In YAML it is written either as
// a two-element sequence or as a single number meaning Min == Max.
type Range struct {
	Min float64
	Max float64
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *Range) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		var v float64
		if err := n.Decode(&v); err != nil {
			return err
		}
		*r = Range{Min: v, Max: v}
		return nil
	}
	var pair []float64
	if err := n.Decode(&pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("line %d: range needs exactly 2 values, got %d", n.Line, len(pair))
	}
	*r = Range{Min: pair[0], Max: pair[1]}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (r Range) MarshalYAML() (any, error) {
	if r.Min == r.Max {
		return r.Min, nil
	}
	return []float64{r.Min, r.Max}, nil
}

// IsZero reports whether r is unset.
func (r Range) IsZero() bool { return r.Min == 0 && r.Max == 0 }

// sample picks a value uniformly in r.
func (r Range) sample(rng *rand.Rand) float64 {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + rng.Float64()*(r.Max-r.Min)
}

// Distance is the YAML form of [attenuation.Settings].
type Distance struct {
	Curve   string  `yaml:"curve"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
	Rolloff float64 `yaml:"rolloff"`
}

// Settings converts d, filling unset fields from
// [attenuation.DefaultSettings].
func (d Distance) Settings() (attenuation.Settings, error) {
	s := attenuation.DefaultSettings()
	c, err := attenuation.ParseCurve(d.Curve)
	if err != nil {
		return s, err
	}
	s.Curve = c
	if d.Min != 0 || d.Max != 0 {
		s.MinDistance, s.MaxDistance = d.Min, d.Max
	}
	if d.Rolloff != 0 {
		s.Rolloff = d.Rolloff
	}
	return s, nil
}

// Event defines one logical sound.
type Event struct {
	Name     string   `yaml:"name"`
	File     string   `yaml:"file"`
	Volume   Range    `yaml:"volume"`
	Pitch    Range    `yaml:"pitch"`
	Bus      string   `yaml:"bus"`
	Priority uint8    `yaml:"priority"`
	Loop     bool     `yaml:"loop"`
	Distance Distance `yaml:"distance"`

	// Length is the playing time of File. Zero means unknown: the voice then
	// only finishes when stopped or when the backend reports it done.
	Length time.Duration `yaml:"length"`

	settings attenuation.Settings
}

// Attenuation returns the parsed distance settings of a bank event.
func (e Event) Attenuation() attenuation.Settings { return e.settings }

// Instance holds the randomised parameters of one playback of an [Event].
type Instance struct {
	Volume float64
	Pitch  float64
}

// Sample draws volume and pitch uniformly from the event's ranges.
func (e Event) Sample(rng *rand.Rand) Instance {
	return Instance{
		Volume: e.Volume.sample(rng),
		Pitch:  e.Pitch.sample(rng),
	}
}

// applyDefaults fills unset fields. It must run before validate.
func (e *Event) applyDefaults() {
	if e.Volume.IsZero() {
		e.Volume = Range{Min: 1, Max: 1}
	}
	if e.Pitch.IsZero() {
		e.Pitch = Range{Min: 1, Max: 1}
	}
	if e.Bus == "" {
		e.Bus = DefaultBus
	}
}

func (e *Event) validate(prefix string) error {
	var errs []error
	if e.Name == "" {
		errs = append(errs, fmt.Errorf("%s.name is required", prefix))
	}
	if e.File == "" {
		errs = append(errs, fmt.Errorf("%s.file is required", prefix))
	}
	if e.Volume.Min > e.Volume.Max {
		errs = append(errs, fmt.Errorf("%s.volume [%g, %g] is inverted", prefix, e.Volume.Min, e.Volume.Max))
	}
	if e.Volume.Min < 0 || e.Volume.Max > 1 {
		errs = append(errs, fmt.Errorf("%s.volume [%g, %g] is out of range [0, 1]", prefix, e.Volume.Min, e.Volume.Max))
	}
	if e.Pitch.Min > e.Pitch.Max {
		errs = append(errs, fmt.Errorf("%s.pitch [%g, %g] is inverted", prefix, e.Pitch.Min, e.Pitch.Max))
	}
	if e.Pitch.Min <= 0 {
		errs = append(errs, fmt.Errorf("%s.pitch minimum %g must be positive", prefix, e.Pitch.Min))
	}
	if e.Length < 0 {
		errs = append(errs, fmt.Errorf("%s.length %v is negative", prefix, e.Length))
	}

	s, err := e.Distance.Settings()
	if err == nil {
		err = s.Validate()
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("%s.distance: %w", prefix, err))
	}
	e.settings = s
	return errors.Join(errs...)
}

// Bank is an immutable set of events keyed by name.
type Bank struct {
	events map[string]Event
	names  []string
}

// document is the YAML root of a bank file.
type document struct {
	Events []Event `yaml:"events"`
}

// New builds a bank from events, applying defaults and validating every
// event. All problems are reported together.
func New(events ...Event) (*Bank, error) {
	b := &Bank{events: make(map[string]Event, len(events))}
	seen := make(map[string]int, len(events))

	var errs []error
	for i, e := range events {
		prefix := fmt.Sprintf("events[%d]", i)
		e.applyDefaults()
		if err := e.validate(prefix); err != nil {
			errs = append(errs, err)
		}
		if e.Name == "" {
			continue
		}
		if prev, ok := seen[e.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of events[%d]", prefix, e.Name, prev))
			continue
		}
		seen[e.Name] = i
		b.events[e.Name] = e
		b.names = append(b.names, e.Name)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("soundbank: %w", err)
	}
	slices.Sort(b.names)
	return b, nil
}

// Load reads and validates the bank file at path.
func Load(path string) (*Bank, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("soundbank: open %q: %w", path, err)
	}
	defer f.Close()

	b, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("soundbank: parse %q: %w", path, err)
	}
	return b, nil
}

// LoadFromReader decodes a bank from r and validates it.
func LoadFromReader(r io.Reader) (*Bank, error) {
	events, err := DecodeEvents(r)
	if err != nil {
		return nil, err
	}
	return New(events...)
}

// DecodeEvents decodes the events of a bank document without validating
// them, so that callers can merge several sources before calling [New].
func DecodeEvents(r io.Reader) ([]Event, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("soundbank: decode yaml: %w", err)
	}
	return doc.Events, nil
}

// suggestThreshold is the minimum Jaro-Winkler similarity for an event name
// to be offered as a correction.
const suggestThreshold = 0.85

// Lookup returns the event called name. For unknown names the error suggests
// the closest event name, if any is similar enough.
func (b *Bank) Lookup(name string) (Event, error) {
	e, ok := b.events[name]
	if !ok {
		if s := b.Suggest(name); s != "" {
			return Event{}, fmt.Errorf("%w: %q (did you mean %q?)", ErrUnknownEvent, name, s)
		}
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
	return e, nil
}

// Suggest returns the event name most similar to name, or "" when none
// reaches suggestThreshold. Ties go to the alphabetically first name.
func (b *Bank) Suggest(name string) string {
	var (
		best  string
		score = suggestThreshold
	)
	for _, n := range b.names {
		if s := matchr.JaroWinkler(name, n, false); s > score || (s == score && best == "") {
			best, score = n, s
		}
	}
	return best
}

// Names returns the event names in sorted order.
func (b *Bank) Names() []string { return slices.Clone(b.names) }

// Len returns the number of events.
func (b *Bank) Len() int { return len(b.events) }

// Events returns all events sorted by name.
func (b *Bank) Events() []Event {
	out := make([]Event, 0, len(b.names))
	for _, n := range b.names {
		out = append(out, b.events[n])
	}
	return out
}

// WithLengths returns a copy of b in which every event whose Length is zero
// gets the duration probe reports for its file. Probe failures leave the
// length unknown and are returned joined.
func (b *Bank) WithLengths(probe func(file string) (time.Duration, error)) (*Bank, error) {
	out := &Bank{events: make(map[string]Event, len(b.events)), names: slices.Clone(b.names)}
	var errs []error
	for name, e := range b.events {
		if e.Length == 0 {
			d, err := probe(e.File)
			if err != nil {
				errs = append(errs, fmt.Errorf("soundbank: probe %q: %w", name, err))
			} else {
				e.Length = d
			}
		}
		out.events[name] = e
	}
	return out, errors.Join(errs...)
}
