package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/polyvox/internal/engine"
	"github.com/MrWong99/polyvox/internal/observe"
	"github.com/MrWong99/polyvox/internal/soundbank"
	"github.com/MrWong99/polyvox/pkg/audio"
	"github.com/MrWong99/polyvox/pkg/audio/headless"
	"github.com/MrWong99/polyvox/pkg/audio/voice"
)

type simOptions struct {
	maxVoices uint
	steal     string
	rate      float64
	duration  time.Duration
	tickRate  int
	radius    float64
	seed      uint64
}

func newSimulateCmd() *cobra.Command {
	var o simOptions
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a synthetic load against the voice pool",
		Long: `Spawn sounds at random positions around a moving listener on the headless
backend and report how many voices are real and virtual over time. The
simulation runs on its own clock, as fast as the CPU allows.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return simulate(cmd.Context(), cmd.OutOrStdout(), o)
		},
	}
	f := cmd.Flags()
	f.UintVar(&o.maxVoices, "voices", voice.DefaultMaxRealVoices, "number of real voices")
	f.StringVar(&o.steal, "steal", "quietest", "steal behavior: none, oldest, quietest, furthest")
	f.Float64Var(&o.rate, "rate", 200, "play requests per second")
	f.DurationVar(&o.duration, "duration", 10*time.Second, "simulated time")
	f.IntVar(&o.tickRate, "tick-rate", 60, "frames per simulated second")
	f.Float64Var(&o.radius, "radius", 60, "spawn radius around the listener")
	f.Uint64Var(&o.seed, "seed", 1, "random seed")
	return cmd
}

// simBank is a small mix of short, long and looping sounds.
func simBank() (*soundbank.Bank, error) {
	near := soundbank.Distance{Curve: "inverse_square", Min: 1, Max: 40}
	far := soundbank.Distance{Curve: "logarithmic", Min: 5, Max: 120}
	return soundbank.New(
		soundbank.Event{Name: "footstep", File: "footstep.wav", Priority: 10, Length: 400 * time.Millisecond,
			Volume: soundbank.Range{Min: 0.6, Max: 0.9}, Pitch: soundbank.Range{Min: 0.9, Max: 1.1}, Distance: near},
		soundbank.Event{Name: "impact", File: "impact.wav", Priority: 60, Length: 1200 * time.Millisecond, Distance: near},
		soundbank.Event{Name: "explosion", File: "explosion.wav", Priority: 180, Length: 3 * time.Second, Distance: far},
		soundbank.Event{Name: "engine_loop", File: "engine.ogg", Priority: 90, Loop: true, Distance: far},
	)
}

// simStats summarises a simulation run.
type simStats struct {
	plays      int
	peakReal   int
	peakActive int
}

func simulate(ctx context.Context, w io.Writer, o simOptions) error {
	steal, err := voice.ParseStealBehavior(o.steal)
	if err != nil {
		return err
	}
	if o.tickRate <= 0 || o.rate < 0 || o.duration <= 0 {
		return errors.New("simulate: tick-rate and duration must be positive and rate must not be negative")
	}
	bank, err := simBank()
	if err != nil {
		return err
	}
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		return err
	}

	var now time.Time
	lengths := make(map[string]time.Duration)
	for _, ev := range bank.Events() {
		if ev.Length > 0 {
			lengths[ev.File] = ev.Length
		}
	}
	be := headless.New(headless.WithClock(func() time.Time { return now }), headless.WithLengths(lengths))
	defer be.Close()

	rng := rand.New(rand.NewPCG(o.seed, o.seed^0x9e3779b97f4a7c15))
	eng := engine.New(bank, be,
		engine.WithPool(voice.WithMaxRealVoices(o.maxVoices), voice.WithStealBehavior(steal)),
		engine.WithMetrics(metrics),
		engine.WithLogger(slog.New(slog.DiscardHandler)),
		engine.WithRand(rand.New(rand.NewPCG(o.seed, o.seed+1))),
	)
	names := bank.Names()

	dt := time.Second / time.Duration(o.tickRate)
	frames := int(o.duration / dt)
	perFrame := o.rate / float64(o.tickRate)
	var (
		owed  float64
		stats simStats
		loops []voice.Ref
	)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "time\treal\tvirtual\tactive\tslots\tbackend\t")

	for f := 1; f <= frames; f++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		now = now.Add(dt)
		t := float64(f) * dt.Seconds()

		// The listener walks a slow circle.
		listener := audio.Vec3{X: 20 * math.Cos(t/5), Z: 20 * math.Sin(t/5)}
		eng.SetListener(listener)

		for owed += perFrame; owed >= 1; owed-- {
			name := names[rng.IntN(len(names))]
			angle := rng.Float64() * 2 * math.Pi
			dist := rng.Float64() * o.radius
			pos := audio.Vec3{X: listener.X + dist*math.Cos(angle), Z: listener.Z + dist*math.Sin(angle)}
			ref, err := eng.Play(ctx, name, pos)
			if err != nil {
				return err
			}
			stats.plays++
			if name == "engine_loop" {
				loops = append(loops, ref)
			}
		}
		// Loops would otherwise pile up forever.
		for len(loops) > 8 {
			eng.Stop(loops[0])
			loops = loops[1:]
		}

		eng.Tick(ctx, dt)

		st := eng.Stats()
		stats.peakReal = max(stats.peakReal, st.Real)
		stats.peakActive = max(stats.peakActive, st.Active)
		if f%o.tickRate == 0 || f == frames {
			fmt.Fprintf(tw, "%.1fs\t%d\t%d\t%d\t%d\t%d\t\n", t, st.Real, st.Virtual, st.Active, st.Slots, be.Active())
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%d plays, peak %d real of %d, peak %d active, steal=%s\n",
		stats.plays, stats.peakReal, o.maxVoices, stats.peakActive, steal)
	return nil
}
