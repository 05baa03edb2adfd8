package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/polyvox/pkg/audio/attenuation"
)

// builtinCurves lists the attenuation curves in display order.
var builtinCurves = []attenuation.Curve{
	attenuation.Linear,
	attenuation.Logarithmic,
	attenuation.InverseSquare,
	attenuation.Exponential,
}

type curveOptions struct {
	curve   string
	min     float64
	max     float64
	rolloff float64
	steps   int
}

func newCurveCmd() *cobra.Command {
	def := attenuation.DefaultSettings()
	o := curveOptions{min: def.MinDistance, max: def.MaxDistance, rolloff: def.Rolloff}
	cmd := &cobra.Command{
		Use:   "curve",
		Short: "Print the gain of attenuation curves over distance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printCurves(cmd.OutOrStdout(), o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.curve, "curve", "all", "curve to print: linear, logarithmic, inverse_square, exponential or all")
	f.Float64Var(&o.min, "min", o.min, "distance inside which the gain is 1")
	f.Float64Var(&o.max, "max", o.max, "distance beyond which the gain is 0")
	f.Float64Var(&o.rolloff, "rolloff", o.rolloff, "rolloff factor")
	f.IntVar(&o.steps, "steps", 10, "number of rows between 0 and max")
	return cmd
}

func printCurves(w io.Writer, o curveOptions) error {
	curves := builtinCurves
	if o.curve != "all" {
		c, err := attenuation.ParseCurve(o.curve)
		if err != nil {
			return err
		}
		if c == attenuation.Custom {
			return fmt.Errorf("curve %q cannot be printed from the command line", o.curve)
		}
		curves = []attenuation.Curve{c}
	}
	if o.steps < 1 {
		return fmt.Errorf("steps must be at least 1, got %d", o.steps)
	}
	base := attenuation.Settings{MinDistance: o.min, MaxDistance: o.max, Rolloff: o.rolloff}
	if err := base.Validate(); err != nil {
		return fmt.Errorf("invalid distance settings: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprint(tw, "distance\t")
	for _, c := range curves {
		fmt.Fprintf(tw, "%s\t", c)
	}
	fmt.Fprintln(tw)

	for i := range o.steps + 1 {
		d := o.max * float64(i) / float64(o.steps)
		fmt.Fprintf(tw, "%.2f\t", d)
		for _, c := range curves {
			s := base
			s.Curve = c
			fmt.Fprintf(tw, "%.4f\t", attenuation.Attenuate(d, s))
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
