// Command polyvox runs the polyvox voice server and its companion tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "polyvox",
		Short:         "Virtual voice management for game audio",
		Long:          `polyvox decides every frame which sounds own a real mixer channel, which are tracked silently, and which are discarded.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetVersionTemplate(fmt.Sprintf("polyvox %s\n", version))

	root.AddCommand(newServeCmd())
	root.AddCommand(newSimulateCmd())
	root.AddCommand(newCurveCmd())
	return root
}
