// Command nexus-init is the boot orchestrator: it brings up the service
// fabric in order, evaluates BootCtl, runs the observable self-test suite,
// and reports the boot attempt's health.
package main

import (
	"fmt"
	"os"

	"github.com/nexuscore/nexus/pkg/boot"
	"github.com/nexuscore/nexus/pkg/selftest"
	"github.com/spf13/cobra"
)

var (
	dataDir     string
	recipePath  string
	releaseMode bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "nexus-init: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "nexus-init",
	Short: "Boot the nexus service fabric",
	RunE:  runBoot,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory backing statefs with a durable store (empty = RAM-only)")
	rootCmd.PersistentFlags().StringVar(&recipePath, "policy-recipe", "", "path to the YAML policy recipe loaded at boot")
	rootCmd.PersistentFlags().BoolVar(&releaseMode, "release", true, "disable execd's debug-allow-all profile")
}

func runBoot(cmd *cobra.Command, args []string) error {
	var recipe []byte
	if recipePath != "" {
		data, err := os.ReadFile(recipePath)
		if err != nil {
			return fmt.Errorf("reading policy recipe: %w", err)
		}
		recipe = data
	}

	sys, err := boot.Boot(boot.Config{
		DataDir:      dataDir,
		PolicyRecipe: recipe,
		Release:      releaseMode,
		Out:          os.Stdout,
	})
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}

	if err := selftest.RunAll(sys); err != nil {
		sys.RecordFailure(err.Error())
		return fmt.Errorf("selftest: %w", err)
	}

	sys.EvaluateHealth(sys.Bundles.ActiveSlot())
	return nil
}
