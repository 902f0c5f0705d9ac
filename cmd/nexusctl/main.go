// Command nexusctl is the administrative CLI for inspecting policy,
// bundles, and update state. v1 has no running-daemon transport to attach
// to, so nexusctl opens the same durable statefs backing a booted
// nexus-init uses and reads through it directly — a real deployment would
// instead dial samgrd over IPC the way every in-fabric client does.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/nexuscore/nexus/pkg/boot"
	"github.com/nexuscore/nexus/pkg/ipc"
	"github.com/nexuscore/nexus/pkg/metricsd"
	"github.com/spf13/cobra"
)

var (
	dataDir    string
	recipePath string
	metricsAddr string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "nexusctl: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "nexusctl",
	Short: "Inspect policy, bundle, and update state",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory backing statefs (empty = RAM-only, for dry-run inspection)")
	rootCmd.PersistentFlags().StringVar(&recipePath, "policy-recipe", "", "path to the YAML policy recipe")

	rootCmd.AddCommand(bundleCmd, policyCmd, updateCmd, metricsCmd)
	bundleCmd.AddCommand(bundleListCmd, bundleQueryCmd)
	policyCmd.AddCommand(policyCheckCmd)
	updateCmd.AddCommand(updateStatusCmd)
	metricsCmd.AddCommand(metricsServeCmd)
	metricsServeCmd.Flags().StringVar(&metricsAddr, "addr", ":9464", "address to serve /metrics on")
}

func attach() (*boot.System, error) {
	var recipe []byte
	if recipePath != "" {
		data, err := os.ReadFile(recipePath)
		if err != nil {
			return nil, fmt.Errorf("reading policy recipe: %w", err)
		}
		recipe = data
	}
	return boot.Boot(boot.Config{DataDir: dataDir, PolicyRecipe: recipe, Release: true, Out: os.Stderr})
}

var bundleCmd = &cobra.Command{Use: "bundle", Short: "Inspect installed bundles"}

var bundleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bundles published in the active slot",
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := attach()
		if err != nil {
			return err
		}
		ids, err := sys.Bundles.List()
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var bundleQueryCmd = &cobra.Command{
	Use:   "query <bundle-id>",
	Short: "Show one bundle's manifest fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := attach()
		if err != nil {
			return err
		}
		b, err := sys.Bundles.Query(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("bundle_id=%s semver=%s entry_point=%s size=%d caps=%v\n",
			b.BundleID, b.SemVer, b.EntryPoint, b.PayloadSize, b.DeclaredCaps)
		return nil
	},
}

var policyCmd = &cobra.Command{Use: "policy", Short: "Inspect policy decisions"}

var policyCheckCmd = &cobra.Command{
	Use:   "check <subject-id> <action>",
	Short: "Evaluate a (subject, action) pair against the loaded recipe",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := attach()
		if err != nil {
			return err
		}
		var subject uint64
		if _, err := fmt.Sscanf(args[0], "%d", &subject); err != nil {
			return fmt.Errorf("subject id must be numeric: %w", err)
		}
		decision, reason := sys.Policy.Check(ipc.ServiceID(subject), args[1], nil)
		fmt.Printf("decision=%s reason=%s\n", decision, reason)
		return nil
	},
}

var metricsCmd = &cobra.Command{Use: "metrics", Short: "Inspect and export the live metric registry"}

var metricsServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Attach to a booted system and serve its series in Prometheus exposition format",
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := attach()
		if err != nil {
			return err
		}
		exporter := metricsd.NewExporter(sys.Metrics)
		mux := http.NewServeMux()
		mux.Handle("/metrics", exporter.Handler())
		fmt.Printf("serving /metrics on %s\n", metricsAddr)
		return http.ListenAndServe(metricsAddr, mux)
	},
}

var updateCmd = &cobra.Command{Use: "update", Short: "Inspect the A/B update state machine"}

var updateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show BootCtl's current phase and slot",
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := attach()
		if err != nil {
			return err
		}
		ctl := sys.Updated.Snapshot()
		fmt.Printf("phase=%s active_slot=%s standby_slot=%s tries_left=%d persistent=%t\n",
			ctl.Phase, ctl.ActiveSlot, ctl.StandbySlot, ctl.TriesLeft, ctl.Persistent)
		return nil
	},
}
