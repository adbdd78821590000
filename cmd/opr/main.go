package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/opreport/internal/ui"
)

var (
	serverURL    string
	serverToken  string
	apiURL       string
	apiToken     string
	projectID    string
	remoteName   string
	rollupFlag   string
	concurrency  int
	showProgress bool
	verbose      bool
	jsonOutput   bool
)

// resolveRemote merges the selected remote profile with environment
// variables and flags; flags win, then the environment, then the profile.
func resolveRemote() Remote {
	r := activeRemote()
	if remoteName != "" {
		if cfg, err := loadRemotesConfig(); err == nil {
			r = cfg.Remotes[remoteName]
		}
	}
	override := func(dst *string, env, flag string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
		if flag != "" {
			*dst = flag
		}
	}
	override(&r.URL, "OPREPORT_API_URL", apiURL)
	override(&r.Token, "OPREPORT_API_TOKEN", apiToken)
	override(&r.Project, "OPREPORT_PROJECT", projectID)
	override(&r.DimensionField, "OPREPORT_DIMENSION_FIELD", "")
	override(&r.Server, "OPREPORT_SERVER", serverURL)
	override(&r.ServerToken, "OPREPORT_SERVER_TOKEN", serverToken)
	override(&r.NATSURL, "OPREPORT_NATS_URL", "")
	return r
}

func logLevel() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelWarn
}

// cmdContext returns the command's context, or Background when the command
// runs outside Execute.
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// needsBackend opens the data backend before a command runs.
func needsBackend(cmd *cobra.Command, args []string) error {
	b, err := openBackend()
	if err != nil {
		return err
	}
	activeBackend = b
	return nil
}

var rootCmd = &cobra.Command{
	Use:           "opr <command>",
	Short:         "Cross-dimension status reports for OpenProject",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if activeBackend != nil {
			activeBackend.Close()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&serverURL, "server", "", "opr server URL (default: compute locally)")
	pf.StringVar(&serverToken, "server-token", "", "bearer token for the opr server")
	pf.StringVar(&apiURL, "api-url", "", "OpenProject base URL")
	pf.StringVar(&apiToken, "api-token", "", "OpenProject API token")
	pf.StringVarP(&projectID, "project", "p", "", "OpenProject project id or identifier")
	pf.StringVar(&remoteName, "remote", "", "remote profile to use instead of the active one")
	pf.StringVar(&rollupFlag, "rollup", "direct", "rollup mode for local computation (direct or recursive)")
	pf.IntVar(&concurrency, "concurrency", 10, "parallel task lookups during backfill")
	pf.BoolVar(&showProgress, "progress", false, "print computation progress to stderr")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	pf.BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "report", Title: "Reports:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.OnInitialize(func() {
		if jsonOutput || !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}
	})
	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Reports
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(dimsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(watchCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
