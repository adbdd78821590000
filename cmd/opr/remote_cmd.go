package main

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var remoteCmd = &cobra.Command{
	Use:     "remote",
	Short:   "Manage named OpenProject profiles",
	GroupID: "system",
}

var remoteAddCmd = &cobra.Command{
	Use:   "add <name> <api-url>",
	Short: "Add or update a named remote",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		apiURL, err := normalizeURL(args[1])
		if err != nil {
			return err
		}
		r := Remote{URL: apiURL}
		r.Token, _ = cmd.Flags().GetString("token")
		r.Project, _ = cmd.Flags().GetString("project")
		r.DimensionField, _ = cmd.Flags().GetString("field")
		r.ServerToken, _ = cmd.Flags().GetString("server-token")
		r.NATSURL, _ = cmd.Flags().GetString("nats")
		if srv, _ := cmd.Flags().GetString("server"); srv != "" {
			if r.Server, err = normalizeURL(srv); err != nil {
				return err
			}
		}

		cfg, err := loadRemotesConfig()
		if err != nil {
			return err
		}
		verb := "added"
		if _, ok := cfg.Remotes[name]; ok {
			verb = "updated"
		}
		cfg.Remotes[name] = r
		if use, _ := cmd.Flags().GetBool("use"); use || len(cfg.Remotes) == 1 {
			cfg.Active = name
		}
		if err := saveRemotesConfig(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "remote %q %s (%s)\n", name, verb, apiURL)
		return nil
	},
}

// normalizeURL adds a missing https scheme and drops trailing slashes.
func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid URL %q: missing host", raw)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

var remoteRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a named remote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		cfg, err := loadRemotesConfig()
		if err != nil {
			return err
		}
		if _, ok := cfg.Remotes[name]; !ok {
			return fmt.Errorf("remote %q not found", name)
		}
		delete(cfg.Remotes, name)
		if cfg.Active == name {
			cfg.Active = ""
		}
		if err := saveRemotesConfig(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "remote %q removed\n", name)
		return nil
	},
}

var remoteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all remotes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRemotesConfig()
		if err != nil {
			return err
		}
		if len(cfg.Remotes) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no remotes configured")
			return nil
		}
		names := make([]string, 0, len(cfg.Remotes))
		for name := range cfg.Remotes {
			names = append(names, name)
		}
		sort.Strings(names)

		tw := newTable(cmd.OutOrStdout())
		tw.AppendHeader(table.Row{"Name", "OpenProject", "Project", "Server", "Token"})
		for _, name := range names {
			r := cfg.Remotes[name]
			label := "  " + name
			if name == cfg.Active {
				label = "* " + name
			}
			tw.AppendRow(table.Row{label, r.URL, r.Project, r.Server, maskToken(r.Token)})
		}
		tw.Render()
		return nil
	},
}

var remoteUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Set the active remote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		cfg, err := loadRemotesConfig()
		if err != nil {
			return err
		}
		if _, ok := cfg.Remotes[name]; !ok {
			return fmt.Errorf("remote %q not found", name)
		}
		cfg.Active = name
		if err := saveRemotesConfig(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "active remote set to %q\n", name)
		return nil
	},
}

var remoteShowCmd = &cobra.Command{
	Use:   "show [<name>]",
	Short: "Show details for a remote (defaults to active)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRemotesConfig()
		if err != nil {
			return err
		}

		name := cfg.Active
		if len(args) == 1 {
			name = args[0]
		}
		if name == "" {
			return fmt.Errorf("no active remote; pass a name or run 'opr remote use'")
		}
		r, ok := cfg.Remotes[name]
		if !ok {
			return fmt.Errorf("remote %q not found", name)
		}

		active := ""
		if name == cfg.Active {
			active = " (active)"
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "name:\t%s%s\n", name, active)
		fmt.Fprintf(w, "url:\t%s\n", r.URL)
		for _, kv := range [][2]string{
			{"token", maskToken(r.Token)},
			{"project", r.Project},
			{"dimension_field", r.DimensionField},
			{"server", r.Server},
			{"server_token", maskToken(r.ServerToken)},
			{"nats_url", r.NATSURL},
		} {
			if kv[1] != "" {
				fmt.Fprintf(w, "%s:\t%s\n", kv[0], kv[1])
			}
		}
		return w.Flush()
	},
}

func init() {
	remoteAddCmd.Flags().String("token", "", "OpenProject API token")
	remoteAddCmd.Flags().String("project", "", "OpenProject project id or identifier")
	remoteAddCmd.Flags().String("field", "", "classification custom field (default customField1)")
	remoteAddCmd.Flags().String("server", "", "opr server URL; commands then query the server")
	remoteAddCmd.Flags().String("server-token", "", "bearer token for the opr server")
	remoteAddCmd.Flags().String("nats", "", "NATS URL for progress events")
	remoteAddCmd.Flags().Bool("use", false, "make this the active remote")

	remoteCmd.AddCommand(remoteAddCmd)
	remoteCmd.AddCommand(remoteRemoveCmd)
	remoteCmd.AddCommand(remoteListCmd)
	remoteCmd.AddCommand(remoteUseCmd)
	remoteCmd.AddCommand(remoteShowCmd)
}
