package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/opreport/internal/client"
	"github.com/alfredjeanlab/opreport/internal/server"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of an opr server",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r := resolveRemote()
		grpcAddr, _ := cmd.Flags().GetString("grpc")

		ctx, cancel := context.WithTimeout(cmdContext(cmd), 10*time.Second)
		defer cancel()

		var status string
		if grpcAddr != "" {
			hc, err := client.NewGRPCHealthClient(grpcAddr, r.ServerToken)
			if err != nil {
				return err
			}
			defer hc.Close()
			if status, err = hc.Health(ctx, server.ServiceName); err != nil {
				return fmt.Errorf("checking health: %w", err)
			}
		} else {
			if r.Server == "" {
				return fmt.Errorf("no server: pass --server or --grpc")
			}
			var err error
			if status, err = client.NewServerClient(r.Server, r.ServerToken).Health(ctx); err != nil {
				return fmt.Errorf("checking health: %w", err)
			}
		}

		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), map[string]string{"status": status}); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Health: %s\n", status)
		}

		if status != "ok" && status != "SERVING" {
			return fmt.Errorf("unhealthy: %s", status)
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().String("grpc", "", "probe the gRPC health service at this address instead of HTTP")
}
