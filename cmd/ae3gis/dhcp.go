package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/configstore"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/dhcp"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/nodes"
)

func newDHCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dhcp",
		Short: "DHCP address orchestration",
	}
	cmd.AddCommand(newDHCPAssignCmd())
	return cmd
}

func newDHCPAssignCmd() *cobra.Command {
	var (
		dhclientTimeout float64
		warmup          float64
	)
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Start DHCP servers, lease addresses on clients, and record them",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if dhclientTimeout < 1 {
				return fmt.Errorf("dhclient-timeout must be at least 1 second")
			}
			if warmup < 0 {
				return fmt.Errorf("warmup must not be negative")
			}

			opts := dhcp.Options{
				DHClientTimeout: time.Duration(dhclientTimeout * float64(time.Second)),
				Warmup:          time.Duration(warmup * float64(time.Second)),
			}
			// Only an explicit flag overrides the per-node console hosts.
			if cmd.Flags().Changed("server-ip") {
				opts.HostOverride = a.settings.GNS3ServerIP
			}

			store := configstore.New(a.settings.ConfigPath)
			orchestrator := dhcp.NewOrchestrator(store, nodes.DefaultClassifier(), a.logger)
			result, err := orchestrator.Assign(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().String("node-config", "", "generated node config path")
	cmd.Flags().String("server-ip", "", "console host override for every node")
	cmd.Flags().Float64Var(&dhclientTimeout, "dhclient-timeout", 15, "per-client dhclient wait in seconds")
	cmd.Flags().Float64Var(&warmup, "warmup", 2, "settle time after starting DHCP servers in seconds")
	return cmd
}
