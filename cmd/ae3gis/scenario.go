package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/gns3"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/scenario"
)

func newScenarioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Scenario execution across GNS3 servers",
	}
	cmd.AddCommand(newScenarioRunCmd())
	return cmd
}

func newScenarioRunCmd() *cobra.Command {
	var (
		servers           []string
		projectName       string
		projectID         string
		dhcpScript        string
		serverScript      string
		clientScript      string
		shell             string
		runTimeout        time.Duration
		runConcurrency    int
		serverConcurrency int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Open a project, start its nodes, and run the boot scripts",
		Long: "Open the project on every target server, bring all nodes to started,\n" +
			"then run the role scripts phase-ordered: DHCP and server nodes first,\n" +
			"client nodes once the infrastructure is up.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			settings := a.settings

			targets := servers
			if len(targets) == 0 {
				targets = []string{settings.GNS3ServerIP}
			}
			ips, err := scenario.ExpandTargets(targets)
			if err != nil {
				return err
			}
			if len(ips) == 0 {
				return fmt.Errorf("no target servers")
			}

			id, err := resolveProjectID(cmd.Context(), settings, ips[0], projectID, projectName)
			if err != nil {
				return err
			}

			newClient := func(serverIP string) scenario.PlatformClient {
				return gns3.New(settings.ServerURL(serverIP), settings.GNS3Username, settings.GNS3Password, settings.GNS3RequestDelay)
			}
			runner := scenario.NewRunner(newClient, a.logger)

			report := runner.RunAcross(cmd.Context(), ips, id, scenario.Options{
				Scripts: scenario.Scripts{
					DHCP:   dhcpScript,
					Server: serverScript,
					Client: clientScript,
				},
				Shell:             shell,
				RunTimeout:        runTimeout,
				RunConcurrency:    runConcurrency,
				ServerConcurrency: serverConcurrency,
			})
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().StringSliceVar(&servers, "servers", nil, "GNS3 server addresses or a-b ranges (default the configured server)")
	cmd.Flags().StringVar(&projectName, "project", "", "project name to resolve on the first server")
	cmd.Flags().StringVar(&projectID, "project-id", "", "project UUID (skips name resolution)")
	cmd.Flags().StringVar(&dhcpScript, "dhcp-script", scenario.DefaultDHCPScript, "remote script for DHCP nodes")
	cmd.Flags().StringVar(&serverScript, "server-script", scenario.DefaultServerScript, "remote script for server nodes")
	cmd.Flags().StringVar(&clientScript, "client-script", scenario.DefaultClientScript, "remote script for client nodes")
	cmd.Flags().StringVar(&shell, "shell", scenario.DefaultShell, "shell wrapping each script")
	cmd.Flags().DurationVar(&runTimeout, "run-timeout", scenario.DefaultRunTimeout, "console window per script run")
	cmd.Flags().IntVar(&runConcurrency, "concurrency", scenario.DefaultRunConcurrency, "simultaneous consoles per phase")
	cmd.Flags().IntVar(&serverConcurrency, "server-concurrency", scenario.DefaultServerConcurrency, "simultaneous GNS3 servers")
	cmd.Flags().String("node-config", "", "generated node config path")
	return cmd
}
