// ae3gis drives GNS3-hosted training topologies: DHCP address
// assignment over node consoles, script delivery, scenario boot across
// one or many servers, and student log collection. The serve command
// exposes the same operations over HTTP.
package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/config"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/configstore"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/gns3"
)

// flagBindings maps config keys to the flag that can override them. A
// flag set on the invoked command wins over the config file and
// environment; commands without the flag fall through to those.
var flagBindings = map[string]string{
	"server.listen_addr": "listen-addr",
	"config.path":        "node-config",
	"gns3.server_ip":     "server-ip",
	"gns3.base_url":      "base-url",
	"database.path":      "database",
}

// app is the per-invocation runtime assembled from flags, the config
// file and the environment.
type app struct {
	v        *viper.Viper
	settings config.Settings
	logger   *zap.Logger
}

func (a *app) close() {
	_ = a.logger.Sync()
}

// setup loads configuration and builds the logger for one command run.
func setup(cmd *cobra.Command) (*app, error) {
	cfgFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	v, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	for key, name := range flagBindings {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("binding flag --%s: %w", name, err)
		}
	}

	logger, err := config.NewLogger(v)
	if err != nil {
		return nil, err
	}

	return &app{v: v, settings: config.FromViper(v), logger: logger}, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ae3gis",
		Short:        "GNS3 scenario automation",
		Long:         "ae3gis automates GNS3 training topologies: DHCP assignment, script\ndelivery over node consoles, scenario boot, and student log collection.",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "config file (default searches for ae3gis.yaml)")

	root.AddCommand(
		newServeCmd(),
		newDHCPCmd(),
		newScenarioCmd(),
		newNodesCmd(),
		newTemplatesCmd(),
		newLoggingCmd(),
	)
	return root
}

// printJSON writes v to the command output as indented JSON.
func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// resolveProjectID picks the project to operate on: an explicit ID
// wins, then a name looked up on the server, then the generated node
// config.
func resolveProjectID(ctx context.Context, settings config.Settings, serverIP, projectID, projectName string) (string, error) {
	if projectID != "" {
		return projectID, nil
	}
	if projectName != "" {
		client := gns3.New(settings.ServerURL(serverIP), settings.GNS3Username, settings.GNS3Password, settings.GNS3RequestDelay)
		return client.FindProjectID(ctx, projectName)
	}
	doc, err := configstore.New(settings.ConfigPath).Load()
	if err != nil {
		return "", fmt.Errorf("no project selected and node config unavailable: %w", err)
	}
	if id := doc.ProjectID(); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("no project selected: pass --project or --project-id, or build a topology first")
}
