package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/gns3"
)

func newNodesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "Project node management",
	}
	cmd.AddCommand(newNodesDeleteCmd())
	return cmd
}

func newNodesDeleteCmd() *cobra.Command {
	var (
		projectName string
		projectID   string
	)
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete every node and link in a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			settings := a.settings

			id, err := resolveProjectID(cmd.Context(), settings, settings.GNS3ServerIP, projectID, projectName)
			if err != nil {
				return err
			}

			client := gns3.New(settings.ServerURL(settings.GNS3ServerIP), settings.GNS3Username, settings.GNS3Password, settings.GNS3RequestDelay)
			teardown, err := client.DeleteAllNodes(cmd.Context(), id)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d node(s) and %d link(s) from project %s\n",
				teardown.NodesDeleted, teardown.LinksDeleted, id)
			for _, e := range teardown.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", e)
			}
			return nil
		},
	}
	cmd.Flags().String("server-ip", "", "GNS3 server address")
	cmd.Flags().StringVar(&projectName, "project", "", "project name to resolve")
	cmd.Flags().StringVar(&projectID, "project-id", "", "project UUID")
	cmd.Flags().String("node-config", "", "generated node config path")
	return cmd
}
