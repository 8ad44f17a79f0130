package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/configstore"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/gns3"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/templates"
)

func newTemplatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Template registry cache",
	}
	cmd.AddCommand(newTemplatesRefreshCmd())
	return cmd
}

func newTemplatesRefreshCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Re-fetch templates and projects from the GNS3 server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			settings := a.settings

			client := gns3.New(settings.GNS3BaseURL, settings.GNS3Username, settings.GNS3Password, settings.GNS3RequestDelay)
			store := configstore.New(settings.TemplatesCachePath)
			info := templates.ServerInfo{
				BaseURL: settings.GNS3BaseURL,
				IP:      settings.GNS3ServerIP,
				Port:    settings.GNS3ServerPort,
			}
			if _, err := templates.Refresh(cmd.Context(), client, store, info); err != nil {
				return err
			}
			reg, err := templates.LoadRegistry(store)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Cached %d template(s) and %d project(s) from %s to %s\n",
				len(reg.Templates), len(reg.Projects), reg.Source, store.Path())
			return nil
		},
	}
	cmd.Flags().String("base-url", "", "GNS3 server base URL")
	return cmd
}
