package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/collector"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/config"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/configstore"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/datastore"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/domain"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/gns3"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/nodes"
)

func newLoggingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logging",
		Short: "Student logging sessions",
	}
	cmd.AddCommand(newLoggingSetupCmd(), newLoggingTeardownCmd())
	return cmd
}

// loggingProvisioner binds a collector provisioner to the project in
// the generated node config, preferring the config's server address.
func loggingProvisioner(settings config.Settings, logger *zap.Logger) (*collector.Provisioner, string, error) {
	store := configstore.New(settings.ConfigPath)
	doc, err := store.Load()
	if err != nil {
		return nil, "", fmt.Errorf("loading node config: %w", err)
	}

	projectID := doc.ProjectID()
	if projectID == "" {
		return nil, "", fmt.Errorf("config %s has no project_id; build a topology first", store.Path())
	}

	serverIP := doc.ServerIP()
	if serverIP == "" {
		serverIP = settings.GNS3ServerIP
	}

	client := gns3.New(settings.ServerURL(serverIP), settings.GNS3Username, settings.GNS3Password, settings.GNS3RequestDelay)
	return collector.NewProvisioner(client, projectID, serverIP, nodes.DefaultClassifier(), logger), doc.ProjectName(), nil
}

type loggingSetupOutput struct {
	Student        string                     `json:"student"`
	ProjectName    string                     `json:"project_name"`
	SnitchNodes    []collector.SnitchNodeInfo `json:"snitch_nodes"`
	InjectedNodes  []string                   `json:"injected_nodes"`
	SkippedNodes   []string                   `json:"skipped_nodes"`
	Errors         []string                   `json:"errors"`
	ReusedExisting bool                       `json:"reused_existing"`
	SessionSaved   bool                       `json:"session_saved"`
}

func newLoggingSetupCmd() *cobra.Command {
	var student string
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Deploy IT and OT collectors for a student and record the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			sanitized, err := datastore.SanitizeStudentName(student)
			if err != nil {
				return err
			}

			provisioner, projectName, err := loggingProvisioner(a.settings, a.logger)
			if err != nil {
				return err
			}

			result, err := provisioner.SetupLogging(cmd.Context(), sanitized)
			if err != nil {
				return err
			}

			out := loggingSetupOutput{
				Student:        sanitized,
				ProjectName:    projectName,
				SnitchNodes:    result.SnitchNodes,
				InjectedNodes:  result.InjectedNodes,
				SkippedNodes:   result.SkippedNodes,
				Errors:         result.Errors,
				ReusedExisting: result.ReusedExisting,
			}

			// A session without collectors cannot serve later retrieval, so
			// only a run that deployed at least one is recorded.
			if len(result.SnitchNodes) > 0 {
				db, err := config.OpenDatabase(a.settings.DatabasePath)
				if err != nil {
					return fmt.Errorf("opening database: %w", err)
				}
				defer db.Close()
				ds := datastore.New(db)
				defer ds.Close()

				saved, err := ds.SaveStudent(domain.Student{
					Name:        sanitized,
					DisplayName: strings.TrimSpace(student),
					ProjectName: projectName,
				})
				if err != nil {
					return fmt.Errorf("saving session: %w", err)
				}

				collectors := make([]domain.Collector, len(result.SnitchNodes))
				for i, s := range result.SnitchNodes {
					collectors[i] = domain.Collector{
						StudentID:         saved.ID,
						NodeID:            s.NodeID,
						Name:              s.Name,
						IPAddress:         s.IPAddress,
						Port:              s.Port,
						ConnectedToSwitch: s.ConnectedToSwitch,
						ConsoleHost:       s.ConsoleHost,
						ConsolePort:       s.ConsolePort,
					}
				}
				if err := ds.ReplaceCollectors(saved.ID, collectors); err != nil {
					return fmt.Errorf("saving collectors: %w", err)
				}
				out.SessionSaved = true
			}

			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&student, "student", "", "student name (required)")
	_ = cmd.MarkFlagRequired("student")
	cmd.Flags().String("node-config", "", "generated node config path")
	cmd.Flags().String("database", "./data/ae3gis.db", "sqlite database path")
	return cmd
}

func newLoggingTeardownCmd() *cobra.Command {
	var student string
	cmd := &cobra.Command{
		Use:   "teardown",
		Short: "Delete a student's collector nodes and session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			sanitized, err := datastore.SanitizeStudentName(student)
			if err != nil {
				return err
			}

			provisioner, _, err := loggingProvisioner(a.settings, a.logger)
			if err != nil {
				return err
			}

			// Nodes go first: if deletion fails the session stays and the
			// teardown can be retried.
			deleted, err := provisioner.DeleteCollectorNodes(cmd.Context(), sanitized)
			if err != nil {
				return err
			}

			db, err := config.OpenDatabase(a.settings.DatabasePath)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()
			if _, err := datastore.New(db).DeleteStudentByName(sanitized); err != nil {
				return fmt.Errorf("deleting session: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d collector node(s) for student '%s'\n", len(deleted), sanitized)
			return nil
		},
	}
	cmd.Flags().StringVar(&student, "student", "", "student name (required)")
	_ = cmd.MarkFlagRequired("student")
	cmd.Flags().String("node-config", "", "generated node config path")
	cmd.Flags().String("database", "./data/ae3gis.db", "sqlite database path")
	return cmd
}
