package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-catalog-migrator/migrate"
)

// withMigrator opens the state directory for a command that does not import.
func withMigrator(g *globalFlags, cmd *cobra.Command, fn func(*migrate.Migrator) error) error {
	cfg, err := g.loadConfig(cmd)
	if err != nil {
		return err
	}
	m, err := migrate.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			slog.Error("release state lock", slog.Any("error", err))
		}
	}()
	return fn(m)
}

func newResetCommand(g *globalFlags) *cobra.Command {
	var mappings bool

	cmd := &cobra.Command{
		Use:   "reset <entity>...",
		Short: "Discard checkpoints so the next import starts from page one",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(g, cmd, func(m *migrate.Migrator) error {
				for _, entity := range args {
					if err := m.Reset(entity, mappings); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", entity)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&mappings, "mappings", false, "Also delete the id mappings of the entity")
	return cmd
}

func newStatusCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show checkpoints and mapping counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(g, cmd, func(m *migrate.Migrator) error {
				status, err := m.Status()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderStatus(status))
				return nil
			})
		},
	}
}

func newExportMappingsCommand(g *globalFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "export-mappings <path>",
		Short: "Write every id mapping to a JSON backup or a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("format") && strings.EqualFold(filepath.Ext(args[0]), ".csv") {
				format = "csv"
			}
			return withMigrator(g, cmd, func(m *migrate.Migrator) error {
				if err := m.ExportMappings(args[0], format); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "mappings written to %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json or csv")
	return cmd
}

func newImportMappingsCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import-mappings <path>",
		Short: "Restore id mappings from a JSON backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(g, cmd, func(m *migrate.Migrator) error {
				if err := m.ImportMappings(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "mappings restored from %s\n", args[0])
				return nil
			})
		},
	}
}
