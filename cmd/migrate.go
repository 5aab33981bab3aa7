package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/mingle/internal/config"
	"github.com/nextlevelbuilder/mingle/internal/store"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration management",
	}
	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateDownCmd())
	cmd.AddCommand(migrateVersionCmd())
	return cmd
}

func databasePath() (string, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	return cfg.DatabasePath, nil
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := databasePath()
			if err != nil {
				return err
			}
			if err := store.MigrateUp(path); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func migrateDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := databasePath()
			if err != nil {
				return err
			}
			if err := store.MigrateDown(path); err != nil {
				return err
			}
			fmt.Println("rolled back one migration")
			return nil
		},
	}
}

func migrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := databasePath()
			if err != nil {
				return err
			}
			v, dirty, err := store.MigrateVersion(path)
			if err != nil {
				return err
			}
			if dirty {
				fmt.Printf("version %d (dirty)\n", v)
			} else {
				fmt.Printf("version %d\n", v)
			}
			return nil
		},
	}
}
