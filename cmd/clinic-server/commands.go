package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clinic/clinic/internal/domain/clinic"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/migrations"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// withMigrator opens the pool for one migrate subcommand.
	withMigrator := func(fn func(ctx context.Context, m *db.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPostgres(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			return fn(ctx, db.NewMigrator(pool, migrations.FS))
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: withMigrator(func(ctx context.Context, m *db.Migrator) error {
			count, err := m.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: withMigrator(func(ctx context.Context, m *db.Migrator) error {
			statuses, err := m.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: withMigrator(func(ctx context.Context, m *db.Migrator) error {
			mig, err := m.Down(ctx)
			if err != nil {
				return err
			}
			if mig == nil {
				fmt.Println("Nothing to roll back.")
				return nil
			}
			fmt.Printf("Rolled back migration %d (%s).\n", mig.Version, mig.Name)
			return nil
		}),
	})

	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user account, typically the first Admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")
			role, _ := cmd.Flags().GetString("role")
			fullName, _ := cmd.Flags().GetString("full-name")
			if username == "" || password == "" {
				return fmt.Errorf("--username and --password are required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPostgres(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			users := clinic.NewUserService(clinic.NewPGStore(pool), nil, newLogger(cfg))
			req := clinic.UserRequest{Username: &username, Password: &password, Role: &role}
			if fullName != "" {
				req.FullName = &fullName
			}
			u, err := users.CreateUser(ctx, req)
			if err != nil {
				return err
			}
			fmt.Printf("Created %s user %q (%s).\n", u.Role, u.Username, u.ID)
			return nil
		},
	}
	createCmd.Flags().String("username", "", "Login name")
	createCmd.Flags().String("password", "", "Initial password")
	createCmd.Flags().String("role", "Admin", "Admin or Staff")
	createCmd.Flags().String("full-name", "", "Display name")

	cmd.AddCommand(createCmd)
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load demo departments, doctors, patients and appointments",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPostgres(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			report, err := seedDemo(ctx, clinic.NewPGStore(pool), adminFromConfig(cfg), newLogger(cfg))
			if err != nil {
				return err
			}
			if report.Admin != "" {
				fmt.Printf("Created Admin user %q.\n", report.Admin)
			}
			if report.Skipped {
				fmt.Println("Store already has departments; nothing seeded.")
				return nil
			}
			fmt.Printf("Seeded %d departments, %d doctors, %d patients and %d appointments (%d events).\n",
				report.Departments, report.Doctors, report.Patients, report.Appointments, report.Events)
			return nil
		},
	}
}
