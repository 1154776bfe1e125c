package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"codetoflows.com/backend/internal/auth"
	"codetoflows.com/backend/internal/config"
	"codetoflows.com/backend/internal/store"
)

// cliActor is recorded as the admin for changes made from the shell.
const cliActor = "cli"

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tools",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Run all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				_, log, dbStore, err := bootstrap(cmd.Context())
				if err != nil {
					return err
				}
				defer dbStore.Close()

				// NewSQLiteStore already migrated; this reports where it landed.
				version, err := dbStore.Migrate(cmd.Context())
				if err != nil {
					return err
				}
				log.Info("database is up to date", "version", version)
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show migration status",
			RunE: func(cmd *cobra.Command, args []string) error {
				_, _, dbStore, err := bootstrap(cmd.Context())
				if err != nil {
					return err
				}
				defer dbStore.Close()

				statuses, err := dbStore.MigrationStatus(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED AT\tSOURCE")
				for _, s := range statuses {
					applied := "-"
					if !s.AppliedAt.IsZero() {
						applied = s.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Source.Version, s.State, applied, s.Source.Path)
				}
				return w.Flush()
			},
		},
	)
	return cmd
}

func newCreditsCommand() *cobra.Command {
	var (
		userID string
		amount int
		notes  string
	)

	grant := &cobra.Command{
		Use:   "grant",
		Short: "Adjust a user's credit balance",
		Long:  `Apply a signed credit adjustment. It is recorded in the ledger and the admin log like an adjustment made through the admin API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if amount == 0 {
				return errors.New("--amount must be non-zero")
			}
			_, log, dbStore, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer dbStore.Close()

			balance, err := dbStore.AdjustCredits(cmd.Context(), cliActor, userID, amount, notes)
			if err != nil {
				return fmt.Errorf("failed to adjust credits for %s: %w", userID, err)
			}
			log.Info("credits adjusted", "user_id", userID, "delta", amount, "balance", balance)
			return nil
		},
	}
	grant.Flags().StringVarP(&userID, "user", "u", "", "User id (required)")
	grant.Flags().IntVarP(&amount, "amount", "a", 0, "Credits to add, negative to remove")
	grant.Flags().StringVar(&notes, "notes", "", "Reason recorded with the adjustment")
	grant.MarkFlagRequired("user")
	grant.MarkFlagRequired("amount")

	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Credit ledger tools",
	}
	cmd.AddCommand(grant)
	return cmd
}

func newUsersCommand() *cobra.Command {
	var (
		userID string
		role   string
	)

	setRole := &cobra.Command{
		Use:   "set-role",
		Short: "Change a user's role",
		Long:  `Change a user's role. Use this to create the first super_admin, who can then promote admins through the API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, dbStore, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer dbStore.Close()

			if err := dbStore.SetUserRole(cmd.Context(), cliActor, userID, store.Role(role)); err != nil {
				return fmt.Errorf("failed to set role for %s: %w", userID, err)
			}
			log.Info("role updated", "user_id", userID, "role", role)
			return nil
		},
	}
	setRole.Flags().StringVarP(&userID, "user", "u", "", "User id (required)")
	setRole.Flags().StringVarP(&role, "role", "r", string(store.RoleAdmin), "One of user, admin, super_admin")
	setRole.MarkFlagRequired("user")

	list := &cobra.Command{
		Use:   "list",
		Short: "List users and their balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, dbStore, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer dbStore.Close()

			users, err := dbStore.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEMAIL\tCREDITS\tROLE\tSTATUS\tVERIFIED")
			for _, u := range users {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%t\n", u.ID, u.Email, u.Credits, u.Role, u.Status, u.EmailVerified)
			}
			return w.Flush()
		},
	}

	cmd := &cobra.Command{
		Use:   "users",
		Short: "User administration",
	}
	cmd.AddCommand(setRole, list)
	return cmd
}

func newTokenCommand() *cobra.Command {
	var (
		userID   string
		email    string
		verified bool
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a session token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			token, err := auth.NewTokens(cfg.JWTSecret).Issue(userID, email, verified, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "Subject user id (required)")
	cmd.Flags().StringVar(&email, "email", "", "Email claim")
	cmd.Flags().BoolVar(&verified, "verified", true, "Mark the email as verified")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	cmd.MarkFlagRequired("user")
	return cmd
}

func newCacheCommand() *cobra.Command {
	var olderThan time.Duration

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete cached diagrams older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			_, log, dbStore, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer dbStore.Close()

			removed, err := dbStore.PruneCache(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			log.Info("cache pruned", "removed", removed, "older_than", olderThan)
			return nil
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age above which entries are deleted")

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Diagram cache maintenance",
	}
	cmd.AddCommand(prune)
	return cmd
}
