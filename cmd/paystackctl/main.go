package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"payment-relay/internal/config"
	"payment-relay/internal/migrations"
	"payment-relay/internal/repository"
	"payment-relay/internal/service"
)

var Version = "dev"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:           "paystackctl",
		Short:         "Administer the payment relay database and API keys",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log database activity to stderr")

	logger := func() *slog.Logger {
		if verbose {
			return slog.New(slog.NewTextHandler(os.Stderr, nil))
		}
		return slog.New(slog.DiscardHandler)
	}

	rootCmd.AddCommand(migrateCmd(logger))
	rootCmd.AddCommand(keysCmd(logger))

	return rootCmd
}

// openDB connects using the same environment as the server.
func openDB(ctx context.Context) (*sql.DB, *config.Config, error) {
	cfg := config.Load()
	db, err := repository.Open(ctx, cfg.GetDBConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, cfg, nil
}

func migrateCmd(logger func() *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := migrations.Apply(cmd.Context(), db, logger())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", name)
			}
			return nil
		},
	}
}

func keysCmd(logger func() *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage client API keys",
	}

	withService := func(cmd *cobra.Command, fn func(*service.APIKeyService) error) error {
		db, cfg, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		l := logger()
		return fn(service.NewAPIKeyService(repository.NewStore(db, l, cfg.DefaultCurrency), l))
	}

	var name, owner string
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue a new API key",
		Long: `Issue a new API key for a client.

The plaintext key is printed once. Only its hash is stored, so it cannot be
recovered later.

Examples:
  paystackctl keys create --name checkout --owner shop-42`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(svc *service.APIKeyService) error {
				plaintext, key, err := svc.Create(cmd.Context(), name, owner)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ID:    %s\nName:  %s\nOwner: %s\nKey:   %s\n", key.ID, key.Name, key.Owner, plaintext)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label for the key")
	create.Flags().StringVar(&owner, "owner", "", "principal the key acts for")
	create.MarkFlagRequired("name")
	create.MarkFlagRequired("owner")

	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(svc *service.APIKeyService) error {
				keys, err := svc.List(cmd.Context())
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tOWNER\tPREFIX\tACTIVE\tCREATED\tLAST USED")
				for _, k := range keys {
					lastUsed := "never"
					if k.LastUsed != nil {
						lastUsed = k.LastUsed.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
						k.ID, k.Name, k.Owner, k.Prefix, k.IsActive, k.CreatedAt.Format(time.RFC3339), lastUsed)
				}
				return w.Flush()
			})
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke [id]",
		Short: "Deactivate an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid key id %q: %w", args[0], err)
			}
			return withService(cmd, func(svc *service.APIKeyService) error {
				if err := svc.Revoke(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Revoked %s\n", id)
				return nil
			})
		},
	}

	cmd.AddCommand(create, list, revoke)
	return cmd
}
