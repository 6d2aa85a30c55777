package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/kursadbilgin/phone-notifier/internal/config"
	infraredis "github.com/kursadbilgin/phone-notifier/internal/infra/redis"
	"github.com/kursadbilgin/phone-notifier/internal/observability"
	"github.com/kursadbilgin/phone-notifier/internal/settings"
	"github.com/spf13/cobra"
)

// ProviderSettings is the part of the settings store the CLI edits.
type ProviderSettings interface {
	ActiveProvider(ctx context.Context) (string, error)
	SetActiveProvider(ctx context.Context, alias string) error
	ResetActiveProvider(ctx context.Context) error
}

// StoreOpener connects to the settings store. The returned func releases it.
type StoreOpener func(ctx context.Context) (ProviderSettings, string, func() error, error)

func openStore(ctx context.Context) (ProviderSettings, string, func() error, error) {
	cfg, err := config.LoadCLI()
	if err != nil {
		return nil, "", nil, err
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, "", nil, err
	}

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, "", nil, fmt.Errorf("redis initialization failed: %w", err)
	}

	store, err := settings.NewStore(rdb, cfg.PhoneProvider, logger)
	if err != nil {
		_ = rdb.Close()
		return nil, "", nil, err
	}
	return store, cfg.PhoneProvider, rdb.Close, nil
}

// Root returns the providerctl command tree.
func Root(open StoreOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "providerctl",
		Short:         "Inspect and switch the active phone provider",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(activeCommand(open))
	cmd.AddCommand(listCommand(open))

	return cmd
}

func activeCommand(open StoreOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "active",
		Short: "Show or change the provider used for new submissions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the active provider alias",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, open, func(store ProviderSettings, _ string) error {
				alias, err := store.ActiveProvider(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), alias)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <alias>",
		Short: "Route new submissions to alias",
		Long: `Route new submissions to alias.

Records already submitted keep reconciling against the provider that accepted them.

Examples:
  providerctl active set twilio`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			alias := strings.ToLower(strings.TrimSpace(args[0]))
			if !slices.Contains(config.KnownProviders(), alias) {
				return fmt.Errorf("unknown provider %q (known: %s)", args[0], strings.Join(config.KnownProviders(), ", "))
			}

			return withStore(cmd, open, func(store ProviderSettings, _ string) error {
				if err := store.SetActiveProvider(cmd.Context(), alias); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "active provider set to %s\n", alias)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Drop the override and fall back to PHONE_PROVIDER",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, open, func(store ProviderSettings, defaultAlias string) error {
				if err := store.ResetActiveProvider(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "active provider reset to %s\n", defaultAlias)
				return nil
			})
		},
	})

	return cmd
}

func listCommand(open StoreOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known providers and mark the active one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, open, func(store ProviderSettings, defaultAlias string) error {
				active, err := store.ActiveProvider(cmd.Context())
				if err != nil {
					return err
				}
				printProviders(cmd.OutOrStdout(), active, defaultAlias)
				return nil
			})
		},
	}
}

func printProviders(w io.Writer, active string, defaultAlias string) {
	for _, alias := range config.KnownProviders() {
		marker := " "
		if alias == active {
			marker = "*"
		}
		suffix := ""
		if alias == defaultAlias {
			suffix = " (default)"
		}
		fmt.Fprintf(w, "%s %s%s\n", marker, alias, suffix)
	}
}

func withStore(cmd *cobra.Command, open StoreOpener, fn func(store ProviderSettings, defaultAlias string) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
		cmd.SetContext(ctx)
	}

	store, defaultAlias, closeFn, err := open(ctx)
	if err != nil {
		return err
	}
	defer closeFn() //nolint:errcheck

	return fn(store, defaultAlias)
}
