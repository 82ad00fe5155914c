// Package cli implements the accountctl command line.
package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/mkrupp/homecase-accounts/internal/infra/config"
	"github.com/mkrupp/homecase-accounts/internal/infra/logging"
	"github.com/mkrupp/homecase-accounts/internal/repo/collection"
	"github.com/mkrupp/homecase-accounts/internal/svc/accountsvc"
	"github.com/mkrupp/homecase-accounts/internal/svc/accountsvc/accountclient"
)

// ConfigNamespace is the environment variable namespace of accountctl.
const ConfigNamespace = "ACCOUNTS_ACCOUNTCTL"

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "yaml"} //nolint:gochecknoglobals

// Config is the environment configuration of accountctl.
type Config struct {
	config.EnvConfig

	Log     logging.LoggerConfig           `envPrefix:"LOG_"`
	Account accountsvc.AccountConfig       `envPrefix:"ACCOUNT_"`
	Store   collection.StoreConfig         `envPrefix:"STORE_"`
	Client  accountclient.HTTPClientConfig `envPrefix:"CLIENT_"`
}

// RootOptions holds global flags and configuration for all commands.
type RootOptions struct {
	Format     string
	Driver     string
	SQLitePath string

	Config Config
}

// NewRootCommand creates the root command for accountctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "accountctl",
		Short:         "Manage audited developer accounts",
		Long:          "Creates developer accounts together with their audit trail and inspects both.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}

			if err := config.Parse(cmd.Context(), &opts.Config, ConfigNamespace); err != nil {
				return WrapExitError(ExitCommandError, "parse config", err)
			}

			if opts.Driver != "" {
				opts.Config.Store.Driver = opts.Driver
			}

			if opts.SQLitePath != "" {
				opts.Config.Store.SQLite.DatabasePath = opts.SQLitePath
			}

			logging.Configure(cmd.Context(), opts.Config.Log, "accounts.accountctl")

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	cmd.PersistentFlags().StringVar(&opts.Driver, "store", "", "store driver (memory|sqlite|mongo|postgres), overrides STORE_DRIVER")
	cmd.PersistentFlags().StringVar(&opts.SQLitePath, "sqlite-path", "", "SQLite database path, overrides STORE_SQLITE_DATABASE_PATH")

	cmd.AddCommand(NewSetupCommand(opts))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))

	return cmd
}

// Output returns a formatter writing to the command's output.
func (o *RootOptions) Output(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

// OpenService creates an account service on the configured store.
// The caller must close it.
func (o *RootOptions) OpenService(ctx context.Context) (*accountsvc.AccountService, error) {
	storeFactory, err := collection.NewStoreFactory(o.Config.Store)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "configure store", err)
	}

	svc, err := accountsvc.NewAccountService(ctx, storeFactory, o.Config.Account)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open store", err)
	}

	return svc, nil
}

func closeService(ctx context.Context, svc *accountsvc.AccountService) {
	if err := svc.Close(ctx); err != nil {
		logging.GetLogger("cli").WarnContext(ctx, "close service failed", "error", err)
	}
}
