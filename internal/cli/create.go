package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/mkrupp/homecase-accounts/internal/domain"
	"github.com/mkrupp/homecase-accounts/internal/infra/txn"
	"github.com/mkrupp/homecase-accounts/internal/svc/accountsvc"
	"github.com/mkrupp/homecase-accounts/internal/svc/accountsvc/accountclient"
)

// CreateOptions holds the flags of the create command.
type CreateOptions struct {
	NaturalKey  string
	Credential  string
	Password    string
	DisplayName string
	Actor       string
	Server      string
}

// NewCreateCommand creates the create command. It creates the account in the
// configured store, or through a running account service if --server is set.
func NewCreateCommand(opts *RootOptions) *cobra.Command {
	createOpts := &CreateOptions{}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a developer account with an audit entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			candidate, err := createOpts.candidate()
			if err != nil {
				return err
			}

			created, err := createOpts.create(cmd, opts, candidate)
			if err != nil {
				return createError(err)
			}

			return opts.Output(cmd).Print(created, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "created account %s (id %s)\n", created.NaturalKey, created.ID)

				return err //nolint:wrapcheck
			})
		},
	}

	cmd.Flags().StringVar(&createOpts.NaturalKey, "natural-key", "", "unique identity key of the account (required)")
	cmd.Flags().StringVar(&createOpts.Credential, "credential", "", "pre-hashed credential")
	cmd.Flags().StringVar(&createOpts.Password, "password", "", "plain password, hashed with bcrypt before storing")
	cmd.Flags().StringVar(&createOpts.DisplayName, "display-name", "", "display name")
	cmd.Flags().StringVar(&createOpts.Actor, "actor", "", "identity the audit entry is attributed to")
	cmd.Flags().StringVar(&createOpts.Server, "server", "", "account service URL; creates through the service instead of the store")

	_ = cmd.MarkFlagRequired("natural-key")
	cmd.MarkFlagsMutuallyExclusive("credential", "password")
	cmd.MarkFlagsOneRequired("credential", "password")

	return cmd
}

func (o *CreateOptions) candidate() (domain.AccountCandidate, error) {
	candidate := domain.AccountCandidate{
		NaturalKey:  o.NaturalKey,
		Credential:  o.Credential,
		DisplayName: o.DisplayName,
	}

	if o.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(o.Password), bcrypt.DefaultCost)
		if err != nil {
			return domain.AccountCandidate{}, WrapExitError(ExitCommandError, "hash password", err)
		}

		candidate.Credential = string(hash)
	}

	candidate = candidate.Normalize()

	if err := candidate.Validate(); err != nil {
		return domain.AccountCandidate{}, WrapExitError(ExitCommandError, "invalid account", err)
	}

	return candidate, nil
}

func (o *CreateOptions) create(
	cmd *cobra.Command,
	opts *RootOptions,
	candidate domain.AccountCandidate,
) (domain.AccountCreated, error) {
	ctx := cmd.Context()

	if o.Server != "" {
		clientCfg := opts.Config.Client
		clientCfg.ServerURL = o.Server

		return accountclient.NewHTTPClient(clientCfg, nil).CreateAccount(ctx, candidate, o.Actor) //nolint:wrapcheck
	}

	svc, err := opts.OpenService(ctx)
	if err != nil {
		return domain.AccountCreated{}, err
	}
	defer closeService(ctx, svc)

	return svc.CreateAccount(ctx, candidate, o.Actor) //nolint:wrapcheck
}

func createError(err error) error {
	var exitErr *ExitError

	switch {
	case errors.As(err, &exitErr):
		return err
	case errors.Is(err, domain.ErrAccountExists):
		return WrapExitError(ExitConflict, accountsvc.MsgIdentityTaken, err)
	case errors.Is(err, txn.ErrRejected):
		return WrapExitError(ExitCommandError, "invalid account", err)
	default:
		return WrapExitError(ExitFailure, accountsvc.MsgNotCommitted, err)
	}
}
