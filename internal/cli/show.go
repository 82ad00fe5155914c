package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkrupp/homecase-accounts/internal/domain"
)

// NewShowCommand creates the show command, which prints one account.
// The credential is never printed.
func NewShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show NATURAL_KEY",
		Short: "Show an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			svc, err := opts.OpenService(ctx)
			if err != nil {
				return err
			}
			defer closeService(ctx, svc)

			account, err := svc.GetAccount(ctx, args[0])
			if err != nil {
				if errors.Is(err, domain.ErrAccountNotFound) {
					return WrapExitError(ExitNotFound, "show account", err)
				}

				return WrapExitError(ExitFailure, "show account", err)
			}

			return opts.Output(cmd).Print(account, func(w io.Writer) error {
				_, err := fmt.Fprintf(w,
					"id:           %s\nnatural key:  %s\ndisplay name: %s\nrole:         %s\nverified:     %t\ncreated at:   %s\n",
					account.ID,
					account.NaturalKey,
					account.DisplayName,
					account.Role,
					account.Verified,
					account.CreatedAt.Format(time.RFC3339),
				)

				return err //nolint:wrapcheck
			})
		},
	}
}
