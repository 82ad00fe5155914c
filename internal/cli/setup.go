package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mkrupp/homecase-accounts/internal/svc/accountsvc"
)

// SetupResult is printed by the setup command.
type SetupResult struct {
	Collections []string `json:"collections"`
}

// NewSetupCommand creates the setup command, which creates the account and
// audit collections if they are missing.
func NewSetupCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create the account and audit collections (idempotent)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			svc, err := opts.OpenService(ctx)
			if err != nil {
				return err
			}
			defer closeService(ctx, svc)

			if err := svc.Setup(ctx); err != nil {
				return WrapExitError(ExitFailure, "setup", err)
			}

			var result SetupResult
			for _, spec := range accountsvc.Specs() {
				result.Collections = append(result.Collections, string(spec.Name))
			}

			return opts.Output(cmd).Print(result, func(w io.Writer) error {
				for _, name := range result.Collections {
					if _, err := fmt.Fprintf(w, "collection %s ready\n", name); err != nil {
						return err //nolint:wrapcheck
					}
				}

				return nil
			})
		},
	}
}
