package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkrupp/homecase-accounts/internal/domain"
	"github.com/mkrupp/homecase-accounts/internal/svc/accountsvc"
)

// NewAuditCommand creates the audit command, which lists audit entries.
func NewAuditCommand(opts *RootOptions) *cobra.Command {
	var (
		action      string
		performedBy string
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List audit entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			svc, err := opts.OpenService(ctx)
			if err != nil {
				return err
			}
			defer closeService(ctx, svc)

			entries, err := svc.ListAuditEntries(ctx, accountsvc.AuditQuery{
				Action:      domain.AuditAction(action),
				PerformedBy: performedBy,
				Limit:       limit,
			})
			if err != nil {
				return WrapExitError(ExitFailure, "list audit entries", err)
			}

			return opts.Output(cmd).Print(entries, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIMESTAMP\tACTION\tPERFORMED BY\tDETAIL")

				for _, entry := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
						entry.Timestamp.Format(time.RFC3339), entry.Action, entry.PerformedBy, entry.Detail)
				}

				return tw.Flush() //nolint:wrapcheck
			})
		},
	}

	cmd.Flags().StringVar(&action, "action", "", "only entries with this action")
	cmd.Flags().StringVar(&performedBy, "performed-by", "", "only entries attributed to this actor")
	cmd.Flags().IntVar(&limit, "limit", accountsvc.DefaultAuditLimit, "maximum number of entries")

	return cmd
}
