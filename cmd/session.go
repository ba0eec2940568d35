package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listcrawler/internal/session"
)

func newSessionCmd() *cobra.Command {
	var partitions []string
	cmd := &cobra.Command{
		Use:   "session [session_id] <path>",
		Short: "Seed the queue with the first list page of each partition",
		Long: `Puts one page-0 list request per partition on the queue. The path is
resolved against each partition's root URL. A session id is generated
when omitted.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			var sessionID, path string
			if len(args) == 2 {
				sessionID, path = args[0], args[1]
			} else {
				path = args[0]
				if sessionID, err = a.IDs.NewID(); err != nil {
					return err
				}
			}
			if len(partitions) == 0 {
				partitions = a.Config.Crawler.Partitions
			}

			reqs, err := session.Seed(cmd.Context(), a.Queue, session.Spec{
				SessionID:   sessionID,
				Path:        path,
				Partitions:  partitions,
				URLTemplate: a.Config.Crawler.URLTemplate,
			})
			if err != nil {
				return err
			}
			a.Logger.Info("session seeded", zap.String("session_id", sessionID), zap.Int("requests", len(reqs)))
			fmt.Fprintln(cmd.OutOrStdout(), sessionID)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&partitions, "partitions", nil, "partition keys to seed (default from crawler.partitions)")
	return cmd
}
