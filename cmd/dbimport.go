package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listcrawler/internal/export/kafka"
)

func newDBImportCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "dbimport",
		Short: "Import exported items into Postgres",
		Long: `Consumes the export topic with the kafka.group_id consumer group, so a
rerun resumes after the last committed item, and bulk inserts valid items
in batches of postgres.batch_size. Invalid items are skipped. Without
--follow the import ends once the topic is idle for kafka.idle_timeout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			importer, err := a.Importer(cmd.Context())
			if err != nil {
				return err
			}
			sink, err := a.Sink()
			if err != nil {
				return err
			}
			defer sink.Close() //nolint:errcheck // reader-only use

			opts := kafka.StreamOptions{From: kafka.Earliest, GroupID: a.Config.Kafka.GroupID}
			if !follow {
				opts.IdleTimeout = a.Config.Kafka.IdleTimeout
			}
			n, err := importer.Run(cmd.Context(), sink.Stream(cmd.Context(), a.Config.Kafka.Topic, opts))
			a.Logger.Info("import finished", zap.Int("rows", n))
			if err != nil && cmd.Context().Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&follow, "follow", false, "keep importing new items until interrupted")
	return cmd
}
