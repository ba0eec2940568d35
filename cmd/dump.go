package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listcrawler/internal/export/csv"
	"github.com/JakeFAU/listcrawler/internal/export/kafka"
)

func newDumpCmd() *cobra.Command {
	var (
		output string
		topic  string
		idle   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Write every exported item to CSV",
		Long: `Reads the export topic from the earliest offset and writes one CSV row per
item, columns in item field order. Stops once the topic has been idle for
--idle.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if topic == "" {
				topic = a.Config.Kafka.Topic
			}

			var out io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				defer f.Close() //nolint:errcheck // checked by Sync below
				out = f
				defer func() {
					if err := f.Sync(); err != nil {
						a.Logger.Warn("sync output", zap.Error(err))
					}
				}()
			}

			sink, err := a.Sink()
			if err != nil {
				return err
			}
			defer sink.Close() //nolint:errcheck // reader-only use

			n, err := csv.Dump(sink.Stream(cmd.Context(), topic, kafka.StreamOptions{
				From:        kafka.Earliest,
				IdleTimeout: idle,
			}), out)
			if err != nil {
				return err
			}
			a.Logger.Info("dump finished", zap.Int("items", n), zap.String("topic", topic))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "CSV file to write (default stdout)")
	cmd.Flags().StringVar(&topic, "topic", "", "topic to read (default kafka.topic)")
	cmd.Flags().DurationVar(&idle, "idle", 10*time.Second, "stop after this long without new items")
	return cmd
}
