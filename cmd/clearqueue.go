package cmd

import (
	"github.com/spf13/cobra"
)

func newClearQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clearqueue",
		Short: "Drop all pending requests and forget every seen identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Queue.Clear(cmd.Context()); err != nil {
				return err
			}
			a.Logger.Info("queue cleared")
			return nil
		},
	}
}
