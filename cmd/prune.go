package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired cache rows from the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("maintenance"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		pruned, err := st.PruneExpired(ctx)
		if err != nil {
			return eris.Wrap(err, "prune")
		}

		zap.L().Info("expired cache rows pruned", zap.Int("rows", pruned))
		fmt.Printf("Pruned %d expired rows.\n", pruned)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}
