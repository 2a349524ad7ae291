package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bootseq/internal/baseimage"
)

var runtimeCmd = &cobra.Command{
	Use:   "runtime",
	Short: "Manage base runtimes kept in the artifact store",
}

var runtimePushCmd = &cobra.Command{
	Use:   "push <name:tag> <dir>",
	Short: "Store an unpacked base runtime so builds can Prepare from it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := baseimage.ParseRef(args[0])
		if err != nil {
			return err
		}
		desc, err := baseimage.Push(cmd.Context(), app.store, ref, args[1])
		if err != nil {
			return err
		}
		app.logger.Info("runtime pushed", "ref", ref.String(), "digest", desc.Digest, "size", desc.Size)
		fmt.Fprintf(cmd.OutOrStdout(), "%s@%s\n", ref.Name, desc.Digest)
		return nil
	},
}

func init() {
	runtimeCmd.AddCommand(runtimePushCmd)
	rootCmd.AddCommand(runtimeCmd)
}
