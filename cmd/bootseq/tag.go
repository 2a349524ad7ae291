package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bootseq/internal/artifact"
	"bootseq/internal/launch"
	"bootseq/internal/registry"
)

var tagCmd = &cobra.Command{
	Use:   "tag <tag> <artifact-id|tag>",
	Short: "Point a tag at an existing artifact",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tag := args[0]
		if err := registry.ValidateTag(tag); err != nil {
			return err
		}
		id, err := launch.ResolveRef(ctx, app.registry, args[1])
		if err != nil {
			return err
		}
		if _, err := artifact.Load(ctx, app.store, id); err != nil {
			return err
		}
		if err := app.registry.Set(ctx, tag, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", tag, id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tagCmd)
}
