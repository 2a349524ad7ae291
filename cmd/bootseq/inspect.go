package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"bootseq/internal/artifact"
	"bootseq/internal/launch"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [artifact-id|tag]",
	Short: "Print an artifact config, or list artifacts and tags",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if len(args) == 0 {
			return listArtifacts(cmd)
		}
		id, err := launch.ResolveRef(ctx, app.registry, args[0])
		if err != nil {
			return err
		}
		cfg, err := artifact.Load(ctx, app.store, id)
		if err != nil {
			return err
		}
		out := struct {
			ID string `json:"id"`
			*artifact.Config
		}{id, cfg}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func listArtifacts(cmd *cobra.Command) error {
	ctx := cmd.Context()
	ids, err := artifact.List(ctx, app.store)
	if err != nil {
		return err
	}
	entries, err := app.registry.List(ctx)
	if err != nil {
		return err
	}
	tags := map[string][]string{}
	for _, e := range entries {
		tags[e.ID] = append(tags[e.ID], e.Tag)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ARTIFACT\tNAME\tVERSION\tBASE\tTAGS")
	for _, id := range ids {
		cfg, err := artifact.Load(ctx, app.store, id)
		if err != nil {
			app.logger.Warn("skip unreadable artifact", "artifact_id", id, "error", err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n", id, cfg.Name, cfg.Version, cfg.Base, tags[id])
	}
	return w.Flush()
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
