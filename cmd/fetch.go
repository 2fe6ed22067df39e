package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/atelierdata/specpipe/internal/pipeline"
)

var (
	fetchProject string
	fetchForce   bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Run a single URL through the full pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		outcome := e.Pipeline.ProcessURL(ctx, fetchProject, args[0], pipeline.Options{
			ForceRefresh: fetchForce,
		})

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(outcome); err != nil {
			return eris.Wrap(err, "encode outcome")
		}
		return nil
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchProject, "project", "default", "project the product belongs to")
	fetchCmd.Flags().BoolVar(&fetchForce, "force", false, "bypass the capture cache")
	rootCmd.AddCommand(fetchCmd)
}
