package main

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/atelierdata/specpipe/internal/pipeline"
)

var (
	batchProject string
	batchFile    string
	batchForce   bool
)

var batchCmd = &cobra.Command{
	Use:   "batch [url ...]",
	Short: "Run the acquisition pipeline over a batch of product URLs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		urls := append([]string{}, args...)
		if batchFile != "" {
			fromFile, err := readURLFile(batchFile)
			if err != nil {
				return err
			}
			urls = append(urls, fromFile...)
		}
		if len(urls) == 0 {
			return eris.New("no URLs given: pass them as arguments or via --urls-file")
		}

		e, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		outcomes := e.Pipeline.RunBatch(ctx, batchProject, urls, pipeline.Options{
			ForceRefresh: batchForce,
		})

		snap := e.Metrics.Snapshot()
		zap.L().Info("batch finished",
			zap.Int("urls", len(urls)),
			zap.Int("accepted", snap.Accepted),
			zap.Int("escalated", snap.Escalated),
			zap.Int("unchanged", snap.Unchanged),
			zap.Int("failed", snap.Failed),
			zap.Any("tier_usage", snap.TierUsage),
			zap.Int("cache_hits", snap.CacheHits),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(outcomes)
	},
}

// readURLFile loads one URL per line, skipping blanks and # comments.
func readURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open url file %s", path)
	}
	defer f.Close() //nolint:errcheck

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "read url file %s", path)
	}
	return urls, nil
}

func init() {
	batchCmd.Flags().StringVar(&batchProject, "project", "default", "project the products belong to")
	batchCmd.Flags().StringVar(&batchFile, "urls-file", "", "file with one URL per line")
	batchCmd.Flags().BoolVar(&batchForce, "force", false, "bypass the capture cache and unchanged-content short circuit")
	rootCmd.AddCommand(batchCmd)
}
