package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/atelierdata/specpipe/internal/model"
	"github.com/atelierdata/specpipe/internal/review"
)

var (
	verifyLimit    int
	verifyReviewer string
	verifySets     []string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Work the manual verification queue",
}

var verifyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending verification requests, most urgent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		queue := review.NewQueue(st)
		pending, err := queue.Pending(ctx, verifyLimit)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(pending)
	},
}

var verifyClaimCmd = &cobra.Command{
	Use:   "claim <request-id>",
	Short: "Claim a pending request for review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		queue := review.NewQueue(st)
		req, err := queue.Claim(ctx, args[0], verifyReviewer)
		if err != nil {
			return err
		}

		zap.L().Info("request claimed",
			zap.String("request_id", req.ID),
			zap.String("reviewer", req.Reviewer),
		)
		return printJSON(req)
	},
}

var verifyResolveCmd = &cobra.Command{
	Use:   "resolve <request-id>",
	Short: "Complete a request with corrected field values",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		corrections, err := parseFieldSets(verifySets)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		queue := review.NewQueue(st)
		req, err := queue.Resolve(ctx, args[0], corrections, verifyReviewer)
		if err != nil {
			return err
		}

		zap.L().Info("request resolved",
			zap.String("request_id", req.ID),
			zap.String("product_id", req.ProductID),
			zap.Int("corrections", len(corrections)),
		)
		return printJSON(req)
	},
}

var verifyCancelCmd = &cobra.Command{
	Use:   "cancel <request-id>",
	Short: "Cancel a request without touching the product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		queue := review.NewQueue(st)
		req, err := queue.Cancel(ctx, args[0])
		if err != nil {
			return err
		}

		zap.L().Info("request cancelled", zap.String("request_id", req.ID))
		return printJSON(req)
	},
}

// parseFieldSets turns repeated field=value flags into corrected fields.
// Only target schema fields are allowed.
func parseFieldSets(sets []string) (model.Fields, error) {
	fields := model.Fields{}
	for _, set := range sets {
		key, value, ok := strings.Cut(set, "=")
		if !ok {
			return nil, eris.Errorf("invalid --set %q: want field=value", set)
		}
		key = strings.TrimSpace(key)
		if !isSchemaField(key) {
			return nil, eris.Errorf("unknown field %q: valid fields are %s", key, strings.Join(model.SchemaFields, ", "))
		}
		fields[key] = strings.TrimSpace(value)
	}
	return fields, nil
}

func isSchemaField(name string) bool {
	for _, f := range model.SchemaFields {
		if f == name {
			return true
		}
	}
	return false
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	verifyListCmd.Flags().IntVar(&verifyLimit, "limit", 20, "maximum requests to list")
	verifyClaimCmd.Flags().StringVar(&verifyReviewer, "reviewer", "", "reviewer identity")
	verifyResolveCmd.Flags().StringVar(&verifyReviewer, "reviewer", "", "reviewer identity")
	verifyResolveCmd.Flags().StringArrayVar(&verifySets, "set", nil, "corrected field as field=value (repeatable)")
	verifyCmd.AddCommand(verifyListCmd, verifyClaimCmd, verifyResolveCmd, verifyCancelCmd)
	rootCmd.AddCommand(verifyCmd)
}
