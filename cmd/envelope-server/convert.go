// cmd/envelope-server/convert.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SyedDaiam9101/inference-envelope/internal/envelope"
)

type convertOptions struct {
	results      string
	explain      bool
	inlineBase64 bool
}

func newConvertCmd(a *app) *cobra.Command {
	var opts convertOptions

	cmd := &cobra.Command{
		Use:   "convert <batch.json|->",
		Short: "Flatten a batch of requests, or frame results against it",
		Long: `Reads a JSON array of raw requests and prints the flat instance list
together with the per-request lengths.

With --results, reads a JSON array of model results and prints one output
frame per request instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, a, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.results, "results", "", "JSON file with model results to frame")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "frame results as explanations")
	cmd.Flags().BoolVar(&opts.inlineBase64, "inline-base64", false, `decode {"data": {"b64": ...}} instances`)
	return cmd
}

func runConvert(cmd *cobra.Command, a *app, input string, opts convertOptions) error {
	body, err := readInput(cmd, input)
	if err != nil {
		return err
	}

	batch, err := envelope.ParseBatch(body)
	if err != nil {
		return err
	}

	flat, ledger, err := envelope.NormalizeWith(batch, envelope.Options{Base64Inline: opts.inlineBase64})
	if err != nil {
		return err
	}
	a.logger.Debug("normalized batch",
		zap.Int("requests", len(batch)),
		zap.Int("instances", len(flat)))

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	if opts.results == "" {
		return enc.Encode(map[string]any{"instances": flat, "lengths": ledger})
	}

	raw, err := os.ReadFile(opts.results)
	if err != nil {
		return fmt.Errorf("failed to read results: %w", err)
	}
	var results []any
	if err := json.Unmarshal(raw, &results); err != nil {
		return fmt.Errorf("results must be a JSON array: %w", err)
	}

	mode := envelope.ModePredict
	if opts.explain {
		mode = envelope.ModeExplain
	}
	frames, err := envelope.FrameMode(results, ledger, mode)
	if err != nil {
		return err
	}
	return enc.Encode(frames)
}

func readInput(cmd *cobra.Command, input string) ([]byte, error) {
	if input == "-" {
		body, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return body, nil
	}
	body, err := os.ReadFile(input)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch: %w", err)
	}
	return body, nil
}
