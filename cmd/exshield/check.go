package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/exshield/exshield/pkg/config"
	"github.com/exshield/exshield/pkg/domain"
	"github.com/exshield/exshield/pkg/shield"
)

var errRejected = errors.New("request rejected")

// newCheckCmd creates the check command: run the configured rule chain once
// against an analysis document and print the verdict.
func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate the rule chain against an analysis document",
		Long: `Evaluate the configured rules against a single analysis document and print
the verdict as JSON. The document is YAML or JSON with the map-shaped keys
queryAnalysis, filtersAnalysis, and mergedAnalysis. Exits non-zero when the
request would be rejected.`,
		RunE: runCheck,
	}

	cmd.Flags().StringP("analysis", "a", "", "Path to the analysis document (YAML or JSON); '-' reads stdin")
	cmd.Flags().StringArrayP("param", "p", nil, "Request override parameter as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("analysis")

	return cmd
}

func runCheck(cmd *cobra.Command, _ []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	analysisPath, err := cmd.Flags().GetString("analysis")
	if err != nil {
		return err
	}
	rawParams, err := cmd.Flags().GetStringArray("param")
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(effectiveLogLevel(cmd, cfg.Logging.Level))

	opts, err := cfg.Shield.ShieldOptions()
	if err != nil {
		return err
	}
	s := shield.New(opts, logger)

	views, err := loadAnalysis(analysisPath)
	if err != nil {
		return err
	}

	params, err := parseParams(rawParams)
	if err != nil {
		return err
	}

	verdict := s.Check(context.Background(), shield.ParamsFromMap(params), views)

	encoded, err := json.MarshalIndent(verdict, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(encoded))

	if !verdict.Allowed {
		return fmt.Errorf("%w: %s", errRejected, verdict.Message)
	}
	return nil
}

// loadAnalysis reads a map-shaped analysis document, YAML first with a JSON
// fallback, matching the configuration loader's behaviour.
func loadAnalysis(path string) (*domain.AnalysisViews, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		//nolint:gosec // Analysis path is supplied by the operator
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read analysis file: %w", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		if jsonErr := json.Unmarshal(data, &doc); jsonErr != nil {
			return nil, fmt.Errorf("failed to parse analysis file %s: %w", path, err)
		}
	}

	return domain.ViewsFromMap(doc), nil
}

func parseParams(raw []string) (map[string]string, error) {
	params := make(map[string]string, len(raw))
	for _, kv := range raw {
		key, value, found := strings.Cut(kv, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --param %q, expected key=value", kv)
		}
		params[key] = value
	}
	return params, nil
}
