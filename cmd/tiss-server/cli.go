package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicflow/tiss/internal/config"
	"github.com/clinicflow/tiss/internal/tiss"
)

// readGuides reads one guide object or an array of guides from path, or
// from stdin when path is "-".
func readGuides(path string, stdin io.Reader) ([]tiss.Guide, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read guides: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%s: no guides", path)
	}
	if trimmed[0] == '[' {
		var guides []tiss.Guide
		if err := json.Unmarshal(trimmed, &guides); err != nil {
			return nil, fmt.Errorf("%s: decode guides: %w", path, err)
		}
		if len(guides) == 0 {
			return nil, fmt.Errorf("%s: no guides", path)
		}
		return guides, nil
	}
	var g tiss.Guide
	if err := json.Unmarshal(trimmed, &g); err != nil {
		return nil, fmt.Errorf("%s: decode guide: %w", path, err)
	}
	return []tiss.Guide{g}, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// cliLogger writes to stderr so JSON on stdout stays parseable.
func cliLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(zerolog.WarnLevel)
}

type guideReport struct {
	Index      int                   `json:"index"`
	Summary    string                `json:"summary"`
	Validation tiss.ValidationResult `json:"validation"`
	Risk       *tiss.GlosaRisk       `json:"risk,omitempty"`
}

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate guides from a JSON file (\"-\" for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			guideType, _ := cmd.Flags().GetString("type")
			operator, _ := cmd.Flags().GetString("operator")

			guides, err := readGuides(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			analyzer, validator, err := buildEngine(cmd.Context(), cfg, cliLogger())
			if err != nil {
				return err
			}

			invalid := 0
			reports := make([]guideReport, 0, len(guides))
			for i, g := range guides {
				gt := g.Type()
				if guideType != "" {
					if parsed, ok := tiss.ParseGuideType(guideType); ok {
						gt = parsed
					} else {
						return fmt.Errorf("unknown guide type %q", guideType)
					}
				}
				res := validator.Validate(g, gt)
				if !res.Valid {
					invalid++
				}
				r := guideReport{Index: i + 1, Summary: tiss.Summary(res), Validation: res}
				if operator != "" {
					risk := analyzer.AnalyzeRisk(cmd.Context(), g, operator)
					r.Risk = &risk
				}
				reports = append(reports, r)
			}

			if err := writeJSON(cmd.OutOrStdout(), reports); err != nil {
				return err
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d guide(s) invalid", invalid, len(guides))
			}
			return nil
		},
	}
	cmd.Flags().String("type", "", "Guide type to validate against (defaults to each guide's guide_type)")
	cmd.Flags().String("operator", "", "Also score glosa risk for this operator")
	return cmd
}

func autofixCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "autofix <file>",
		Short: "Apply safe automatic corrections to guides from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			guides, err := readGuides(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}

			type fixReport struct {
				Guide   tiss.Guide `json:"guide"`
				Changes []string   `json:"changes"`
			}
			out := make([]fixReport, 0, len(guides))
			for _, g := range guides {
				fixed, changes := tiss.AutoFix(g)
				out = append(out, fixReport{Guide: fixed, Changes: changes})
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}

func rulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules [operator]",
		Short: "List operators, or the rules applied to one operator",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			analyzer, _, err := buildEngine(cmd.Context(), cfg, cliLogger())
			if err != nil {
				return err
			}
			registry := analyzer.Registry()

			if len(args) == 0 {
				return writeJSON(cmd.OutOrStdout(), registry.Operators())
			}
			if !registry.Known(args[0]) {
				return fmt.Errorf("unknown operator %q", args[0])
			}
			return writeJSON(cmd.OutOrStdout(), registry.RulesFor(args[0]))
		},
	}
}
