package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"genui/internal/catalog"
	"genui/internal/config"
	"genui/internal/extract"
	"genui/internal/transform"
	"genui/internal/validate"
)

var (
	validateEntities []string
	validateJSON     bool
)

// validateCmd runs the gates over a component file
var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Run the extraction, gates and guard rewrites over a component file",
	Long: `Reads an engine reply or a bare component from a file (or stdin when the file is "-")
and reports what every gate thinks of it, without calling an engine.

Example:
  genui validate reply.txt --entity Tokyo --entity temperature`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringSliceVar(&validateEntities, "entity", nil, "Key entity the component must mention")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Print the report as JSON")
}

// gateResult is one gate's verdict.
type gateResult struct {
	Gate     string   `json:"gate"`
	Fatal    bool     `json:"fatal"`
	Passed   bool     `json:"passed"`
	Messages []string `json:"messages,omitempty"`
}

// checkReport is the offline equivalent of one rendering attempt.
type checkReport struct {
	Strategy    string       `json:"strategy"`
	Code        string       `json:"code,omitempty"`
	Transformed string       `json:"transformed,omitempty"`
	Relevance   int          `json:"relevance"`
	Rewrites    int          `json:"rewrites"`
	Gates       []gateResult `json:"gates"`
}

// OK reports whether every fatal gate passed.
func (r checkReport) OK() bool {
	if r.Code == "" {
		return false
	}
	for _, g := range r.Gates {
		if g.Fatal && !g.Passed {
			return false
		}
	}
	return true
}

func validationContext(entities []string) validate.Context {
	vc := validate.DefaultContext()
	if cfg != nil {
		vc.Anchor = cfg.Pipeline.Anchor
		vc.RelevanceFloor = cfg.Pipeline.RelevanceFloor
		vc.RelevanceMarginal = cfg.Pipeline.RelevanceMarginal
	}
	vc.KeyEntities = entities
	return vc
}

// checkComponent extracts, gates and rewrites raw the way the pipeline does.
func checkComponent(ctx context.Context, raw string, vc validate.Context, extensions []*validate.ExtensionGate) checkReport {
	ex := extract.New(vc.Anchor).Extract(raw)
	report := checkReport{Strategy: ex.Strategy.String(), Code: ex.Code}
	if !ex.OK() {
		report.Gates = append(report.Gates, gateResult{Gate: "extract", Fatal: true, Messages: []string{ex.Diagnostics.String()}})
		return report
	}
	code := ex.Code

	structure := validate.CheckStructure(code, vc)
	report.add("structure", true, structure.Valid, validate.Messages(structure.Issues))
	safety := validate.CheckSafety(code, vc)
	report.add("safety", true, safety.Safe, validate.Messages(safety.Issues))
	scope := validate.CheckScope(code, vc)
	report.add("scope", true, scope.Valid, append(validate.Messages(scope.Issues), scope.SuggestionList()...))
	rel := validate.CheckRelevance(code, vc)
	report.Relevance = rel.Score
	report.add("relevance", true, rel.Relevant, validate.Messages(rel.Issues))

	adv := validate.RunAdvisory(ctx, code, vc, extensions)
	report.add("runtime-safety", false, adv.RuntimeSafety.Safe, validate.Messages(adv.RuntimeSafety.Warnings))
	report.add("hooks", false, adv.HookUsage.Valid, validate.Messages(adv.HookUsage.Issues))
	report.add("style", false, adv.Style.Safe, validate.Messages(adv.Style.Warnings))
	for _, ext := range adv.Extensions {
		report.add("ext:"+ext.Gate, false, len(ext.Issues) == 0, validate.Messages(ext.Issues))
	}

	res := transform.Apply(code)
	report.Transformed = res.Code
	report.Rewrites = len(res.Rewrites)
	return report
}

func (r *checkReport) add(gate string, fatal, passed bool, messages []string) {
	r.Gates = append(r.Gates, gateResult{Gate: gate, Fatal: fatal, Passed: passed, Messages: messages})
}

func readInput(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

func loadExtensions() ([]*validate.ExtensionGate, error) {
	if cfg == nil || cfg.Gates.ExtensionDir == "" {
		return nil, nil
	}
	return loadExtensionGates(cfg)
}

// loadExtensionGates compiles the configured gates and applies the per-gate timeout.
func loadExtensionGates(c *config.Config) ([]*validate.ExtensionGate, error) {
	gates, err := validate.LoadExtensionGates(c.Gates.ExtensionDir)
	if err != nil {
		return nil, err
	}
	for _, g := range gates {
		g.Timeout = c.GetExtensionTimeout()
	}
	return gates, nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	raw, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}
	extensions, err := loadExtensions()
	if err != nil {
		return err
	}
	report := checkComponent(cmd.Context(), raw, validationContext(validateEntities), extensions)
	if validateJSON {
		if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else {
		printReport(cmd.OutOrStdout(), report)
	}
	if !report.OK() {
		return fmt.Errorf("component rejected")
	}
	return nil
}

func printReport(w io.Writer, r checkReport) {
	fmt.Fprintln(w, titleStyle.Render("catalog "+catalog.Version)+" "+detailStyle.Render("extraction: "+r.Strategy))
	for _, g := range r.Gates {
		mark := okStyle.Render("✓")
		switch {
		case !g.Passed && g.Fatal:
			mark = errorStyle.Render("✗")
		case !g.Passed:
			mark = warnStyle.Render("!")
		}
		label := g.Gate
		if g.Gate == "relevance" {
			label = fmt.Sprintf("relevance (%d)", r.Relevance)
		}
		fmt.Fprintf(w, "%s %s\n", mark, label)
		for _, m := range g.Messages {
			fmt.Fprintln(w, detailStyle.Render("    "+m))
		}
	}
	if r.Rewrites > 0 {
		fmt.Fprintln(w, detailStyle.Render(fmt.Sprintf("%d guard rewrite(s) applied", r.Rewrites)))
	}
	if r.OK() {
		fmt.Fprintln(w, okStyle.Render("accepted"))
	} else {
		fmt.Fprintln(w, errorStyle.Render("rejected"))
	}
}
