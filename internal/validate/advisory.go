package validate

import "context"

// AdvisoryReport collects the outcomes of every non-blocking gate.
type AdvisoryReport struct {
	RuntimeSafety RuntimeSafetyOutcome
	HookUsage     HookUsageOutcome
	Style         StyleOutcome
	Extensions    []ExtensionOutcome
}

// RunAdvisory runs the advisory gates. Nothing it finds blocks delivery.
func RunAdvisory(ctx context.Context, code string, vc Context, extensions []*ExtensionGate) AdvisoryReport {
	report := AdvisoryReport{
		RuntimeSafety: CheckRuntimeSafety(code, vc),
		HookUsage:     CheckHookUsage(code, vc),
		Style:         CheckStyle(code, vc),
	}
	for _, g := range extensions {
		report.Extensions = append(report.Extensions, g.Run(ctx, code))
	}
	return report
}

// Warnings flattens every advisory finding.
func (r AdvisoryReport) Warnings() []Issue {
	var out []Issue
	out = append(out, r.RuntimeSafety.Warnings...)
	out = append(out, r.HookUsage.Issues...)
	out = append(out, r.Style.Warnings...)
	for _, e := range r.Extensions {
		out = append(out, e.Issues...)
	}
	return out
}

// Count is the number of advisory findings.
func (r AdvisoryReport) Count() int {
	return len(r.Warnings())
}
