// Package validate implements the gates generated components pass through before compilation.
// Every gate is a pure function of the code and a Context; gates share no state and each one
// parses the code on its own.
package validate

import (
	"fmt"
	"sort"
	"strings"

	"genui/internal/catalog"
	"genui/internal/jsx"
)

// Rule identifies the check that produced an issue.
type Rule int

const (
	RuleSyntax Rule = iota
	RuleMissingAnchor
	RuleNoRender
	RuleImportExport
	RuleHTMLInjection
	RuleDynamicEval
	RuleNetwork
	RuleStorage
	RuleGlobalDOM
	RuleUnknownIdentifier
	RuleUnknownMember
	RuleHelperComponent
	RuleMissingEntity
	RulePlaceholder
	RuleUnguardedKeys
	RuleUnguardedIteration
	RuleUnguardedSpread
	RuleDeepAccess
	RuleTimerLeak
	RuleMissingDeps
	RuleStaleClosure
	RuleConditionalHook
	RuleLayout
	RuleExtension
)

func (r Rule) String() string {
	switch r {
	case RuleSyntax:
		return "syntax"
	case RuleMissingAnchor:
		return "missing_anchor"
	case RuleNoRender:
		return "no_render"
	case RuleImportExport:
		return "import_export"
	case RuleHTMLInjection:
		return "html_injection"
	case RuleDynamicEval:
		return "dynamic_eval"
	case RuleNetwork:
		return "network_access"
	case RuleStorage:
		return "storage_access"
	case RuleGlobalDOM:
		return "global_dom"
	case RuleUnknownIdentifier:
		return "unknown_identifier"
	case RuleUnknownMember:
		return "unknown_member"
	case RuleHelperComponent:
		return "helper_component"
	case RuleMissingEntity:
		return "missing_entity"
	case RulePlaceholder:
		return "placeholder"
	case RuleUnguardedKeys:
		return "unguarded_keys"
	case RuleUnguardedIteration:
		return "unguarded_iteration"
	case RuleUnguardedSpread:
		return "unguarded_spread"
	case RuleDeepAccess:
		return "deep_access"
	case RuleTimerLeak:
		return "timer_leak"
	case RuleMissingDeps:
		return "missing_deps"
	case RuleStaleClosure:
		return "stale_closure"
	case RuleConditionalHook:
		return "conditional_hook"
	case RuleLayout:
		return "layout"
	case RuleExtension:
		return "extension"
	default:
		return "unknown"
	}
}

// Issue is one finding of a gate.
type Issue struct {
	Rule       Rule
	Identifier string // offending name, when there is one
	Message    string
	Pos        jsx.Position // zero when the gate works on text
}

func (i Issue) String() string {
	if i.Pos.Line > 0 {
		return fmt.Sprintf("line %d: %s", i.Pos.Line, i.Message)
	}
	return i.Message
}

// Messages flattens issues to strings.
func Messages(issues []Issue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.String())
	}
	return out
}

// Context carries the per-request inputs of the gates.
type Context struct {
	Anchor            string
	Catalog           *catalog.Catalog
	KeyEntities       []string
	RelevanceFloor    int
	RelevanceMarginal int
}

// DefaultContext returns the standard anchor, catalog and thresholds.
func DefaultContext() Context {
	return Context{
		Anchor:            "GeneratedComponent",
		Catalog:           catalog.Default(),
		RelevanceFloor:    40,
		RelevanceMarginal: 70,
	}
}

func (c Context) catalog() *catalog.Catalog {
	if c.Catalog == nil {
		return catalog.Default()
	}
	return c.Catalog
}

// dedupe drops repeated (rule, identifier) pairs, keeping the first occurrence.
func dedupe(issues []Issue) []Issue {
	seen := make(map[string]bool, len(issues))
	out := issues[:0]
	for _, i := range issues {
		key := i.Rule.String() + "\x00" + i.Identifier
		if i.Identifier == "" {
			key += "\x00" + i.Message
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, i)
	}
	return out
}

func joinIssues(issues []Issue) string {
	return strings.Join(Messages(issues), "; ")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
