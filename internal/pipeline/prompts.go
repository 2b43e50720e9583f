package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"genui/internal/catalog"
	"genui/internal/extract"
)

const planningSystem = `You plan user interfaces that answer questions. Reply with one JSON object and nothing else.`

// planningPrompt asks for a Plan as JSON.
func planningPrompt(prompt string) string {
	var b strings.Builder
	b.WriteString("Plan a small interactive component that answers the request below.\n\n")
	b.WriteString("Request: ")
	b.WriteString(strings.TrimSpace(prompt))
	b.WriteString("\n\nReply with JSON of exactly this shape:\n")
	b.WriteString(`{
  "intent": "fact|comparison|list|timeline|chart|calculator|explanation|other",
  "contentContext": "one sentence describing what the component must show",
  "keyEntities": ["names, places, numbers the answer must mention"],
  "needsWebSearch": true,
  "searchQuery": "query to run when needsWebSearch is true, else null",
  "suggestedComponents": ["catalog components that fit"],
  "interactivityType": "static|interactive|stateful"
}`)
	b.WriteString("\n\nSet needsWebSearch when the answer depends on current or external facts.")
	return b.String()
}

const dataSystem = `You gather the data a user interface will display. Reply with one JSON object and nothing else.`

// dataPrompt asks the engine to produce the data itself.
func dataPrompt(prompt string, plan *Plan) string {
	var b strings.Builder
	b.WriteString("Produce the data needed to answer the request below.\n\n")
	fmt.Fprintf(&b, "Request: %s\n", strings.TrimSpace(prompt))
	writePlanSummary(&b, plan)
	b.WriteString("\nReply with JSON of this shape:\n")
	b.WriteString(`{"data": <object or array with the facts>, "source": "url or null", "confidence": "high|medium|low"}`)
	return b.String()
}

// searchPrompt asks the engine to synthesize data from search results. Engines with their
// own search tools may use them as well.
func searchPrompt(prompt string, plan *Plan, results string) string {
	var b strings.Builder
	b.WriteString("Answer the request below using current information from the web.\n\n")
	fmt.Fprintf(&b, "Request: %s\n", strings.TrimSpace(prompt))
	writePlanSummary(&b, plan)
	if results != "" {
		b.WriteString("\nSearch results:\n")
		b.WriteString(results)
		b.WriteString("\n")
	}
	b.WriteString("\nReply with JSON of this shape:\n")
	b.WriteString(`{"data": <object or array with the facts>, "source": "url of the best result", "confidence": "high|medium|low"}`)
	return b.String()
}

func writePlanSummary(b *strings.Builder, plan *Plan) {
	if plan == nil {
		return
	}
	fmt.Fprintf(b, "Intent: %s\n", plan.Intent)
	if plan.ContentContext != "" {
		fmt.Fprintf(b, "Context: %s\n", plan.ContentContext)
	}
	if len(plan.KeyEntities) > 0 {
		fmt.Fprintf(b, "Must cover: %s\n", strings.Join(plan.KeyEntities, ", "))
	}
}

// generationSystem describes the runtime the component will run in.
func generationSystem(cat *catalog.Catalog, anchor string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You write one React function component named %s.\n\n", anchor)
	b.WriteString("Rules:\n")
	fmt.Fprintf(&b, "- Wrap the code in %s and %s and write nothing else.\n", extract.OpenMarker, extract.CloseMarker)
	fmt.Fprintf(&b, "- Declare exactly one top-level component: const %s = () => { ... }. It takes no props.\n", anchor)
	b.WriteString("- Do not write import or export statements. Everything listed below is already in scope.\n")
	b.WriteString("- Do not declare helper components. Inline everything inside the one component.\n")
	fmt.Fprintf(&b, "- Read all facts from the global %q object. Guard optional fields with ?. and defaults.\n", catalog.DataBinding)
	b.WriteString("- Never use eval, Function, fetch, storage, document, window or dangerouslySetInnerHTML.\n")
	b.WriteString("- Avoid position: fixed, viewport units and huge z-index values.\n\n")
	b.WriteString("Available names (catalog version ")
	b.WriteString(catalog.Version)
	b.WriteString("):\n")
	b.WriteString(cat.Describe())
	return b.String()
}

// generationPrompt asks for the component. feedback, when non-empty, is the failure of the
// previous attempt and leads the prompt.
func generationPrompt(prompt string, plan *Plan, data *DataResult, anchor, feedback string) string {
	var b strings.Builder
	if feedback != "" {
		b.WriteString("Your previous attempt was rejected:\n")
		b.WriteString(feedback)
		b.WriteString("\nFix these problems in the new version.\n\n")
	}
	fmt.Fprintf(&b, "Request: %s\n", strings.TrimSpace(prompt))
	writePlanSummary(&b, plan)
	if plan != nil {
		if len(plan.SuggestedComponents) > 0 {
			fmt.Fprintf(&b, "Suggested components: %s\n", strings.Join(plan.SuggestedComponents, ", "))
		}
		fmt.Fprintf(&b, "Interactivity: %s\n", plan.InteractivityType)
	}
	if data != nil {
		if sample, err := json.MarshalIndent(data.Data, "", "  "); err == nil {
			fmt.Fprintf(&b, "\nThe %s object:\n%s\n", catalog.DataBinding, truncate(string(sample), 6000))
		}
	}
	fmt.Fprintf(&b, "\nWrite %s now.", anchor)
	return b.String()
}

const critiqueSystem = `You review generated user interface code. Reply with one JSON object and nothing else.`

func critiquePrompt(prompt string, code string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n\nComponent:\n%s\n\n", strings.TrimSpace(prompt), code)
	b.WriteString("Rate how well the component answers the request from 0 to 100.\n")
	b.WriteString(`Reply with JSON: {"score": 0, "issues": ["specific problems"], "summary": "one sentence"}`)
	return b.String()
}

// extractionFeedback explains an empty extraction.
func extractionFeedback(res extract.Result) string {
	return fmt.Sprintf("no component could be found in your reply (%s). Wrap exactly one declaration in %s and %s.",
		res.Diagnostics, extract.OpenMarker, extract.CloseMarker)
}

// scopeFeedback names every unresolved identifier and its suggestion.
func scopeFeedback(identifiers []string, suggestions []string, helpers []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "these names are not available: %s.", strings.Join(identifiers, ", "))
	if len(helpers) > 0 {
		fmt.Fprintf(&b, " Helper components are not allowed; inline %s into the main component.", strings.Join(helpers, ", "))
	}
	for _, s := range suggestions {
		b.WriteString("\n- ")
		b.WriteString(s)
	}
	return b.String()
}

// relevanceFeedback asks for the missing entities.
func relevanceFeedback(score int, missing []string, messages []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "the component does not answer the request well enough (relevance %d/100).", score)
	if len(missing) > 0 {
		fmt.Fprintf(&b, " It must show: %s.", strings.Join(missing, ", "))
	}
	for _, m := range messages {
		b.WriteString("\n- ")
		b.WriteString(m)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n..."
}
