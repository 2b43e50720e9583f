// Package pipeline turns a natural-language request into a validated, sandbox-rendered UI
// component. A request moves through planning, data acquisition, a bounded rendering loop with
// failure feedback, a first render inside the failure boundary and an optional critique.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"genui/internal/catalog"
	"genui/internal/engine"
	"genui/internal/extract"
	"genui/internal/fallback"
	"genui/internal/logging"
	"genui/internal/metrics"
	"genui/internal/sandbox"
	"genui/internal/search"
	"genui/internal/store"
	"genui/internal/transform"
	"genui/internal/uitree"
	"genui/internal/validate"
)

// Searcher runs web searches for the acquiring phase.
type Searcher interface {
	Search(ctx context.Context, query string) ([]search.Result, error)
}

// TraceSink persists request and attempt traces.
type TraceSink interface {
	RecordRequest(ctx context.Context, t *store.RequestTrace) error
	RecordAttempt(ctx context.Context, a *store.AttemptTrace) error
}

// Options configures a Pipeline. Engine is required; zero values elsewhere take defaults.
type Options struct {
	Engine     engine.Engine
	Catalog    *catalog.Catalog
	Evaluator  *sandbox.Evaluator
	Fallback   *fallback.Renderer
	Searcher   Searcher   // nil disables the search collaborator
	Traces     TraceSink  // nil disables tracing
	Metrics    *metrics.Metrics
	Extensions []*validate.ExtensionGate

	Anchor            string
	Model             string
	MaxAttempts       int
	MaxScopeRetries   int
	RelevanceFloor    int
	RelevanceMarginal int
	EngineTimeout     time.Duration
	Critique          bool
}

// DefaultOptions returns the standard bounds without an engine.
func DefaultOptions() Options {
	return Options{
		Catalog:           catalog.Default(),
		Anchor:            "GeneratedComponent",
		MaxAttempts:       2,
		MaxScopeRetries:   1,
		RelevanceFloor:    40,
		RelevanceMarginal: 70,
		EngineTimeout:     5 * time.Minute,
	}
}

// Pipeline runs requests. It is safe for concurrent use; per-request state lives in run.
type Pipeline struct {
	opts      Options
	extractor *extract.Extractor
}

// New validates opts and fills defaults.
func New(opts Options) (*Pipeline, error) {
	if opts.Engine == nil {
		return nil, errors.New("pipeline requires an engine")
	}
	def := DefaultOptions()
	if opts.Catalog == nil {
		opts.Catalog = def.Catalog
	}
	if opts.Anchor == "" {
		opts.Anchor = def.Anchor
	}
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}
	if opts.MaxScopeRetries < 0 {
		opts.MaxScopeRetries = 0
	}
	if opts.RelevanceFloor == 0 && opts.RelevanceMarginal == 0 {
		opts.RelevanceFloor, opts.RelevanceMarginal = def.RelevanceFloor, def.RelevanceMarginal
	}
	if opts.EngineTimeout <= 0 {
		opts.EngineTimeout = def.EngineTimeout
	}
	if opts.Evaluator == nil {
		ev, err := sandbox.New(sandbox.Options{Anchor: opts.Anchor, Catalog: opts.Catalog})
		if err != nil {
			return nil, fmt.Errorf("failed to create evaluator: %w", err)
		}
		opts.Evaluator = ev
	}
	if opts.Fallback == nil {
		opts.Fallback = fallback.New(fallback.DefaultOptions())
	}
	return &Pipeline{opts: opts, extractor: extract.New(opts.Anchor)}, nil
}

// Options returns the effective options.
func (p *Pipeline) Options() Options { return p.opts }

// run is the state of one request.
type run struct {
	p          *Pipeline
	id         string
	prompt     string
	log        *logging.RequestLogger
	tracker    *ProgressTracker
	start      time.Time
	phase      Phase
	phaseStart time.Time

	plan        *Plan
	data        *DataResult
	retry       RetryState
	scope       ScopeRetryState
	marginal    bool // the one marginal-relevance retry has been spent
	generations int
	artifact    CodeArtifact // latest generation, replaced on retry
	critique    *Critique
}

// Run processes one request and always returns a response. progress may be nil.
func (p *Pipeline) Run(ctx context.Context, prompt string, progress ProgressFunc) *Response {
	done := p.opts.Metrics.RequestStarted()
	defer done()

	r := &run{
		p:       p,
		id:      uuid.NewString(),
		prompt:  prompt,
		tracker: NewProgressTracker(progress),
		start:   time.Now(),
		retry:   NewRetryState(p.opts.MaxAttempts),
		scope:   NewScopeRetryState(p.opts.MaxScopeRetries),
	}
	r.log = logging.WithRequestID(logging.CategoryPipeline, r.id)
	r.log.Info("request started: %q", truncate(strings.TrimSpace(prompt), 120))

	resp := r.execute(ctx)
	resp.RequestID = r.id
	resp.Plan = r.plan
	resp.Critique = r.critique
	resp.Attempts = r.retry.Attempt + 1
	r.finish(ctx, resp)
	return resp
}

func (r *run) execute(ctx context.Context) *Response {
	if strings.TrimSpace(r.prompt) == "" {
		return r.fail(&Error{Kind: FailurePlanning, Phase: PhasePlanning, Message: "the request is empty"})
	}

	r.enter(PhasePlanning, "")
	if perr := r.planRequest(ctx); perr != nil {
		return r.fail(perr)
	}

	detail := "generate"
	if r.plan.NeedsWebSearch {
		detail = "web_search"
	}
	r.enter(PhaseAcquiring, detail)
	if perr := r.acquire(ctx); perr != nil {
		return r.fail(perr)
	}

	r.enter(PhaseRendering, "")
	code, unit, perr := r.render(ctx)
	if perr != nil {
		return r.fail(perr)
	}

	r.enter(PhaseValidating, "")
	success := r.validateRender(ctx, code, unit)

	if r.p.opts.Critique {
		r.enter(PhaseCritiquing, "")
		r.critiqueCode(ctx, code)
	}
	return NewSuccess(success)
}

// enter closes the current phase for metrics and announces the next one.
func (r *run) enter(next Phase, detail string) {
	r.observePhase("ok")
	r.phase, r.phaseStart = next, time.Now()
	r.tracker.Enter(next, detail)
	r.log.Debug("phase %s %s", next, detail)
}

func (r *run) observePhase(status string) {
	if r.phase != PhaseNone {
		r.p.opts.Metrics.ObservePhase(r.phase.String(), status, time.Since(r.phaseStart))
	}
}

// call runs one engine request with progress forwarding.
func (r *run) call(ctx context.Context, system, prompt string, execution bool) (string, error) {
	req := engine.Request{
		Prompt:                prompt,
		SystemPrompt:          system,
		Model:                 r.p.opts.Model,
		ForceExecutionAllowed: execution,
	}
	res, err := engine.Await(ctx, r.p.opts.Engine, req, r.p.opts.EngineTimeout, r.tracker.Detail)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

func engineError(phase Phase, err error) *Error {
	msg := "the generation engine failed"
	var fe *engine.FailureError
	switch {
	case engine.IsTimeout(err):
		msg = "the generation engine did not respond in time"
	case errors.As(err, &fe) && fe.RateLimited:
		msg = "the generation engine is rate limited; try again shortly"
	}
	return &Error{Kind: FailureEngine, Phase: phase, Message: msg, Err: err}
}

func (r *run) planRequest(ctx context.Context) *Error {
	text, err := r.call(ctx, planningSystem, planningPrompt(r.prompt), false)
	if err != nil {
		return engineError(PhasePlanning, err)
	}
	plan, err := parsePlan(text)
	if err != nil {
		r.log.Warn("plan unparseable, using heuristic plan: %v", err)
		plan = heuristicPlan(r.prompt)
	}
	r.plan = plan
	r.log.Info("plan: intent=%s entities=%v search=%v", plan.Intent, plan.KeyEntities, plan.NeedsWebSearch)
	return nil
}

func (r *run) acquire(ctx context.Context) *Error {
	var (
		prompt  string
		results []search.Result
	)
	if r.plan.NeedsWebSearch {
		query := r.plan.Query(r.prompt)
		var found string
		if r.p.opts.Searcher != nil {
			r.tracker.Detail(engine.Event{Type: engine.EventToolCallStarted, Tool: "web_search: " + query})
			var err error
			results, err = r.p.opts.Searcher.Search(ctx, query)
			if err != nil {
				r.log.Warn("web search failed, relying on the engine: %v", err)
			}
			found = search.Markdown(query, results)
		}
		prompt = searchPrompt(r.prompt, r.plan, found)
	} else {
		prompt = dataPrompt(r.prompt, r.plan)
	}

	text, err := r.call(ctx, dataSystem, prompt, r.plan.NeedsWebSearch)
	if err != nil {
		return engineError(PhaseAcquiring, err)
	}
	data, err := parseData(text)
	if err != nil {
		return &Error{Kind: FailureData, Phase: PhaseAcquiring, Message: "the data for this request could not be read", Err: err}
	}
	if data.Source == nil && len(results) > 0 {
		src := results[0].URL
		data.Source = &src
	}
	r.data = data
	r.log.Debug("data acquired (confidence=%s)", data.Confidence)
	return nil
}

// render runs the bounded retry loop until a unit compiles or the budget is spent.
func (r *run) render(ctx context.Context) (string, *sandbox.Unit, *Error) {
	var feedback string
	for {
		code, unit, perr := r.attempt(ctx, feedback)
		if perr == nil {
			return code, unit, nil
		}
		r.log.Warn("attempt %d failed: %v", r.retry.Attempt, perr)
		if !perr.Retryable() || ctx.Err() != nil {
			return "", nil, perr
		}
		if err := r.retry.Advance(perr.Error()); err != nil {
			return "", nil, r.exhausted(perr)
		}
		r.p.opts.Metrics.IncRetry(perr.Kind.String())
		r.tracker.Retrying(r.retry.Attempt, perr.Message)
		if perr.Kind != FailureEngine {
			feedback = perr.feedback()
		}
	}
}

func (r *run) exhausted(last *Error) *Error {
	r.log.Debug("last reply: %d chars, extraction %s", len(r.artifact.RawText), r.artifact.Strategy)
	return &Error{
		Kind:    last.Kind,
		Phase:   PhaseRendering,
		Gate:    last.Gate,
		Message: fmt.Sprintf("no working component after %d attempts; last problem: %s", r.retry.Attempt+1, last.Message),
		Err:     last,
	}
}

// attempt is one outer attempt. Scope failures regenerate inside it while the scope budget
// lasts.
func (r *run) attempt(ctx context.Context, feedback string) (string, *sandbox.Unit, *Error) {
	opts := r.p.opts
	vc := validate.Context{
		Anchor:            opts.Anchor,
		Catalog:           opts.Catalog,
		KeyEntities:       r.plan.KeyEntities,
		RelevanceFloor:    opts.RelevanceFloor,
		RelevanceMarginal: opts.RelevanceMarginal,
	}
	system := generationSystem(opts.Catalog, opts.Anchor)

	for {
		tr := r.newAttemptTrace()
		code, perr := r.generate(ctx, system, feedback, vc, tr)
		if perr == nil {
			var unit *sandbox.Unit
			unit, perr = r.compile(code, tr)
			if perr == nil {
				r.recordAttempt(ctx, tr, nil)
				return code, unit, nil
			}
		}
		r.recordAttempt(ctx, tr, perr)

		if perr.Gate == "scope" && r.scope.Advance(perr.Identifiers) == nil {
			r.p.opts.Metrics.IncRetry("scope")
			r.log.Info("scope retry %d/%d for %v", r.scope.Retries, r.scope.MaxRetries, r.scope.Identifiers)
			r.tracker.Detail(engine.Event{Type: engine.EventProgress, Message: "fixing unavailable names"})
			feedback = perr.feedback()
			continue
		}
		return "", nil, perr
	}
}

// generate produces and gates one candidate. It returns the transformed code.
func (r *run) generate(ctx context.Context, system, feedback string, vc validate.Context, tr *store.AttemptTrace) (string, *Error) {
	opts := r.p.opts
	prompt := generationPrompt(r.prompt, r.plan, r.data, opts.Anchor, feedback)
	text, err := r.call(ctx, system, prompt, false)
	if err != nil {
		return "", engineError(PhaseRendering, err)
	}

	ex := r.p.extractor.Extract(text)
	r.artifact = CodeArtifact{RawText: text, ExtractedCode: ex.Code, Strategy: ex.Strategy}
	tr.Strategy = ex.Strategy.String()
	if !ex.OK() {
		logging.ExtractWarn("extraction failed: %s", ex.Diagnostics)
		return "", &Error{Kind: FailureExtraction, Phase: PhaseRendering,
			Message: "no component code found in the reply (" + ex.Diagnostics.String() + ")", Feedback: extractionFeedback(ex)}
	}
	code := ex.Code

	if out := validate.CheckStructure(code, vc); !out.Valid {
		return "", r.gateFailure(tr, "structure", out.Error, validate.Messages(out.Issues))
	}
	tr.Verdicts["structure"] = "pass"

	if out := validate.CheckSafety(code, vc); !out.Safe {
		return "", r.gateFailure(tr, "safety", "unsafe code", validate.Messages(out.Issues))
	}
	tr.Verdicts["safety"] = "pass"

	if out := validate.CheckScope(code, vc); !out.Valid {
		perr := r.gateFailure(tr, "scope", "unavailable names: "+strings.Join(out.Identifiers(), ", "), nil)
		perr.Feedback = scopeFeedback(out.Identifiers(), out.SuggestionList(), out.HelperComponents())
		perr.Identifiers = out.Identifiers()
		return "", perr
	}
	tr.Verdicts["scope"] = "pass"

	rel := validate.CheckRelevance(code, vc)
	switch rel.Verdict {
	case validate.VerdictFail:
		perr := r.gateFailure(tr, "relevance", fmt.Sprintf("the component does not match the request (relevance %d)", rel.Score), nil)
		perr.Feedback = relevanceFeedback(rel.Score, rel.MissingEntities, validate.Messages(rel.Issues))
		return "", perr
	case validate.VerdictMarginal:
		if !r.marginal && r.retry.CanRetry() {
			r.marginal = true
			tr.Verdicts["relevance"] = "marginal"
			opts.Metrics.IncGateFailure("relevance", "marginal")
			return "", &Error{Kind: FailureValidation, Phase: PhaseRendering, Gate: "relevance",
				Message:  fmt.Sprintf("the component only partly matches the request (relevance %d)", rel.Score),
				Feedback: relevanceFeedback(rel.Score, rel.MissingEntities, validate.Messages(rel.Issues))}
		}
		r.log.Warn("accepting marginal relevance %d (missing %v)", rel.Score, rel.MissingEntities)
		tr.Verdicts["relevance"] = fmt.Sprintf("marginal:%d", rel.Score)
	default:
		tr.Verdicts["relevance"] = fmt.Sprintf("pass:%d", rel.Score)
	}

	report := validate.RunAdvisory(ctx, code, vc, opts.Extensions)
	if n := report.Count(); n > 0 {
		for _, w := range report.Warnings() {
			opts.Metrics.IncGateFailure(w.Rule.String(), "advisory")
			logging.ValidateDebug("advisory: %s", w)
		}
		tr.Verdicts["advisory"] = fmt.Sprintf("warnings:%d", n)
		r.log.Info("%d advisory warning(s)", n)
	} else {
		tr.Verdicts["advisory"] = "pass"
	}

	res := transform.Apply(code)
	if res.Changed() {
		logging.TransformDebug("applied %d guard rewrite(s)", len(res.Rewrites))
		tr.Verdicts["transform"] = fmt.Sprintf("rewrites:%d", len(res.Rewrites))
	}
	return res.Code, nil
}

func (r *run) gateFailure(tr *store.AttemptTrace, gate, message string, details []string) *Error {
	tr.Verdicts[gate] = "fail"
	r.p.opts.Metrics.IncGateFailure(gate, "fatal")
	logging.ValidateWarn("%s gate failed: %s", gate, message)
	perr := &Error{Kind: FailureValidation, Phase: PhaseRendering, Gate: gate, Message: message}
	if len(details) > 0 {
		perr.Feedback = gate + " check failed:\n- " + strings.Join(details, "\n- ")
	}
	return perr
}

func (r *run) compile(code string, tr *store.AttemptTrace) (*sandbox.Unit, *Error) {
	unit, err := r.p.opts.Evaluator.Compile(code)
	if err != nil {
		tr.Verdicts["compile"] = "fail"
		return nil, &Error{Kind: FailureCompilation, Phase: PhaseRendering,
			Message: "the component does not compile", Feedback: "compilation failed: " + err.Error(), Err: err}
	}
	r.p.opts.Metrics.ObserveCompile(unit.Cached)
	tr.Verdicts["compile"] = "pass"
	return unit, nil
}

// validateRender performs the first render inside the failure boundary.
func (r *run) validateRender(ctx context.Context, code string, unit *sandbox.Unit) Success {
	s := Success{
		ComponentCode: code,
		Summary:       fmt.Sprintf("%s component", r.plan.Intent),
		Source:        r.data.Source,
		Data:          r.data.Data,
	}
	res, err := r.p.opts.Evaluator.Render(ctx, unit, r.data.Data)
	if err != nil {
		r.p.opts.Metrics.IncFallback()
		logging.FallbackDebug("render failed, showing data view: %v", err)
		r.log.Warn("component failed at render time: %v", err)
		s.Fallback = true
		s.RenderError = err.Error()
		s.Rendered = r.p.opts.Fallback.View(r.title(), "The generated component failed while rendering.", r.data.Data)
		return s
	}
	s.Rendered = res.Tree
	r.log.Debug("rendered %d nodes in %v", res.Tree.Count(), res.Duration)
	return s
}

func (r *run) critiqueCode(ctx context.Context, code string) {
	text, err := r.call(ctx, critiqueSystem, critiquePrompt(r.prompt, code), false)
	if err != nil {
		r.log.Warn("critique skipped: %v", err)
		return
	}
	c, err := parseCritique(text)
	if err != nil {
		r.log.Warn("critique unparseable: %v", err)
		return
	}
	r.critique = c
	r.log.Info("critique score %d: %s", c.Score, c.Summary)
}

func (r *run) title() string {
	if r.plan != nil && len(r.plan.KeyEntities) > 0 {
		return strings.Join(r.plan.KeyEntities, ", ")
	}
	return ""
}

// fail builds the failure response, with a data view when data was obtained.
func (r *run) fail(perr *Error) *Response {
	r.observePhase("error")
	r.log.Error("request failed: %v", perr)
	var view *uitree.Node
	if r.data != nil {
		view = r.p.opts.Fallback.View(r.title(), "Showing the data gathered for this request.", r.data.Data)
	}
	msg := perr.Message
	if msg != "" {
		msg = strings.ToUpper(msg[:1]) + msg[1:]
	}
	resp := NewFailure("Sorry, I couldn't build this view. "+msg+".", view)
	kind := perr.Kind
	resp.Kind = &kind
	return resp
}

func (r *run) finish(ctx context.Context, resp *Response) {
	if resp.OK() {
		r.observePhase("ok")
	}
	outcome := "success"
	switch {
	case !resp.OK():
		outcome = "failure"
	case resp.Success().Fallback:
		outcome = "fallback"
	}
	r.p.opts.Metrics.IncOutcome(outcome)
	r.tracker.Complete(!resp.OK(), outcome)
	elapsed := time.Since(r.start)
	r.log.Info("request finished: %s after %d attempt(s) in %v", outcome, resp.Attempts, elapsed)

	if r.p.opts.Traces == nil {
		return
	}
	t := &store.RequestTrace{
		ID:         r.id,
		Prompt:     r.prompt,
		Success:    resp.OK(),
		Attempts:   resp.Attempts,
		DurationMs: elapsed.Milliseconds(),
		CreatedAt:  r.start,
	}
	if r.plan != nil {
		t.Intent = string(r.plan.Intent)
	}
	if resp.OK() {
		t.Fallback = resp.Success().Fallback
		t.Message = resp.Success().Summary
	} else {
		t.Message = resp.Failure().TextResponse
		if resp.Kind != nil {
			t.FailureKind = resp.Kind.String()
		}
	}
	if r.critique != nil {
		if b, err := json.Marshal(r.critique); err == nil {
			t.Critique = string(b)
		}
	}
	if err := r.p.opts.Traces.RecordRequest(context.WithoutCancel(ctx), t); err != nil {
		r.log.Warn("failed to record request trace: %v", err)
	}
}

func (r *run) newAttemptTrace() *store.AttemptTrace {
	r.generations++
	return &store.AttemptTrace{
		RequestID: r.id,
		Attempt:   r.generations,
		Verdicts:  make(map[string]string),
		CreatedAt: time.Now(),
	}
}

func (r *run) recordAttempt(ctx context.Context, tr *store.AttemptTrace, perr *Error) {
	if r.p.opts.Traces == nil {
		return
	}
	tr.DurationMs = time.Since(tr.CreatedAt).Milliseconds()
	if perr != nil {
		tr.Error = perr.Error()
	}
	if err := r.p.opts.Traces.RecordAttempt(context.WithoutCancel(ctx), tr); err != nil {
		r.log.Warn("failed to record attempt trace: %v", err)
	}
}
