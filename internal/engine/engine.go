package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"autopilot-mcp-server/internal/action"
	"autopilot-mcp-server/internal/analytics"
	"autopilot-mcp-server/internal/dedup"
	"autopilot-mcp-server/internal/extract"
	"autopilot-mcp-server/internal/facts"
	"autopilot-mcp-server/internal/locator"
	"autopilot-mcp-server/internal/observer"
	"autopilot-mcp-server/internal/recorder"
	"autopilot-mcp-server/internal/roi"
)

// Source is the slice of the locator the controller needs. Narrow on purpose
// so tests can drive the pipeline with synthetic candidates.
type Source interface {
	FindCandidates(ctx context.Context) ([]locator.Candidate, error)
	Click(ctx context.Context, ref string) error
}

// Options bundles the controller's collaborators.
type Options struct {
	Source    Source
	Guard     *dedup.Guard
	Estimator *roi.Estimator
	Store     *analytics.Store
	Facts     *facts.Engine
	Recorder  *recorder.Recorder
	SessionID string
}

// ConfigView is the active tuning echoed in status payloads.
type ConfigView struct {
	TriggerCooldownMs int64 `json:"trigger_cooldown_ms"`
	DebounceMs        int64 `json:"debounce_ms"`
	ScanCooldownMs    int64 `json:"scan_cooldown_ms"`
	OperationWindowMs int64 `json:"operation_window_ms"`
}

// Status is the controller's public state snapshot.
type Status struct {
	Running          bool           `json:"running"`
	SessionID        string         `json:"session_id"`
	StartedAt        time.Time      `json:"started_at,omitempty"`
	ScansCompleted   int            `json:"scans_completed"`
	Triggers         int            `json:"triggers"`
	FailedTriggers   int            `json:"failed_triggers"`
	DedupRejections  int            `json:"dedup_rejections"`
	DisabledSkips    int            `json:"disabled_skips"`
	EnabledTypes     []action.Type  `json:"enabled_types"`
	Config           ConfigView     `json:"config"`
	Guard            dedup.Stats    `json:"guard"`
	Observer         observer.Stats `json:"observer"`
	ROI              roi.Statistics `json:"roi"`
	TotalAccepted    int            `json:"total_accepted"`
	TotalTimeSavedMs int64          `json:"total_time_saved_ms"`
}

// Controller runs the detect-classify-dedup-trigger pipeline. Scans arrive
// from the change observer; each scan walks the current candidates, triggers
// at most once per logical occurrence, and feeds every outcome into the ROI
// estimator, the analytics store, the fact engine, and the decision trace.
type Controller struct {
	mu        sync.Mutex
	source    Source
	obs       *observer.Observer
	guard     *dedup.Guard
	estimator *roi.Estimator
	store     *analytics.Store
	facts     *facts.Engine
	rec       *recorder.Recorder
	sessionID string

	enabled   map[action.Type]bool
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
	scanCh    chan struct{}

	scans         int
	triggers      int
	failures      int
	rejections    int
	disabledSkips int
}

func NewController(opts Options) *Controller {
	c := &Controller{
		source:    opts.Source,
		guard:     opts.Guard,
		estimator: opts.Estimator,
		store:     opts.Store,
		facts:     opts.Facts,
		rec:       opts.Recorder,
		sessionID: opts.SessionID,
		enabled:   make(map[action.Type]bool),
		scanCh:    make(chan struct{}, 1),
	}
	for _, typ := range action.All() {
		c.enabled[typ] = true
	}
	c.obs = observer.New(c.requestScan)
	return c
}

// Observer exposes the change observer so the transport can tune it and the
// locator can feed it.
func (c *Controller) Observer() *observer.Observer { return c.obs }

// EnqueueMutations feeds a mutation batch into the change observer.
func (c *Controller) EnqueueMutations(records []observer.Record) {
	c.obs.Enqueue(records)
	if c.facts != nil && len(records) > 0 {
		for _, r := range records {
			detail := r.AttributeName
			if r.Kind == observer.KindChildList && len(r.AddedText) > 0 {
				detail = r.AddedText[0]
			}
			c.facts.Record(context.Background(), facts.PredMutationEvent, string(r.Kind), detail)
		}
	}
}

// requestScan is the observer's emit hook; it coalesces into a single
// pending scan so a slow pipeline never queues stale work. Emissions while
// the controller is stopped are dropped.
func (c *Controller) requestScan() {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if !running {
		return
	}
	select {
	case c.scanCh <- struct{}{}:
	default:
	}
}

// Start begins processing scans. Idempotent; a second Start while running is
// a no-op.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}
	if c.source == nil {
		return errors.New("no candidate source configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.startedAt = time.Now()

	go c.run(runCtx)
	log.Printf("engine started (session %s)", c.sessionID)
	return nil
}

// Stop halts scan processing and flushes the analytics store. Idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.obs.Stop()
	if c.store != nil {
		c.store.SaveNow()
	}
	log.Printf("engine stopped (session %s)", c.sessionID)
}

// Running reports whether the pipeline is active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Controller) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.scanCh:
			c.Scan(ctx)
		}
	}
}

// Scan walks the current candidates once and fires at most one trigger. The
// click mutates the tree, so anything still actionable afterwards produces a
// fresh mutation burst and gets its own debounced scan against the re-rendered
// state. Exposed for the transport's manual-scan path.
func (c *Controller) Scan(ctx context.Context) {
	candidates, err := c.source.FindCandidates(ctx)
	if err != nil {
		log.Printf("engine: candidate scan failed: %v", err)
		return
	}

	c.mu.Lock()
	c.scans++
	c.mu.Unlock()

	if c.facts != nil {
		c.facts.Record(ctx, facts.PredScanEmission, "mutation")
	}

	for _, cand := range candidates {
		if c.processCandidate(ctx, cand) {
			return
		}
	}
}

// processCandidate runs one candidate through the pipeline and reports
// whether a trigger fired.
func (c *Controller) processCandidate(ctx context.Context, cand locator.Candidate) bool {
	if cand.Disabled {
		return false
	}
	typ, ok := action.Classify(cand.Text, cand.AriaLabel, cand.Title)
	if !ok {
		return false
	}

	c.mu.Lock()
	enabled := c.enabled[typ]
	c.mu.Unlock()
	if !enabled {
		c.mu.Lock()
		c.disabledSkips++
		c.mu.Unlock()
		if c.rec != nil {
			c.rec.Log(recorder.EventTypeDisabled, c.sessionID, recorder.TriggerData{
				ActionType: string(typ), ElementText: cand.Text,
			})
		}
		return false
	}

	info := extract.FromBlock(cand.BlockText)
	if info.Target == "" {
		info.Target = extract.Target(cand.Text)
	}

	el := dedup.Element{
		Tag:     cand.Tag,
		Classes: cand.Classes,
		Text:    cand.Text,
		X:       cand.X,
		Y:       cand.Y,
	}
	dctx := dedup.Context{Target: info.Target, Action: typ}

	if !c.guard.CanTrigger(el, dctx) {
		c.mu.Lock()
		c.rejections++
		c.mu.Unlock()
		if c.facts != nil {
			c.facts.Record(ctx, facts.PredDedupRejected, info.Target, string(typ))
		}
		if c.rec != nil {
			c.rec.LogRejection(c.sessionID, recorder.TriggerData{
				Target: info.Target, ActionType: string(typ), ElementText: cand.Text,
			})
		}
		return false
	}

	started := time.Now()
	if err := c.source.Click(ctx, cand.Ref); err != nil {
		log.Printf("engine: click failed for %s: %v", cand.Ref, err)
		c.mu.Lock()
		c.failures++
		c.mu.Unlock()
		if c.rec != nil {
			c.rec.Log(recorder.EventTriggerFailed, c.sessionID, recorder.TriggerData{
				Target: info.Target, ActionType: string(typ), ElementText: cand.Text,
				Reason: "click_failed",
			})
		}
		return false
	}
	c.guard.RecordTrigger(el, dctx)
	elapsed := time.Since(started)

	c.estimator.RecordAutomated(typ, elapsed)
	saved := c.estimator.EstimateSaved(typ)

	recorded := c.store.RecordAcceptance(analytics.Acceptance{
		Target:       info.Target,
		ActionType:   typ,
		AddedLines:   info.AddedLines,
		DeletedLines: info.DeletedLines,
		TimeSaved:    saved,
	})

	c.mu.Lock()
	c.triggers++
	c.mu.Unlock()

	if c.facts != nil {
		c.facts.Record(ctx, facts.PredTriggerEvent, info.Target, string(typ), saved.Milliseconds())
		c.facts.Record(ctx, facts.PredRoiSample, string(typ), "automated", elapsed.Milliseconds())
		if recorded {
			c.facts.Record(ctx, facts.PredAcceptanceRecorded, info.Target, string(typ), info.AddedLines, info.DeletedLines)
		}
	}
	if c.rec != nil {
		c.rec.LogTrigger(c.sessionID, recorder.TriggerData{
			Target:       info.Target,
			ActionType:   string(typ),
			ElementText:  cand.Text,
			TimeSavedMs:  saved.Milliseconds(),
			AddedLines:   info.AddedLines,
			DeletedLines: info.DeletedLines,
		})
	}
	log.Printf("engine: triggered %s on %q (saved ~%v)", typ, cand.Text, saved)
	return true
}

// Configure applies runtime tuning. Zero durations leave the current value;
// a nil enabledTypes leaves the enablement map untouched, an empty one
// enables everything.
func (c *Controller) Configure(triggerCooldown, debounce, scanCooldown, operationWindow time.Duration, enabledTypes []string) {
	if triggerCooldown > 0 {
		c.guard.SetCooldown(triggerCooldown)
	}
	if debounce > 0 {
		c.obs.SetDebounce(debounce)
	}
	if scanCooldown > 0 {
		c.obs.SetCooldown(scanCooldown)
	}
	if operationWindow > 0 && c.store != nil {
		c.store.SetOperationWindow(operationWindow)
	}

	if enabledTypes != nil {
		c.mu.Lock()
		for typ := range c.enabled {
			c.enabled[typ] = len(enabledTypes) == 0
		}
		for _, name := range enabledTypes {
			if typ, ok := action.Parse(name); ok {
				c.enabled[typ] = true
			}
		}
		c.mu.Unlock()
	}
}

// SetEnabled toggles a single action type.
func (c *Controller) SetEnabled(typ action.Type, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled[typ] = enabled
}

// Calibrate overrides the workflow baselines: the analytics store recomputes
// historical savings and the estimator gets a fresh manual sample so future
// estimates move toward the calibrated value.
func (c *Controller) Calibrate(manual, automated time.Duration) {
	if c.store != nil {
		c.store.CalibrateWorkflow(manual, automated)
	}
	for _, typ := range action.All() {
		c.estimator.RecordManual(typ, manual)
		if c.facts != nil {
			c.facts.Record(context.Background(), facts.PredRoiSample, string(typ), "manual", manual.Milliseconds())
		}
	}
}

// RecordManualSample feeds an observed manual-execution cost for a type.
func (c *Controller) RecordManualSample(typ action.Type, cost time.Duration) {
	c.estimator.RecordManual(typ, cost)
	if c.facts != nil {
		c.facts.Record(context.Background(), facts.PredRoiSample, string(typ), "manual", cost.Milliseconds())
	}
}

// Report bundles the analytics export with ROI statistics.
type Report struct {
	Analytics analytics.Report `json:"analytics"`
	ROI       roi.Statistics   `json:"roi"`
}

// ExportReport returns the combined analytics and ROI view.
func (c *Controller) ExportReport() Report {
	return Report{
		Analytics: c.store.Export(),
		ROI:       c.estimator.AggregateStatistics(),
	}
}

// ClearAnalytics resets the store, the estimator, and the dedup guard.
func (c *Controller) ClearAnalytics() {
	c.store.Clear()
	c.estimator.Reset()
	c.guard.Reset()
}

// Status returns the controller's state snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	enabled := make([]action.Type, 0, len(c.enabled))
	for _, typ := range action.All() {
		if c.enabled[typ] {
			enabled = append(enabled, typ)
		}
	}
	st := Status{
		Running:         c.running,
		SessionID:       c.sessionID,
		StartedAt:       c.startedAt,
		ScansCompleted:  c.scans,
		Triggers:        c.triggers,
		FailedTriggers:  c.failures,
		DedupRejections: c.rejections,
		DisabledSkips:   c.disabledSkips,
		EnabledTypes:    enabled,
	}
	c.mu.Unlock()

	st.Guard = c.guard.Stats()
	st.Observer = c.obs.Stats()
	st.ROI = c.estimator.AggregateStatistics()
	st.Config = ConfigView{
		TriggerCooldownMs: st.Guard.Cooldown.Milliseconds(),
		DebounceMs:        st.Observer.Debounce.Milliseconds(),
		ScanCooldownMs:    st.Observer.Cooldown.Milliseconds(),
	}
	if c.store != nil {
		st.Config.OperationWindowMs = c.store.OperationWindow().Milliseconds()
		st.TotalAccepted = c.store.TotalAccepted()
		st.TotalTimeSavedMs = c.store.TotalTimeSaved().Milliseconds()
	}
	return st
}
