// Package orchestrator drives call records through the analysis stages. It
// decides what to run, calls the inference gateway, hands output to the
// validator, and commits results through the store. Stage failures stay
// contained to their (call, stage) unit; only store-level failures abort a run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"callsight/internal/config"
	"callsight/internal/gateway"
	"callsight/internal/logger"
	"callsight/internal/record"
	"callsight/internal/store"
	"callsight/internal/validate"
)

// Status classifies the outcome of one (call, stage) unit.
type Status string

const (
	StatusSkipped   Status = "skipped"   // section already present and valid
	StatusCommitted Status = "committed" // validated section written
	StatusDegraded  Status = "degraded"  // retries exhausted, raw-only marker written
	StatusFailed    Status = "failed"    // nothing written for this unit
)

// Outcome reports what happened to one (call, stage) unit.
type Outcome struct {
	CallID     string      `json:"call_id"`
	Kind       record.Kind `json:"kind"`
	Status     Status      `json:"status"`
	Diagnostic string      `json:"diagnostic,omitempty"`
	Section    *record.Section
}

// RetryPolicy bounds retries around the unreliable inference service. It is
// injected so the orchestrator stays decoupled from gateway internals.
type RetryPolicy struct {
	// TransportRetries is the number of additional attempts after a
	// retryable transport failure, with exponential backoff in between.
	TransportRetries int
	// ValidationRetries is the number of additional inference attempts after
	// a validation failure, each carrying the rejection diagnostic.
	ValidationRetries int
	// InitialBackoff seeds the exponential backoff schedule.
	InitialBackoff time.Duration
}

// Counts aggregates unit outcomes for one stage.
type Counts struct {
	Skipped   int `json:"skipped"`
	Committed int `json:"committed"`
	Degraded  int `json:"degraded"`
	Failed    int `json:"failed"`
}

// Summary aggregates a whole pipeline run.
type Summary struct {
	RunID    string                 `json:"run_id"`
	PerStage map[record.Kind]Counts `json:"per_stage"`
	Outcomes []Outcome              `json:"outcomes"`
	Duration time.Duration          `json:"duration"`
}

// Add folds one outcome into the summary.
func (s *Summary) Add(o Outcome) {
	c := s.PerStage[o.Kind]
	switch o.Status {
	case StatusSkipped:
		c.Skipped++
	case StatusCommitted:
		c.Committed++
	case StatusDegraded:
		c.Degraded++
	case StatusFailed:
		c.Failed++
	}
	s.PerStage[o.Kind] = c
	s.Outcomes = append(s.Outcomes, o)
}

// Orchestrator runs analysis stages against the store.
type Orchestrator struct {
	store      *store.Store
	gw         gateway.Gateway
	policy     RetryPolicy
	compliance config.ComplianceConfig

	maxConcurrent int
	now           func() time.Time
	log           *logrus.Entry
}

// New builds an orchestrator with the given collaborators and policy.
func New(st *store.Store, gw gateway.Gateway, policy RetryPolicy, compliance config.ComplianceConfig, maxConcurrent int) *Orchestrator {
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = 500 * time.Millisecond
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Orchestrator{
		store:         st,
		gw:            gw,
		policy:        policy,
		compliance:    compliance,
		maxConcurrent: maxConcurrent,
		now:           time.Now,
		log:           logger.Component("orchestrator"),
	}
}

// EnsureSection runs one analysis stage for one call. With force false, an
// already-valid section is a cheap no-op returning StatusSkipped. A returned
// error means the unit could not even be attempted (unknown call) or the
// store itself failed; stage-level trouble is reported in the Outcome instead.
func (o *Orchestrator) EnsureSection(ctx context.Context, callID string, kind record.Kind, force bool) (Outcome, error) {
	out := Outcome{CallID: callID, Kind: kind}
	if !kind.Valid() {
		return out, fmt.Errorf("unknown stage kind %q", kind)
	}

	rec, err := o.store.Get(callID)
	if err != nil {
		return out, err
	}

	if !force && rec.SectionComplete(kind) {
		out.Status = StatusSkipped
		out.Section = rec.Section(kind)
		return out, nil
	}

	log := o.log.WithFields(logrus.Fields{"call_id": callID, "stage": string(kind)})

	diagnostic := ""
	attempts := 1 + o.policy.ValidationRetries
	var lastRaw string
	for attempt := 1; attempt <= attempts; attempt++ {
		prompt := BuildPrompt(kind, rec, o.compliance, diagnostic)

		raw, err := o.inferWithBackoff(ctx, kind, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			log.WithError(err).Warn("inference failed after retries")
			out.Status = StatusFailed
			out.Diagnostic = err.Error()
			return out, nil
		}
		lastRaw = raw

		sec, failure := validate.Validate(kind, raw)
		if failure == nil {
			sec.AnalyzedAt = o.now().UTC()
			if _, err := o.store.UpsertSection(callID, sec); err != nil {
				return out, fmt.Errorf("commit section: %w", err)
			}
			out.Status = StatusCommitted
			out.Section = sec
			return out, nil
		}

		diagnostic = failure.Reason
		log.WithField("attempt", attempt).WithField("reason", failure.Reason).Warn("validation failed")
	}

	// Retries exhausted: keep the raw output for audit with structured fields
	// left empty, visibly flagged as degraded.
	degraded := &record.Section{
		Kind:       kind,
		RawOutput:  lastRaw,
		Degraded:   true,
		AnalyzedAt: o.now().UTC(),
	}
	if _, err := o.store.UpsertSection(callID, degraded); err != nil {
		return out, fmt.Errorf("commit degraded section: %w", err)
	}
	out.Status = StatusDegraded
	out.Diagnostic = diagnostic
	out.Section = degraded
	return out, nil
}

// inferWithBackoff wraps one gateway call in the transport retry policy.
func (o *Orchestrator) inferWithBackoff(ctx context.Context, kind record.Kind, prompt string) (string, error) {
	var raw string
	op := func() error {
		var err error
		raw, err = o.gw.Infer(ctx, kind, prompt)
		if err == nil {
			return nil
		}
		if te, ok := gateway.AsTransport(err); ok && !te.Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = o.policy.InitialBackoff
	bo := backoff.WithContext(
		backoff.WithMaxRetries(expo, uint64(o.policy.TransportRetries)),
		ctx,
	)
	if err := backoff.Retry(op, bo); err != nil {
		return "", err
	}
	return raw, nil
}

type unit struct {
	callID string
	kind   record.Kind
}

// RunAll applies EnsureSection to every (call, stage) pair over a bounded
// worker pool. One failing pair never blocks the others; only a store-level
// failure aborts the run. Cancelling ctx stops scheduling between units and
// leaves already-committed sections in place.
func (o *Orchestrator) RunAll(ctx context.Context, callIDs []string, kinds []record.Kind, force bool) (*Summary, error) {
	start := time.Now()
	if len(callIDs) == 0 {
		var err error
		callIDs, err = o.store.IDs()
		if err != nil {
			return nil, err
		}
	}
	if len(kinds) == 0 {
		kinds = record.Kinds()
	}

	summary := &Summary{
		RunID:    uuid.New().String(),
		PerStage: make(map[record.Kind]Counts),
	}

	units := make(chan unit, len(callIDs)*len(kinds))
	for _, id := range callIDs {
		for _, k := range kinds {
			units <- unit{callID: id, kind: k}
		}
	}
	close(units)

	type result struct {
		outcome Outcome
		err     error
	}
	results := make(chan result, len(callIDs)*len(kinds))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < o.maxConcurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range units {
				if runCtx.Err() != nil {
					return
				}
				outcome, err := o.EnsureSection(runCtx, u.callID, u.kind, force)
				results <- result{outcome: outcome, err: err}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var fatal error
	for res := range results {
		if res.err != nil {
			if errors.Is(res.err, store.ErrNotFound) {
				// Unknown call id is a per-unit failure, not a batch abort.
				res.outcome.Status = StatusFailed
				res.outcome.Diagnostic = res.err.Error()
				summary.Add(res.outcome)
				continue
			}
			if fatal == nil {
				fatal = res.err
				cancel()
			}
			continue
		}
		summary.Add(res.outcome)
	}

	summary.Duration = time.Since(start)
	o.log.WithFields(logrus.Fields{
		"run_id":      summary.RunID,
		"calls":       len(callIDs),
		"stages":      len(kinds),
		"duration_ms": summary.Duration.Milliseconds(),
	}).Info("pipeline run finished")

	if fatal != nil {
		return summary, fatal
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}
