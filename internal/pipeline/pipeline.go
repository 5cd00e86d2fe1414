// Package pipeline implements PipelineEngine, running a session through
// every configured filtermod.Module in declaration order and turning the
// first classifying outcome (or a clean pass) into a terminal status for
// DispositionEngine. Modules are queried for optional behavior through
// the filtermod capability interfaces rather than a fixed callback
// sequence, so the module list can grow without touching this loop.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/decency/contentfilter/internal/cache"
	"github.com/decency/contentfilter/internal/filtermod"
	"github.com/decency/contentfilter/internal/session"
	"github.com/decency/contentfilter/internal/stats"
	"github.com/decency/contentfilter/internal/verify"
)

// scoringHeader/scoringSigHeader carry the Policy server's signed score
// handshake; scoringPayload is its JSON shape once verified and decoded.
const (
	scoringHeader    = "X-Decency-Scoring"
	scoringSigHeader = "X-Decency-Scoring-Signature"
)

type scoringPayload struct {
	Score   float64  `json:"score"`
	Details []string `json:"details,omitempty"`
}

// Status is the pipeline's terminal classification, fed to DispositionEngine.
type Status string

const (
	StatusOK    Status = "ok"
	StatusSpam  Status = "spam"
	StatusVirus Status = "virus"
	StatusDrop  Status = "drop"
)

// SpamBehavior controls whether a Spam outcome short-circuits the run.
// Under "ignore" the pipeline still runs every module but never
// classifies on the accumulated score or a module's Spam outcome.
type SpamBehavior string

const (
	BehaviorIgnore  SpamBehavior = "ignore"
	BehaviorStrict  SpamBehavior = "strict"
	BehaviorScoring SpamBehavior = "scoring"
)

// Engine runs the configured module chain.
type Engine struct {
	Modules  []filtermod.Module
	Behavior SpamBehavior
	// Threshold is the spam_score cutoff used when Behavior == scoring;
	// a session is classified spam once SpamScore <= Threshold (more
	// negative is more spammy).
	Threshold float64

	Stats *stats.Recorder
	Log   *logrus.Entry

	// Cache correlates this run with prior Policy-stage scoring via the
	// MTA queue-id. Nil disables correlation entirely.
	Cache *cache.QueueCache
	// Verifier checks the signed X-Decency-Scoring handshake; required
	// when AcceptScoring is true.
	Verifier      *verify.Verifier
	AcceptScoring bool
}

// Result is the outcome of one pipeline run.
type Result struct {
	Status Status
	// Detail is the human-readable reason for the final status (spam
	// phrase or threshold note, virus label, drop reason).
	Detail string
}

// Run executes every configured module against sess in order.
func (e *Engine) Run(ctx context.Context, sess *session.Session) Result {
	e.correlate(sess)

	status := StatusOK
	detail := ""

modules:
	for _, mod := range e.Modules {
		if d, ok := mod.(filtermod.Disableable); ok && d.Disabled() {
			continue
		}

		if sg, ok := mod.(filtermod.SizeGuarded); ok {
			if max := sg.MaxSizeBytes(); max > 0 && sess.FileSize > max {
				e.record(mod.Name(), 0, filtermod.KindFileTooBig)
				e.logFor(sess).WithField("module", mod.Name()).Debug("skipped: file too big")
				continue
			}
		}

		modCtx := ctx
		var cancel context.CancelFunc
		if t, ok := mod.(filtermod.Timed); ok {
			if secs, enabled := t.Timeout(); enabled && secs > 0 {
				modCtx, cancel = context.WithTimeout(ctx, time.Duration(secs+1)*time.Second)
			}
		}

		scoreBefore := sess.SpamScore
		start := time.Now()
		outcome := mod.Handle(modCtx, sess)
		elapsed := time.Since(start)
		if cancel != nil {
			cancel()
		}

		e.record(mod.Name(), elapsed, outcome.Kind)

		switch outcome.Kind {
		case filtermod.KindOK:
			// status stays ok; continue.
		case filtermod.KindSpam:
			if outcome.Detail != "" {
				sess.SpamDetails = append(sess.SpamDetails, outcome.Detail)
			}
			if e.Behavior != BehaviorIgnore {
				status = StatusSpam
				detail = outcome.Detail
				break modules
			}
		case filtermod.KindVirus:
			status = StatusVirus
			sess.Virus = outcome.VirusLabel
			detail = outcome.VirusLabel
			break modules
		case filtermod.KindDrop:
			status = StatusDrop
			detail = outcome.Detail
			break modules
		case filtermod.KindTimeout:
			e.logFor(sess).WithField("module", mod.Name()).WithError(outcome.Err).Error("module timed out")
			sess.SpamScore = scoreBefore
		case filtermod.KindFileTooBig:
			e.logFor(sess).WithField("module", mod.Name()).Debug("file too big")
		case filtermod.KindError:
			e.logFor(sess).WithField("module", mod.Name()).WithError(outcome.Err).Error("module error")
		}

		if e.Behavior == BehaviorScoring && sess.SpamScore <= e.Threshold {
			status = StatusSpam
			detail = "score threshold crossed"
			break modules
		}
		if e.Behavior == BehaviorStrict && sess.SpamScore < 0 {
			status = StatusSpam
			detail = "strict behavior: negative score"
			break modules
		}
	}

	// Virus always wins over a Spam classification raised in the same run;
	// the loop above already guarantees this since a Virus outcome breaks
	// immediately and a later Spam can't downgrade it, but it's guarded
	// here explicitly as well. PreFinish hooks run after this guard and
	// may still change the status.
	if sess.Virus != "" {
		status = StatusVirus
	}

	for _, mod := range e.Modules {
		if hook, ok := mod.(filtermod.PreFinishHook); ok {
			status = Status(hook.HookPreFinish(ctx, sess, string(status)))
		}
	}

	return Result{Status: status, Detail: detail}
}

// correlate inherits any prior Policy-stage score from QueueCache under
// the session's queue-id, then (if enabled) verifies and merges a signed
// Policy scoring header. Forged scoring headers are dropped with a logged
// warning and unsigned ones with a logged error, rather than propagated.
func (e *Engine) correlate(sess *session.Session) {
	if sess.QueueID == "" {
		return
	}

	if e.Cache != nil {
		if snap, err := e.Cache.Load(sess.QueueID); err == nil {
			sess.MergeSnapshot(snap)
		} else if err != cache.ErrNotFound {
			e.logFor(sess).WithError(err).Warn("queue cache lookup failed")
		}
	}

	if !e.AcceptScoring || e.Verifier == nil || sess.MIME == nil {
		return
	}
	payloadB64 := sess.MIME.HeaderField(scoringHeader)
	if payloadB64 == "" {
		return
	}
	sigB64 := sess.MIME.HeaderField(scoringSigHeader)
	raw, err := e.Verifier.Verify(payloadB64, sigB64)
	if err != nil {
		if errors.Is(err, verify.ErrNoSignature) {
			e.logFor(sess).WithError(err).Error("dropped unsigned X-Decency-Scoring header")
		} else {
			e.logFor(sess).WithError(err).Warn("rejected forged X-Decency-Scoring header")
		}
		return
	}
	var payload scoringPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		e.logFor(sess).WithError(err).Warn("malformed X-Decency-Scoring payload")
		return
	}
	sess.AddScore(payload.Score, "")
	sess.SpamDetails = append(sess.SpamDetails, payload.Details...)
}

// Persist writes the session's snapshot back into QueueCache under its own
// queue-id, and touches the predecessor entry to keep it alive across a
// bounce chain. The successor entry is written here too, once the caller
// has learned it from the Reinjector after disposition.
func (e *Engine) Persist(sess *session.Session) {
	if e.Cache == nil || sess.QueueID == "" {
		return
	}
	if err := e.Cache.Save(sess.QueueID, sess.ToSnapshot()); err != nil {
		e.logFor(sess).WithError(err).Warn("failed to persist queue cache entry")
	}
	if sess.PrevID != "" {
		if err := e.Cache.Touch(sess.PrevID); err != nil {
			e.logFor(sess).WithError(err).Debug("failed to refresh predecessor queue cache entry")
		}
	}
	if sess.NextID != "" {
		snap := sess.ToSnapshot()
		snap.QueueID = sess.NextID
		snap.PrevID = sess.QueueID
		if err := e.Cache.Save(sess.NextID, snap); err != nil {
			e.logFor(sess).WithError(err).Debug("failed to persist successor queue cache entry")
		}
	}
}

// RunPostFinish invokes every module's PostFinishHook with the final
// disposition code, after DispositionEngine has run.
func (e *Engine) RunPostFinish(ctx context.Context, sess *session.Session, status Status, dispositionCode string) {
	for _, mod := range e.Modules {
		if hook, ok := mod.(filtermod.PostFinishHook); ok {
			hook.HookPostFinish(ctx, sess, string(status), dispositionCode)
		}
	}
}

func (e *Engine) record(module string, elapsed time.Duration, kind filtermod.Kind) {
	if e.Stats != nil {
		e.Stats.Record(module, elapsed, kind)
	}
}

func (e *Engine) logFor(sess *session.Session) *logrus.Entry {
	if e.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return e.Log.WithField("queue_id", sess.QueueID).WithField("session", sess.ID)
}
