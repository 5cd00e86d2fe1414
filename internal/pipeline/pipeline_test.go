package pipeline

import (
	"context"
	"testing"

	"github.com/decency/contentfilter/internal/cache"
	"github.com/decency/contentfilter/internal/filtermod"
	"github.com/decency/contentfilter/internal/session"
)

// fakeModule is a minimal filtermod.Module with optional capability knobs
// wired in via plain fields rather than the full decorator chain
// modfactory builds, so pipeline behavior can be exercised in isolation.
type fakeModule struct {
	name     string
	outcome  filtermod.Outcome
	disabled bool
	maxSize  int64
}

func (f *fakeModule) Name() string { return f.name }
func (f *fakeModule) Handle(_ context.Context, sess *session.Session) filtermod.Outcome {
	return f.outcome
}
func (f *fakeModule) Disabled() bool      { return f.disabled }
func (f *fakeModule) MaxSizeBytes() int64 { return f.maxSize }

func newSession() *session.Session {
	return session.New("id1", "/spool/id1", 100)
}

func TestRunCleanPassReturnsOK(t *testing.T) {
	e := &Engine{Modules: []filtermod.Module{
		&fakeModule{name: "kw", outcome: filtermod.OK()},
	}}
	res := e.Run(context.Background(), newSession())
	if res.Status != StatusOK {
		t.Errorf("Status = %v, want %v", res.Status, StatusOK)
	}
}

func TestRunSpamStopsShortUnderStrictAndScoring(t *testing.T) {
	for _, behavior := range []SpamBehavior{BehaviorStrict, BehaviorScoring} {
		e := &Engine{
			Behavior: behavior,
			Modules: []filtermod.Module{
				&fakeModule{name: "kw", outcome: filtermod.Spam("free money")},
				&fakeModule{name: "never-runs", outcome: filtermod.Virus("should-not-fire")},
			},
		}
		res := e.Run(context.Background(), newSession())
		if res.Status != StatusSpam {
			t.Fatalf("%s: Status = %v, want %v", behavior, res.Status, StatusSpam)
		}
		if res.Detail != "free money" {
			t.Errorf("%s: Detail = %q, want %q", behavior, res.Detail, "free money")
		}
	}
}

func TestRunSpamIgnoredUnderIgnoreBehaviorKeepsRunning(t *testing.T) {
	e := &Engine{
		Behavior: BehaviorIgnore,
		Modules: []filtermod.Module{
			&fakeModule{name: "kw", outcome: filtermod.Spam("free money")},
			&fakeModule{name: "later", outcome: filtermod.OK()},
		},
	}
	res := e.Run(context.Background(), newSession())
	if res.Status != StatusOK {
		t.Errorf("Status = %v, want %v (ignore behavior never classifies on Spam)", res.Status, StatusOK)
	}
}

func TestRunVirusAlwaysWinsOverSpam(t *testing.T) {
	e := &Engine{
		Behavior: BehaviorScoring,
		Modules: []filtermod.Module{
			&fakeModule{name: "clamav", outcome: filtermod.Virus("EICAR-Test-Signature")},
			&fakeModule{name: "kw", outcome: filtermod.Spam("free money")},
		},
	}
	sess := newSession()
	res := e.Run(context.Background(), sess)
	if res.Status != StatusVirus {
		t.Fatalf("Status = %v, want %v", res.Status, StatusVirus)
	}
	if sess.Virus != "EICAR-Test-Signature" {
		t.Errorf("Virus = %q", sess.Virus)
	}
}

func TestRunDisabledModuleSkipped(t *testing.T) {
	e := &Engine{Modules: []filtermod.Module{
		&fakeModule{name: "off", outcome: filtermod.Spam("should not run"), disabled: true},
	}}
	res := e.Run(context.Background(), newSession())
	if res.Status != StatusOK {
		t.Errorf("Status = %v, want %v (disabled module contributes nothing)", res.Status, StatusOK)
	}
}

func TestRunOversizedFileSkipsModule(t *testing.T) {
	e := &Engine{Modules: []filtermod.Module{
		&fakeModule{name: "big", outcome: filtermod.Spam("should not run"), maxSize: 10},
	}}
	sess := newSession()
	sess.FileSize = 1000
	res := e.Run(context.Background(), sess)
	if res.Status != StatusOK {
		t.Errorf("Status = %v, want %v (module should be skipped on size guard)", res.Status, StatusOK)
	}
}

func TestRunScoringThresholdClassifiesSpam(t *testing.T) {
	scoring := &fakeModule{name: "bayes", outcome: filtermod.OK()}
	e := &Engine{
		Behavior:  BehaviorScoring,
		Threshold: -5,
		Modules:   []filtermod.Module{scoring},
	}
	sess := newSession()
	sess.AddScore(-10, "prior: already spammy")

	res := e.Run(context.Background(), sess)
	if res.Status != StatusSpam {
		t.Errorf("Status = %v, want %v (score %v crossed threshold %v)", res.Status, StatusSpam, sess.SpamScore, e.Threshold)
	}
}

func TestCorrelateMergesCachedSnapshot(t *testing.T) {
	store := cache.NewLocalStore()
	defer store.Close()
	qc := cache.New(store)
	if err := qc.Save("QABC", session.Snapshot{SpamScore: -30, SpamDetails: []string{"policy: prior hit"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	e := &Engine{Cache: qc}
	sess := newSession()
	sess.QueueID = "QABC"

	e.Run(context.Background(), sess)
	if sess.SpamScore != -30 {
		t.Errorf("SpamScore = %v, want -30 (merged from cache)", sess.SpamScore)
	}
	if len(sess.SpamDetails) != 1 {
		t.Errorf("SpamDetails = %v, want one merged entry", sess.SpamDetails)
	}
}

func TestPersistWritesSnapshotAndTouchesPredecessor(t *testing.T) {
	store := cache.NewLocalStore()
	defer store.Close()
	qc := cache.New(store)

	if err := qc.Save("QPREV", session.Snapshot{SpamScore: -1}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	e := &Engine{Cache: qc}
	sess := newSession()
	sess.QueueID = "QTHIS"
	sess.PrevID = "QPREV"
	sess.AddScore(-8, "keyword: hit")

	e.Persist(sess)

	snap, err := qc.Load("QTHIS")
	if err != nil {
		t.Fatalf("Load QTHIS: %v", err)
	}
	if snap.SpamScore != -8 {
		t.Errorf("persisted SpamScore = %v, want -8", snap.SpamScore)
	}
}
