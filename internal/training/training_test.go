package training

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/decency/contentfilter/internal/filtermod"
	"github.com/decency/contentfilter/internal/session"
)

// fakeTrainable classifies every message as spam when classifyAsSpam is
// set and as ham otherwise, and counts how many times each training
// variant ran.
type fakeTrainable struct {
	name            string
	disableTrain    bool
	trainSpamCalls  int
	trainHamCalls   int
	classifyAsSpam  bool
}

func (f *fakeTrainable) Name() string { return f.name }
func (f *fakeTrainable) Handle(_ context.Context, sess *session.Session) filtermod.Outcome {
	if f.classifyAsSpam {
		sess.AddScore(-1, "")
	}
	return filtermod.OK()
}
func (f *fakeTrainable) DisableTrain() bool { return f.disableTrain }
func (f *fakeTrainable) TrainSpam(context.Context, *session.Session) error {
	f.trainSpamCalls++
	return nil
}
func (f *fakeTrainable) TrainHam(context.Context, *session.Session) error {
	f.trainHamCalls++
	return nil
}
func (f *fakeTrainable) UntrainSpam(context.Context, *session.Session) error { return nil }
func (f *fakeTrainable) UntrainHam(context.Context, *session.Session) error  { return nil }

func writeCorpusFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("Subject: hello\r\n\r\nbody text"), 0600); err != nil {
		t.Fatalf("write corpus file: %v", err)
	}
	return path
}

func TestTrainSingleInvokesTrainSpamWhenMisclassified(t *testing.T) {
	mod := &fakeTrainable{name: "bayes", classifyAsSpam: false}
	driver := &Driver{Modules: []filtermod.Module{mod}}
	path := writeCorpusFile(t, t.TempDir(), "spam1.eml")

	report, err := driver.TrainSingle(context.Background(), path, LabelSpam)
	if err != nil {
		t.Fatalf("TrainSingle: %v", err)
	}
	if mod.trainSpamCalls != 1 {
		t.Errorf("trainSpamCalls = %d, want 1", mod.trainSpamCalls)
	}
	if report.Modules["bayes"].Trained != 1 {
		t.Errorf("Trained = %d, want 1", report.Modules["bayes"].Trained)
	}
}

func TestTrainSingleSkipsWhenAlreadyCorrect(t *testing.T) {
	mod := &fakeTrainable{name: "bayes", classifyAsSpam: true}
	driver := &Driver{Modules: []filtermod.Module{mod}}
	path := writeCorpusFile(t, t.TempDir(), "spam2.eml")

	report, err := driver.TrainSingle(context.Background(), path, LabelSpam)
	if err != nil {
		t.Fatalf("TrainSingle: %v", err)
	}
	if mod.trainSpamCalls != 0 {
		t.Errorf("trainSpamCalls = %d, want 0 (module already classified correctly)", mod.trainSpamCalls)
	}
	if report.Modules["bayes"].NotRequired != 1 {
		t.Errorf("NotRequired = %d, want 1", report.Modules["bayes"].NotRequired)
	}
}

func TestTrainSingleSkipsDisabledModule(t *testing.T) {
	mod := &fakeTrainable{name: "bayes", disableTrain: true}
	driver := &Driver{Modules: []filtermod.Module{mod}}
	path := writeCorpusFile(t, t.TempDir(), "ham1.eml")

	report, err := driver.TrainSingle(context.Background(), path, LabelHam)
	if err != nil {
		t.Fatalf("TrainSingle: %v", err)
	}
	if mod.trainHamCalls != 0 {
		t.Errorf("trainHamCalls = %d, want 0 (module opted out of training)", mod.trainHamCalls)
	}
	if _, ok := report.Modules["bayes"]; ok {
		t.Error("a disabled-train module should not appear in the report at all")
	}
}

func TestTrainDirAggregatesAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeCorpusFile(t, dir, "a.eml")
	writeCorpusFile(t, dir, "b.eml")

	mod := &fakeTrainable{name: "bayes"}
	driver := &Driver{Modules: []filtermod.Module{mod}}

	report, err := driver.TrainDir(context.Background(), dir, LabelSpam)
	if err != nil {
		t.Fatalf("TrainDir: %v", err)
	}
	if report.Files != 2 {
		t.Errorf("Files = %d, want 2", report.Files)
	}
	if mod.trainSpamCalls != 2 {
		t.Errorf("trainSpamCalls = %d, want 2", mod.trainSpamCalls)
	}
}

func TestTrainSingleDeletesConsumedFile(t *testing.T) {
	dir := t.TempDir()
	path := writeCorpusFile(t, dir, "ephemeral.eml")

	mod := &fakeTrainable{name: "bayes"}
	driver := &Driver{Modules: []filtermod.Module{mod}, Delete: true}

	if _, err := driver.TrainSingle(context.Background(), path, LabelSpam); err != nil {
		t.Fatalf("TrainSingle: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("corpus file still exists after Delete: %v", err)
	}
}
