// Package training implements the offline training driver: a separate
// entry point from the SMTP pipeline that feeds a labeled corpus into
// every Trainable module and aggregates per-module outcomes into
// not_required/trained/errors buckets.
package training

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/decency/contentfilter/internal/filtermod"
	"github.com/decency/contentfilter/internal/mimemsg"
	"github.com/decency/contentfilter/internal/session"
)

// Label is the ground-truth classification a corpus file is trained as.
type Label string

const (
	LabelSpam Label = "spam"
	LabelHam  Label = "ham"
)

// ModuleCounts is a per-module not_required/trained/errors tally.
type ModuleCounts struct {
	NotRequired int
	Trained     int
	Errors      int
}

// Report aggregates ModuleCounts per module name across a whole run.
type Report struct {
	Files   int
	Modules map[string]*ModuleCounts
}

func newReport() *Report {
	return &Report{Modules: make(map[string]*ModuleCounts)}
}

func (r *Report) counts(module string) *ModuleCounts {
	c, ok := r.Modules[module]
	if !ok {
		c = &ModuleCounts{}
		r.Modules[module] = c
	}
	return c
}

// Driver runs the training algorithm against a set of trainable modules.
// Not safe for concurrent use: Report accumulates across calls.
type Driver struct {
	Modules []filtermod.Module
	Log     *logrus.Entry

	// Delete removes each consumed source file after training. Moving is
	// left to the caller (e.g. a shell wrapper); this driver only
	// supports delete-in-place.
	Delete bool

	report *Report
}

// TrainFile runs one corpus file through every Trainable module:
// synthesize a session, probe each module's Handle to check whether it
// already classifies correctly, and only invoke the training command
// variant when it doesn't.
func (d *Driver) TrainFile(ctx context.Context, path string, label Label) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("training: stat %s: %w", path, err)
	}

	sess := session.New(filepath.Base(path), path, info.Size())
	mime, err := mimemsg.Load(path)
	if err != nil {
		return fmt.Errorf("training: parse %s: %w", path, err)
	}
	sess.MIME = mime
	sess.QueueID = mime.QueueID()

	for _, mod := range d.Modules {
		trainable, ok := mod.(filtermod.Trainable)
		if !ok || trainable.DisableTrain() {
			continue
		}
		d.trainModule(ctx, mod, trainable, sess, label)
	}

	if d.Delete {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("training: remove %s: %w", path, err)
		}
	}
	return nil
}

func (d *Driver) trainModule(ctx context.Context, mod filtermod.Module, trainable filtermod.Trainable, sess *session.Session, label Label) {
	// probe: run Handle against a fresh session built from sess's fields so
	// the probe can't pollute a later module's view of sess.SpamScore (and
	// so we never copy session.Session, which embeds a sync.Mutex).
	probe := session.New(sess.ID, sess.File, sess.FileSize)
	probe.MIME = sess.MIME
	probe.QueueID = sess.QueueID
	probe.From = sess.From
	probe.To = sess.To

	outcome := mod.Handle(ctx, probe)

	correct := false
	switch label {
	case LabelSpam:
		correct = probe.SpamScore < 0 || outcome.Kind == filtermod.KindSpam
	case LabelHam:
		correct = probe.SpamScore >= 0 && outcome.Kind != filtermod.KindSpam
	}

	name := mod.Name()
	if correct {
		if d.Log != nil {
			d.Log.WithField("module", name).Debug("training not required")
		}
		d.bucket(name).NotRequired++
		return
	}

	var err error
	if label == LabelSpam {
		err = trainable.TrainSpam(ctx, sess)
	} else {
		err = trainable.TrainHam(ctx, sess)
	}
	if err != nil {
		if d.Log != nil {
			d.Log.WithField("module", name).WithError(err).Error("training failed")
		}
		d.bucket(name).Errors++
		return
	}
	d.bucket(name).Trained++
}

func (d *Driver) bucket(module string) *ModuleCounts {
	if d.report == nil {
		d.report = newReport()
	}
	return d.report.counts(module)
}

// Report returns the counts accumulated across every TrainFile/TrainDir/
// TrainSingle call made so far.
func (d *Driver) Report() *Report {
	if d.report == nil {
		d.report = newReport()
	}
	return d.report
}

// TrainDir walks dir and trains every regular file it finds as label,
// aggregating results into a single Report.
func (d *Driver) TrainDir(ctx context.Context, dir string, label Label) (*Report, error) {
	if d.report == nil {
		d.report = newReport()
	}
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() {
			return nil
		}
		d.report.Files++
		if err := d.TrainFile(ctx, path, label); err != nil {
			if d.Log != nil {
				d.Log.WithField("file", path).WithError(err).Error("training file failed")
			}
		}
		return nil
	})
	if err != nil {
		return d.report, fmt.Errorf("training: walk %s: %w", dir, err)
	}
	return d.report, nil
}

// TrainSingle trains one file and returns the accumulated report.
func (d *Driver) TrainSingle(ctx context.Context, path string, label Label) (*Report, error) {
	if d.report == nil {
		d.report = newReport()
	}
	d.report.Files++
	if err := d.TrainFile(ctx, path, label); err != nil {
		return d.report, err
	}
	return d.report, nil
}
