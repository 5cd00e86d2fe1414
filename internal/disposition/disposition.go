// Package disposition implements DispositionEngine, mapping a pipeline
// run's terminal status and the configured policy to one of {OK, DELETED,
// BOUNCE, ERROR} and the side effects that go with it (header stamping,
// quarantine copy, re-injection).
package disposition

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/decency/contentfilter/internal/config"
	"github.com/decency/contentfilter/internal/pipeline"
	"github.com/decency/contentfilter/internal/reinject"
	"github.com/decency/contentfilter/internal/session"
)

// Code is the final disposition handed back to the SMTPFrontend.
type Code string

const (
	CodeOK      Code = "OK"
	CodeDeleted Code = "DELETED"
	CodeBounce  Code = "BOUNCE"
	CodeError   Code = "ERROR"
)

// Outcome is the disposition result: the code plus any detail string the
// frontend should fold into its SMTP reply.
type Outcome struct {
	Code    Code
	Detail  string
	NextID  string
}

// Engine applies DispositionConfig to a pipeline.Result.
type Engine struct {
	Policy    config.DispositionConfig
	Spool     config.SpoolConfig
	Reinjector *reinject.Reinjector
}

// Apply runs the disposition for a completed pipeline run and returns the
// final code.
func (e *Engine) Apply(sess *session.Session, result pipeline.Result) Outcome {
	switch result.Status {
	case pipeline.StatusSpam:
		return e.spam(sess, result)
	case pipeline.StatusVirus:
		return e.virus(sess, result)
	case pipeline.StatusDrop:
		// Message is swallowed entirely; report OK to the MTA and do
		// nothing further.
		return Outcome{Code: CodeOK}
	default:
		return e.ok(sess)
	}
}

func (e *Engine) spam(sess *session.Session, result pipeline.Result) Outcome {
	p := e.Policy.Spam
	switch p.Handle {
	case "delete":
		return Outcome{Code: CodeDeleted, Detail: result.Detail}
	case "bounce":
		return Outcome{Code: CodeBounce, Detail: result.Detail}
	case "ignore":
		return e.reinject(sess)
	default: // "tag"
		e.tagSpam(sess, p.SubjectPrefix)
		return e.reinject(sess)
	}
}

func (e *Engine) tagSpam(sess *session.Session, subjectPrefix string) {
	h := sess.MIME.Header()
	h.Set("X-Decency-Result", "SPAM")
	h.Set("X-Decency-Score", strconv.FormatFloat(sess.SpamScore, 'f', -1, 64))
	if e.Policy.NoisyHeaders && len(sess.SpamDetails) > 0 {
		h.Set("X-Decency-SpamInfo", strings.Join(sess.SpamDetails, "|"))
	}
	if subjectPrefix != "" {
		sess.MIME.SetSubjectPrefix(subjectPrefix)
	}
	if err := sess.MIME.Flush(); err != nil {
		// Flush failure here means the unmutated message is re-injected;
		// the error is not reported to the caller.
		_ = err
	}
}

func (e *Engine) virus(sess *session.Session, result pipeline.Result) Outcome {
	switch e.Policy.Virus.Handle {
	case "bounce":
		return Outcome{Code: CodeBounce, Detail: result.Detail}
	case "delete":
		return Outcome{Code: CodeDeleted, Detail: result.Detail}
	case "quarantine":
		if err := e.quarantine(sess); err != nil {
			return Outcome{Code: CodeError, Detail: err.Error()}
		}
		return Outcome{Code: CodeDeleted, Detail: result.Detail}
	default: // "ignore"
		return e.reinject(sess)
	}
}

func (e *Engine) quarantine(sess *session.Session) error {
	if err := os.MkdirAll(e.Spool.QuarantineDir, 0700); err != nil {
		return fmt.Errorf("disposition: create quarantine dir: %w", err)
	}
	name := fmt.Sprintf("%d_FROM_%s_TO_%s-%s",
		time.Now().Unix(), slug(sess.From), slug(strings.Join(sess.To, "_")), sess.ID)
	dst := filepath.Join(e.Spool.QuarantineDir, name)
	return copyFile(sess.File, dst)
}

func (e *Engine) ok(sess *session.Session) Outcome {
	if e.Policy.NoisyHeaders {
		h := sess.MIME.Header()
		h.Set("X-Decency-Result", "GOOD")
		h.Set("X-Decency-Score", strconv.FormatFloat(sess.SpamScore, 'f', -1, 64))
		if len(sess.SpamDetails) > 0 {
			h.Set("X-Decency-Details", strings.Join(sess.SpamDetails, "|"))
		}
		_ = sess.MIME.Flush()
	}
	return e.reinject(sess)
}

func (e *Engine) reinject(sess *session.Session) Outcome {
	nextID, err := e.Reinjector.Send(sess)
	if err != nil {
		if copyErr := copyFile(sess.File, filepath.Join(e.Spool.ReinjectFailDir, filepath.Base(sess.File))); copyErr != nil {
			return Outcome{Code: CodeError, Detail: fmt.Sprintf("%v (and failed to preserve spool copy: %v)", err, copyErr)}
		}
		return Outcome{Code: CodeError, Detail: err.Error()}
	}
	sess.NextID = nextID
	return Outcome{Code: CodeOK, NextID: nextID}
}

func slug(s string) string {
	s = strings.ReplaceAll(s, "@", "-at-")
	s = strings.ReplaceAll(s, "/", "_")
	return s
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("disposition: open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return fmt.Errorf("disposition: mkdir %s: %w", filepath.Dir(dst), err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("disposition: create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("disposition: copy to %s: %w", dst, err)
	}
	return nil
}
