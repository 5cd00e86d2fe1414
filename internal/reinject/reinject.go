// Package reinject implements the Reinjector: an SMTP client that submits
// a disposed-of spool file to the downstream MTA and learns the
// successor queue-id from the final response line.
//
// The transport is built directly on net/textproto rather than
// github.com/emersion/go-smtp's client helpers, because capturing the
// literal final response line ("250 2.0.0 Ok: queued as ABC123") to
// extract the successor queue-id is the one piece of protocol state
// go-smtp's client abstracts away; net/textproto's Cmd/ReadResponse give
// direct access to it. The connect/HELO/MAIL/RCPT/DATA sequence below
// otherwise mirrors the shape of maddy's internal/target/smtp Downstream
// (dial, issue commands in order, stream the body, inspect the final
// reply), adapted from SMTP-client to textproto primitives.
package reinject

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"os"
	"regexp"
	"time"

	"github.com/decency/contentfilter/internal/config"
	"github.com/decency/contentfilter/internal/session"
)

// Failure is raised when re-injection cannot complete; the caller (the
// DispositionEngine) is responsible for preserving the spool file for
// manual recovery.
type Failure struct {
	Stage string
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("reinject: %s: %v", f.Stage, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

var queuedAsRe = regexp.MustCompile(`queued as ([A-Za-z0-9]+)`)

// Reinjector submits a message to the downstream SMTP listener.
type Reinjector struct {
	cfg config.ReinjectConfig
}

func New(cfg config.ReinjectConfig) *Reinjector {
	return &Reinjector{cfg: cfg}
}

// Send re-injects sess's spool file and returns the successor queue-id
// parsed from the downstream's final response line.
func (r *Reinjector) Send(sess *session.Session) (nextID string, err error) {
	conn, err := net.DialTimeout("tcp", r.cfg.Address, r.cfg.Timeout)
	if err != nil {
		return "", &Failure{Stage: "dial", Err: err}
	}
	defer conn.Close()
	if r.cfg.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(r.cfg.Timeout))
	}

	tp := textproto.NewConn(conn)

	if _, _, err := tp.ReadResponse(220); err != nil {
		return "", &Failure{Stage: "banner", Err: err}
	}

	if err := cmdExpect(tp, 250, "HELO %s", r.cfg.Hostname); err != nil {
		return "", &Failure{Stage: "helo", Err: err}
	}
	if err := cmdExpect(tp, 250, "MAIL FROM:<%s>", sess.From); err != nil {
		return "", &Failure{Stage: "mail-from", Err: err}
	}
	for _, rcpt := range sess.To {
		if err := cmdExpect(tp, 250, "RCPT TO:<%s>", rcpt); err != nil {
			return "", &Failure{Stage: "rcpt-to", Err: err}
		}
	}

	id, err := tp.Cmd("DATA")
	if err != nil {
		return "", &Failure{Stage: "data", Err: err}
	}
	tp.StartResponse(id)
	_, _, err = tp.ReadResponse(354)
	tp.EndResponse(id)
	if err != nil {
		return "", &Failure{Stage: "data", Err: err}
	}

	if err := streamBody(tp.Writer.W, sess.File); err != nil {
		return "", &Failure{Stage: "body", Err: err}
	}

	id = tp.Next()
	tp.StartResponse(id)
	_, finalLine, err := tp.ReadCodeLine(250)
	tp.EndResponse(id)
	if err != nil {
		return "", &Failure{Stage: "final-response", Err: err}
	}

	if m := queuedAsRe.FindStringSubmatch(finalLine); len(m) > 1 {
		nextID = m[1]
	}

	_, _ = tp.Cmd("QUIT")
	return nextID, nil
}

func cmdExpect(tp *textproto.Conn, expectCode int, format string, args ...any) error {
	id, err := tp.Cmd(format, args...)
	if err != nil {
		return err
	}
	tp.StartResponse(id)
	defer tp.EndResponse(id)
	_, _, err = tp.ReadResponse(expectCode)
	return err
}

// streamBody writes path's content CRLF-normalized and dot-stuffed,
// terminated by the DATA end sequence.
func streamBody(w *bufio.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dw := textproto.NewWriter(w).DotWriter()
	if _, err := io.Copy(dw, f); err != nil {
		dw.Close()
		return err
	}
	return dw.Close()
}
