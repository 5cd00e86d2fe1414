package smtpfrontend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/emersion/go-smtp"

	"github.com/decency/contentfilter/internal/disposition"
	"github.com/decency/contentfilter/internal/mimemsg"
	"github.com/decency/contentfilter/internal/session"
)

// info is the JSON sidecar written alongside each spooled message,
// carrying the envelope metadata: from/to/size.
type info struct {
	From string   `json:"from"`
	To   []string `json:"to"`
	Size int64    `json:"size"`
}

// Session implements smtp.Session for one accepted SMTP connection.
type Session struct {
	backend *Backend

	from string
	to   []string
}

func (s *Session) AuthMechanisms() []string { return nil }

func (s *Session) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	s.to = nil
	return nil
}

func (s *Session) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *Session) Data(r io.Reader) error {
	spoolPath, size, err := s.spool(r)
	if err != nil {
		return &smtp.SMTPError{Code: 451, Message: "internal error spooling message"}
	}

	if err := s.writeSidecar(spoolPath, size); err != nil {
		s.backend.Log.WithError(err).Warn("failed to write spool sidecar")
	}

	sess := session.New(filepath.Base(spoolPath), spoolPath, size)
	sess.From = s.from
	sess.To = append([]string(nil), s.to...)

	mime, err := mimemsg.Load(spoolPath)
	if err != nil {
		return &smtp.SMTPError{Code: 451, Message: "internal error parsing message"}
	}
	sess.MIME = mime
	sess.QueueID = mime.QueueID()

	ctx := context.Background()
	result := s.backend.Pipeline.Run(ctx, sess)
	outcome := s.backend.Disposition.Apply(sess, result)
	s.backend.Pipeline.RunPostFinish(ctx, sess, result.Status, string(outcome.Code))
	s.backend.Pipeline.Persist(sess)

	return replyFor(outcome)
}

func replyFor(o disposition.Outcome) error {
	switch o.Code {
	case disposition.CodeOK, disposition.CodeDeleted:
		return nil
	default:
		msg := o.Detail
		if msg == "" {
			msg = "message rejected"
		}
		return &smtp.SMTPError{Code: 550, Message: msg}
	}
}

func (s *Session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *Session) Logout() error { return nil }

func (s *Session) spool(r io.Reader) (path string, size int64, err error) {
	if err := os.MkdirAll(s.backend.Spool.Dir, 0700); err != nil {
		return "", 0, fmt.Errorf("smtpfrontend: create spool dir: %w", err)
	}
	f, err := os.CreateTemp(s.backend.Spool.Dir, "mail-")
	if err != nil {
		return "", 0, fmt.Errorf("smtpfrontend: create spool file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		return "", 0, fmt.Errorf("smtpfrontend: write spool file: %w", err)
	}
	return f.Name(), n, nil
}

func (s *Session) writeSidecar(spoolPath string, size int64) error {
	data, err := json.Marshal(info{From: s.from, To: s.to, Size: size})
	if err != nil {
		return err
	}
	return os.WriteFile(spoolPath+".info", data, 0600)
}
