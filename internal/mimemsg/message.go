// Package mimemsg loads a spooled message into a mutable MIME tree and
// exposes the header-block operations the pipeline and disposition engine
// need (queue-id extraction, X-Decency-* stamping, Subject rewriting).
//
// Grounded on how sblinch-maddy's internal/check/spamassassin.go builds an
// added-header block with emersion/go-message/textproto, generalized here
// to a full read-modify-write of the header section rather than a
// check-only "headers to add" accumulator.
package mimemsg

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	emmsg "github.com/emersion/go-message"
	"github.com/emersion/go-message/textproto"
)

// Message is a lazily-parsed MIME tree with a mutable header block. The
// body is kept on disk and only the header section is held in memory,
// since filter modules need to read/rewrite headers far more often than
// they need the full decoded body.
type Message struct {
	path string

	header textproto.Header
	// bodyOffset is the byte offset in path where the body begins, i.e.
	// the length of the original raw header block on disk.
	bodyOffset int64

	loaded bool
}

// Load opens path and reads just enough to parse the header block. The
// body is left on disk; callers that need it call Open.
func Load(path string) (*Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mimemsg: open %s: %w", path, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	hdr, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("mimemsg: parse header of %s: %w", path, err)
	}

	// bodyOffset = file size - bytes still buffered/unread after the header.
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	unread := br.Buffered()
	offset, _ := f.Seek(0, io.SeekCurrent)
	bodyOffset := offset - int64(unread)
	_ = stat

	return &Message{
		path:       path,
		header:     hdr,
		bodyOffset: bodyOffset,
		loaded:     true,
	}, nil
}

// Header returns the mutable header block. Callers mutate it in place via
// Set/Add/Del and then call Flush to persist the rewritten message.
func (m *Message) Header() *textproto.Header { return &m.header }

// HeaderField reads a single header value ("" if absent), case-insensitive
// per RFC 5322, delegating to go-message/textproto's own folding rules.
func (m *Message) HeaderField(name string) string {
	return m.header.Get(name)
}

// Body opens a reader over just the body section, skipping the header
// bytes already consumed by Load.
func (m *Message) Body() (io.ReadCloser, error) {
	f, err := os.Open(m.path)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(m.bodyOffset, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// Entity parses the full MIME entity (for modules that need multipart
// walking, e.g. an attachment scanner). Rarely needed; most modules only
// touch headers.
func (m *Message) Entity() (*emmsg.Entity, error) {
	f, err := os.Open(m.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return emmsg.Read(f)
}

// Flush rewrites path with the current header block followed by the
// original body bytes, so header mutations (tagging, subject rewrite)
// survive into the re-injected message.
func (m *Message) Flush() error {
	body, err := m.Body()
	if err != nil {
		return err
	}
	defer body.Close()

	tmp := m.path + ".rewrite"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := textproto.WriteHeader(&buf, m.header); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if _, err := out.Write(buf.Bytes()); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, m.path)
}

// SetSubjectPrefix prepends prefix to the Subject header, guarding against
// double-prefixing on a re-run.
func (m *Message) SetSubjectPrefix(prefix string) {
	if prefix == "" {
		return
	}
	subj := m.header.Get("Subject")
	if len(subj) >= len(prefix) && subj[:len(prefix)] == prefix {
		return
	}
	m.header.Set("Subject", prefix+subj)
}
