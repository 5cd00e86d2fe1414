// Package session implements MessageSession, the per-message state carried
// through one pipeline run: the parsed MIME message plus the queue
// correlation, scoring accumulator, and flag set a multi-daemon pipeline
// needs.
package session

import (
	"sync"

	"github.com/decency/contentfilter/internal/mimemsg"
)

// Session is one per message, for the lifetime of a single pipeline run.
// A *Session is handed to each module's Handle by reference; modules must
// not retain the pointer past the call.
type Session struct {
	// ID is a stable identifier derived from the spool path.
	ID string

	// QueueID is the MTA's queue identifier, extracted from the last
	// Received header. Immutable once set.
	QueueID string
	// PrevID/NextID link this message to a predecessor/successor queue-id,
	// e.g. when the MTA rewrites the message for a bounce notification.
	PrevID string
	NextID string

	// File is the path to the spool copy; FileSize is its size in bytes.
	File     string
	FileSize int64

	// From/To are the envelope addresses.
	From string
	To   []string

	// MIME is the lazily-parsed, mutable MIME tree.
	MIME *mimemsg.Message

	mu sync.Mutex

	// SpamScore accumulates signed per-module deltas; more negative is
	// more spammy. Starts at 0.
	SpamScore float64
	// SpamDetails holds one entry per module that contributed a score or
	// classification.
	SpamDetails []string

	// Virus is the detected virus label, or "" if none. Once set the
	// session is in a terminal classification and no further modules run.
	Virus string

	// Flags is an open set of string flags modules set/query on each
	// other, e.g. a cached %user% resolution.
	Flags map[string]bool

	// Cache is a non-owning back-reference to the QueueCache this session
	// was loaded from / will be persisted to.
	Cache QueueCache
}

// QueueCache is the narrow view of the cache a Session needs; defined here
// to avoid an import cycle with package cache, which depends on session
// for the snapshot shape it serializes.
type QueueCache interface {
	Touch(queueID string) error
}

// New creates a fresh session for a spooled message.
func New(id, file string, size int64) *Session {
	return &Session{
		ID:       id,
		File:     file,
		FileSize: size,
		Flags:    make(map[string]bool),
	}
}

// AddScore applies a signed delta to the accumulator and records the
// contributing module's detail line. Safe for concurrent use, though in
// practice a single session is only ever touched by one pipeline run's
// goroutine at a time, serially; the mutex exists only to make that
// invariant explicit.
func (s *Session) AddScore(delta float64, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SpamScore += delta
	if detail != "" {
		s.SpamDetails = append(s.SpamDetails, detail)
	}
}

// SetFlag/Flag implement the flag set modules use to pass side-channel
// signals to one another (e.g. "user_resolved").
func (s *Session) SetFlag(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Flags[name] = true
}

func (s *Session) HasFlag(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Flags[name]
}

// IsTerminal reports whether a virus classification has already closed
// out this run. The pipeline itself stops at the module that returns a
// Virus outcome and does not call IsTerminal.
func (s *Session) IsTerminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Virus != ""
}

// Snapshot is the subset of session state persisted into QueueCache
// between pipeline stages: score, details, flags, envelope.
type Snapshot struct {
	QueueID     string          `json:"queue_id"`
	PrevID      string          `json:"prev_id,omitempty"`
	NextID      string          `json:"next_id,omitempty"`
	OrigFrom    string          `json:"orig_from,omitempty"`
	IsBounce    bool            `json:"is_bounce,omitempty"`
	SpamScore   float64         `json:"spam_score"`
	SpamDetails []string        `json:"spam_details,omitempty"`
	Flags       map[string]bool `json:"flags,omitempty"`
	From        string          `json:"from,omitempty"`
	To          []string        `json:"to,omitempty"`
}

// ToSnapshot captures the cacheable fields of the session.
func (s *Session) ToSnapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	flags := make(map[string]bool, len(s.Flags))
	for k, v := range s.Flags {
		flags[k] = v
	}
	return Snapshot{
		QueueID:     s.QueueID,
		PrevID:      s.PrevID,
		NextID:      s.NextID,
		From:        s.From,
		To:          append([]string(nil), s.To...),
		SpamScore:   s.SpamScore,
		SpamDetails: append([]string(nil), s.SpamDetails...),
		Flags:       flags,
	}
}

// MergeSnapshot inherits score/details/flags/envelope fall-backs from a
// prior snapshot. Fields already set on the session (e.g. From/To from the
// envelope) are not overwritten.
func (s *Session) MergeSnapshot(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SpamScore += snap.SpamScore
	s.SpamDetails = append(s.SpamDetails, snap.SpamDetails...)
	for k, v := range snap.Flags {
		if _, ok := s.Flags[k]; !ok {
			s.Flags[k] = v
		}
	}
	if s.From == "" {
		s.From = snap.From
	}
	if len(s.To) == 0 {
		s.To = snap.To
	}
	if snap.PrevID != "" && s.PrevID == "" {
		s.PrevID = snap.PrevID
	}
}
