// Package spamd implements a FilterModule that speaks the spamd wire
// protocol directly instead of shelling out to spamc, using
// github.com/baruwa-enterprise/spamd-client. Grounded on maddy's
// internal/check/spamassassin/spamassassin.go CheckBody: build a client
// per network/address, set the per-recipient spamd user, stream the
// message (headers + body) to Check, and read back score/IsSpam.
package spamd

import (
	"context"
	"fmt"
	"os"
	"time"

	spamc "github.com/baruwa-enterprise/spamd-client/pkg"

	"github.com/decency/contentfilter/internal/filtermod"
	"github.com/decency/contentfilter/internal/session"
)

// Config configures the spamd connection.
type Config struct {
	Network     string // "tcp" or "unix"
	Address     string
	User        string // spamd AUTH user; empty uses the envelope recipient when there is exactly one, else the client default
	Compress    bool
	ConnTimeout time.Duration
	CmdTimeout  time.Duration

	ScoreWeight float64
}

func DefaultConfig() Config {
	return Config{
		Network:     "tcp",
		Address:     "127.0.0.1:783",
		ConnTimeout: 5 * time.Second,
		CmdTimeout:  30 * time.Second,
		ScoreWeight: 1.0,
	}
}

// Module is the spamd-backed FilterModule.
type Module struct {
	name string
	cfg  Config
}

func New(name string, cfg Config) *Module {
	return &Module{name: name, cfg: cfg}
}

func (m *Module) Name() string { return m.name }

func (m *Module) Timeout() (int, bool) {
	return int(m.cfg.CmdTimeout / time.Second), true
}

func (m *Module) Handle(ctx context.Context, sess *session.Session) filtermod.Outcome {
	client, err := spamc.NewClient(m.cfg.Network, m.cfg.Address, m.cfg.User, m.cfg.Compress)
	if err != nil {
		return filtermod.Error(fmt.Errorf("spamd: connect: %w", err))
	}
	client.SetConnTimeout(m.cfg.ConnTimeout)
	client.SetCmdTimeout(m.cfg.CmdTimeout)

	if user := spamdUser(m.cfg.User, sess); user != "" {
		client.SetUser(user)
	}

	f, err := os.Open(sess.File)
	if err != nil {
		return filtermod.Error(fmt.Errorf("spamd: open %s: %w", sess.File, err))
	}
	defer f.Close()

	resp, err := client.Check(ctx, f)
	if err != nil {
		return filtermod.Error(fmt.Errorf("spamd: check: %w", err))
	}

	if resp.IsSpam {
		// spamd's score is positive-means-spammier; negate it into the
		// session accumulator, where more-negative means more-spammy.
		sess.AddScore(-m.cfg.ScoreWeight*resp.Score, fmt.Sprintf("%s: score=%.1f", m.name, resp.Score))
	}
	return filtermod.OK()
}

func spamdUser(configured string, sess *session.Session) string {
	if configured != "" {
		return configured
	}
	if len(sess.To) == 1 {
		return sess.To[0]
	}
	return ""
}
