// Package clamav implements a virus-scanning FilterModule wrapping
// clamdscan/clamscan via internal/cmdfilter: an argv template plus
// exit-code/output parsing, kept to the narrow CmdFilter contract rather
// than a full plugin interface.
package clamav

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/decency/contentfilter/internal/cmdfilter"
	"github.com/decency/contentfilter/internal/filtermod"
	"github.com/decency/contentfilter/internal/session"
)

var foundRe = regexp.MustCompile(`:\s*(.+?)\s+FOUND`)

// Config configures the external scanner invocation.
type Config struct {
	Path           string
	Argv           []string // defaults to {"--no-summary", "--fdpass", "%file%"}
	TimeoutSeconds int
	MaxSizeBytes   int64
}

func DefaultConfig() Config {
	return Config{
		Path:           "clamdscan",
		Argv:           []string{"--no-summary", "--fdpass", cmdfilter.PlaceholderFile},
		TimeoutSeconds: 30,
		MaxSizeBytes:   50 * 1024 * 1024,
	}
}

// Module is the ClamAV FilterModule.
type Module struct {
	name string
	cfg  Config
	cmd  cmdfilter.Cmd
}

func New(name string, cfg Config) *Module {
	if len(cfg.Argv) == 0 {
		cfg.Argv = DefaultConfig().Argv
	}
	return &Module{
		name: name,
		cfg:  cfg,
		cmd:  cmdfilter.Cmd{Path: cfg.Path, Argv: cfg.Argv},
	}
}

func (m *Module) Name() string { return m.name }

func (m *Module) MaxSizeBytes() int64 { return m.cfg.MaxSizeBytes }

func (m *Module) Timeout() (int, bool) { return m.cfg.TimeoutSeconds, m.cfg.TimeoutSeconds > 0 }

func (m *Module) Handle(ctx context.Context, sess *session.Session) filtermod.Outcome {
	timeout := time.Duration(m.cfg.TimeoutSeconds) * time.Second
	res, err := m.cmd.Run(ctx, timeout, cmdfilter.Vars{File: sess.File})
	if err != nil {
		if res.TimedOut {
			return filtermod.Timeout(err)
		}
		return filtermod.Error(err)
	}

	// clamdscan exit codes: 0 = clean, 1 = virus found, 2 = error.
	switch res.ExitCode {
	case 0:
		return filtermod.OK()
	case 1:
		label := "unknown"
		if m := foundRe.FindSubmatch(res.Output); len(m) > 1 {
			label = string(m[1])
		}
		return filtermod.Virus(label)
	default:
		return filtermod.Error(fmt.Errorf("clamav: scan exited %d: %s", res.ExitCode, res.Output))
	}
}
