// Package bogofilter implements a FilterModule wrapping the bogofilter
// CLI via internal/cmdfilter.Base, exercising the full CmdFilter contract
// (stdin delivery, %user% resolution, training variants) rather than the
// narrow file-argv invocation clamav uses directly.
package bogofilter

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/decency/contentfilter/internal/cmdfilter"
	"github.com/decency/contentfilter/internal/filtermod"
	"github.com/decency/contentfilter/internal/session"
)

// spamicityRe matches bogofilter's X-Bogosity header, e.g.
// "X-Bogosity: Spam, tests=bogofilter, spamicity=0.999821, version=1.2.4".
var spamicityRe = regexp.MustCompile(`(?i)X-Bogosity:\s*(\S+),.*spamicity=([0-9.]+)`)

// Config configures the bogofilter invocation.
type Config struct {
	Path string // defaults to "bogofilter"

	// ScoreArgv defaults to {"-e", "-p", "-T"}: passthrough-print with
	// terse, always-present header output.
	ScoreArgv []string

	LearnSpamArgv   []string // defaults to {"-s"}
	UnlearnSpamArgv []string // defaults to {"-S"}
	LearnHamArgv    []string // defaults to {"-n"}
	UnlearnHamArgv  []string // defaults to {"-N"}

	CmdUser     *cmdfilter.Cmd
	DefaultUser string

	// ScoreWeight scales spamicity (0..1) into a spam_score delta; a high
	// spamicity contributes a negative delta, since more-negative is
	// more-spammy.
	ScoreWeight float64

	TimeoutSeconds int
	MaxSizeBytes   int64
	DisableTrain   bool
}

func DefaultConfig() Config {
	return Config{
		Path:            "bogofilter",
		ScoreArgv:       []string{"-e", "-p", "-T"},
		LearnSpamArgv:   []string{"-s"},
		UnlearnSpamArgv: []string{"-S"},
		LearnHamArgv:    []string{"-n"},
		UnlearnHamArgv:  []string{"-N"},
		ScoreWeight:     25.0,
		TimeoutSeconds:  15,
		MaxSizeBytes:    10 * 1024 * 1024,
	}
}

// Module is the bogofilter FilterModule.
type Module struct {
	name string
	cfg  Config
	base *cmdfilter.Base
}

// New builds a bogofilter Module. users caches %user% resolutions across
// calls; it may be nil (e.g. from the training driver or a dry run).
func New(name string, cfg Config, users cmdfilter.UserCache) *Module {
	if cfg.Path == "" {
		cfg.Path = DefaultConfig().Path
	}
	if len(cfg.ScoreArgv) == 0 {
		cfg.ScoreArgv = DefaultConfig().ScoreArgv
	}

	bcfg := cmdfilter.Config{
		Path:            cfg.Path,
		ScoreArgv:       cfg.ScoreArgv,
		UseStdin:        true,
		CmdUser:         cfg.CmdUser,
		DefaultUser:     cfg.DefaultUser,
		LearnSpamArgv:   cfg.LearnSpamArgv,
		UnlearnSpamArgv: cfg.UnlearnSpamArgv,
		LearnHamArgv:    cfg.LearnHamArgv,
		UnlearnHamArgv:  cfg.UnlearnHamArgv,
		TimeoutSeconds:  cfg.TimeoutSeconds,
	}

	return &Module{
		name: name,
		cfg:  cfg,
		base: cmdfilter.NewBase(bcfg, users, nil),
	}
}

func (m *Module) Name() string { return m.name }

func (m *Module) MaxSizeBytes() int64 { return m.cfg.MaxSizeBytes }

func (m *Module) Timeout() (int, bool) { return m.cfg.TimeoutSeconds, m.cfg.TimeoutSeconds > 0 }

func (m *Module) DisableTrain() bool { return m.cfg.DisableTrain }

func (m *Module) Handle(ctx context.Context, sess *session.Session) filtermod.Outcome {
	delta, info, err := m.base.Score(ctx, sess, m.interpret)
	if err != nil {
		return filtermod.Error(err)
	}
	if delta != 0 {
		detail := ""
		if len(info) > 0 {
			detail = info[0]
		}
		sess.AddScore(delta, detail)
	}
	return filtermod.OK()
}

// interpret is bogofilter's handle_filter_result: it reads the
// classification and spamicity off the X-Bogosity header line and
// converts spamicity into a score delta.
func (m *Module) interpret(headerBlock []byte, exitCode int) (float64, []string) {
	match := spamicityRe.FindSubmatch(headerBlock)
	if match == nil {
		return 0, nil
	}
	spamicity, err := strconv.ParseFloat(string(match[2]), 64)
	if err != nil {
		return 0, nil
	}
	if spamicity <= 0 {
		return 0, nil
	}
	delta := -m.cfg.ScoreWeight * spamicity
	return delta, []string{fmt.Sprintf("%s: spamicity=%.3f", m.name, spamicity)}
}

func (m *Module) TrainSpam(ctx context.Context, sess *session.Session) error {
	return m.base.Learn(ctx, cmdfilter.LearnSpam, sess)
}

func (m *Module) TrainHam(ctx context.Context, sess *session.Session) error {
	return m.base.Learn(ctx, cmdfilter.LearnHam, sess)
}

func (m *Module) UntrainSpam(ctx context.Context, sess *session.Session) error {
	return m.base.Learn(ctx, cmdfilter.UnlearnSpam, sess)
}

func (m *Module) UntrainHam(ctx context.Context, sess *session.Session) error {
	return m.base.Learn(ctx, cmdfilter.UnlearnHam, sess)
}
