// Package cmdfilter wraps an argv-level external command invocation, the
// base every CmdFilter module (virus scanners, command-line spam checkers)
// builds on: exec.CommandContext for an automatic-kill timeout, a scratch
// file capturing stdout+stderr together, and treating a non-zero exit code
// as meaningful rather than automatically an error. Argv placeholders are
// substituted at the []string level, never through a shell, so a
// sender-controlled filename or address can never be interpreted by a
// shell.
//
// Base layers the %user% resolution ladder, %file%-vs-stdin delivery, and
// the training-command variants on top of Cmd, for modules that need the
// full external-scanner contract rather than a single-shot invocation like
// clamav's.
package cmdfilter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/decency/contentfilter/internal/session"
)

// Placeholders substitutable in a configured argv.
const (
	PlaceholderFile = "%file%"
	PlaceholderUser = "%user%"
	PlaceholderFrom = "%from%"
)

// Vars holds the per-invocation substitution values. Stdin, if non-nil, is
// piped to the child process instead of a %file% argv placeholder.
type Vars struct {
	File  string
	User  string
	From  string
	Stdin io.Reader
}

// Result is the full external-process outcome: its exit code and merged
// output, for the calling module to interpret.
type Result struct {
	ExitCode int
	Output   []byte
	Elapsed  time.Duration
	TimedOut bool
}

// Cmd is a configured external command template.
type Cmd struct {
	Path string
	Argv []string
	// SeparateStreams keeps stdout and stderr apart instead of merging
	// them. Defaults to false (merged), matching most CmdFilter scanners'
	// expectations.
	SeparateStreams bool
}

// Run substitutes vars into Argv and executes the command under a
// deadline. A non-zero exit code is not itself an error: virus scanners
// and spamc routinely exit non-zero to signal a detection. Only a failure
// to start the process, or a timeout, is returned as an error.
//
// Stdout (and, unless SeparateStreams, stderr too) is captured through a
// scratch file rather than an in-memory buffer, since some scanners write
// more than is reasonable to hold in a []byte on a busy host.
func (c Cmd) Run(ctx context.Context, timeout time.Duration, vars Vars) (Result, error) {
	args := make([]string, len(c.Argv))
	for i, a := range c.Argv {
		args[i] = substitute(a, vars)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.Path, args...)
	if vars.Stdin != nil {
		cmd.Stdin = vars.Stdin
	}

	scratch, err := os.CreateTemp("", "cmdfilter-*.out")
	if err != nil {
		return Result{}, fmt.Errorf("cmdfilter: create scratch file: %w", err)
	}
	defer os.Remove(scratch.Name())
	defer scratch.Close()

	cmd.Stdout = scratch
	var stderr bytes.Buffer
	if c.SeparateStreams {
		cmd.Stderr = &stderr
	} else {
		cmd.Stderr = scratch
	}

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	out, readErr := os.ReadFile(scratch.Name())
	if readErr != nil {
		return Result{Elapsed: elapsed}, fmt.Errorf("cmdfilter: read scratch file: %w", readErr)
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return Result{Output: out, Elapsed: elapsed, TimedOut: true}, fmt.Errorf("cmdfilter: %s timed out after %s", c.Path, timeout)
	}

	exitCode := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if runErr != nil {
		return Result{Output: out, Elapsed: elapsed}, fmt.Errorf("cmdfilter: exec %s: %w", c.Path, runErr)
	}

	return Result{ExitCode: exitCode, Output: out, Elapsed: elapsed}, nil
}

// RunWithInput is Run with input piped to the child's stdin, used for
// cmd_user resolver programs and stdin-fed scanners.
func (c Cmd) RunWithInput(ctx context.Context, timeout time.Duration, input string, vars Vars) (Result, error) {
	vars.Stdin = strings.NewReader(input)
	return c.Run(ctx, timeout, vars)
}

func substitute(arg string, vars Vars) string {
	r := strings.NewReplacer(
		PlaceholderFile, vars.File,
		PlaceholderUser, vars.User,
		PlaceholderFrom, vars.From,
	)
	return r.Replace(arg)
}

// FilterResultFunc is a subclass's handle_filter_result hook: given the
// header block (content up to the first blank line) of the captured
// output and the process exit code, it returns the spam_score delta and
// any human-readable info lines to fold into spam_details.
type FilterResultFunc func(headerBlock []byte, exitCode int) (delta float64, info []string)

// UserCache is the narrow per-recipient cache Base needs for %user%
// resolution; *cache.QueueCache satisfies it via SaveUser/LoadUser.
type UserCache interface {
	LoadUser(recipient string) (string, error)
	SaveUser(recipient, user string) error
}

// LearnKind selects which training command variant to invoke.
type LearnKind int

const (
	LearnSpam LearnKind = iota
	UnlearnSpam
	LearnHam
	UnlearnHam
)

// Config is the external-command configuration a CmdFilter module is built
// from.
type Config struct {
	Path      string
	ScoreArgv []string
	// UseStdin pipes the MIME file to the process's stdin instead of
	// substituting %file% in ScoreArgv.
	UseStdin bool

	// CmdUser, if set, is run with the envelope recipient on stdin to
	// resolve %user%; its trimmed stdout is the resolved user.
	CmdUser     *Cmd
	DefaultUser string

	LearnSpamArgv   []string
	UnlearnSpamArgv []string
	LearnHamArgv    []string
	UnlearnHamArgv  []string

	TimeoutSeconds int
}

// Base implements the shared CmdFilter contract: %user% resolution,
// %file%/stdin delivery, header-block extraction, and the four training
// variants. A concrete module wraps Base and supplies the
// FilterResultFunc that understands its own scanner's output format.
type Base struct {
	cfg             Config
	cmd             Cmd
	users           UserCache
	getUserFallback func(recipient string) (string, bool)
}

// NewBase builds a Base from cfg. users may be nil (no caching of %user%
// resolutions, e.g. in the training driver or a dry run). getUserFallback
// may be nil; when set, it is consulted after cmd_user and before
// default_user, mirroring a module-declared get_user_fallback.
func NewBase(cfg Config, users UserCache, getUserFallback func(recipient string) (string, bool)) *Base {
	return &Base{
		cfg:             cfg,
		cmd:             Cmd{Path: cfg.Path, Argv: cfg.ScoreArgv},
		users:           users,
		getUserFallback: getUserFallback,
	}
}

func (b *Base) timeout() time.Duration {
	if b.cfg.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(b.cfg.TimeoutSeconds) * time.Second
}

// ResolveUser runs the %user% resolution ladder: cmd_user program (fed the
// recipient on stdin) -> get_user_fallback -> configured default_user ->
// envelope recipient, caching the result per-recipient in UserCache.
func (b *Base) ResolveUser(ctx context.Context, sess *session.Session) (string, error) {
	recipient := primaryRecipient(sess)
	if recipient == "" {
		return "", nil
	}

	if b.users != nil {
		if cached, err := b.users.LoadUser(recipient); err == nil && cached != "" {
			return cached, nil
		}
	}

	user, err := b.resolveUncached(ctx, recipient)
	if err != nil {
		return "", err
	}

	if b.users != nil {
		_ = b.users.SaveUser(recipient, user)
	}
	return user, nil
}

func (b *Base) resolveUncached(ctx context.Context, recipient string) (string, error) {
	if b.cfg.CmdUser != nil {
		res, err := b.cfg.CmdUser.RunWithInput(ctx, b.timeout(), recipient+"\n", Vars{})
		if err == nil {
			if user := strings.TrimSpace(string(res.Output)); user != "" {
				return user, nil
			}
		}
	}
	if b.getUserFallback != nil {
		if user, ok := b.getUserFallback(recipient); ok {
			return user, nil
		}
	}
	if b.cfg.DefaultUser != "" {
		return b.cfg.DefaultUser, nil
	}
	return recipient, nil
}

// vars builds the Vars for a scoring or training invocation: %file% mode
// sets Vars.File, stdin mode opens sess.File and returns it as the
// io.Closer the caller must close.
func (b *Base) vars(sess *session.Session, user string) (Vars, io.Closer, error) {
	v := Vars{User: user, From: sess.From}
	if !b.cfg.UseStdin {
		v.File = sess.File
		return v, nil, nil
	}
	f, err := os.Open(sess.File)
	if err != nil {
		return Vars{}, nil, fmt.Errorf("cmdfilter: open %s: %w", sess.File, err)
	}
	v.Stdin = f
	return v, f, nil
}

// headerBlock returns the prefix of output up to (not including) the first
// blank-line separator, or the whole output if none is found.
func headerBlock(output []byte) []byte {
	if i := bytes.Index(output, []byte("\r\n\r\n")); i >= 0 {
		return output[:i]
	}
	if i := bytes.Index(output, []byte("\n\n")); i >= 0 {
		return output[:i]
	}
	return output
}

// Score resolves %user%, runs the configured ScoreArgv against sess, and
// hands the header block of its captured output to interpret. Missing or
// empty output signals a configuration error upstream and yields no score
// change.
func (b *Base) Score(ctx context.Context, sess *session.Session, interpret FilterResultFunc) (float64, []string, error) {
	user, err := b.ResolveUser(ctx, sess)
	if err != nil {
		return 0, nil, err
	}

	v, closer, err := b.vars(sess, user)
	if err != nil {
		return 0, nil, err
	}
	if closer != nil {
		defer closer.Close()
	}

	res, err := b.cmd.Run(ctx, b.timeout(), v)
	if err != nil {
		return 0, nil, err
	}

	hdr := headerBlock(res.Output)
	if len(hdr) == 0 {
		return 0, nil, nil
	}

	delta, info := interpret(hdr, res.ExitCode)
	return delta, info, nil
}

// Learn resolves %user% and invokes the training command variant
// configured for kind, feeding sess the same way Score would.
func (b *Base) Learn(ctx context.Context, kind LearnKind, sess *session.Session) error {
	argv, name := b.learnArgv(kind)
	if len(argv) == 0 {
		return fmt.Errorf("cmdfilter: no %s command configured", name)
	}

	user, err := b.ResolveUser(ctx, sess)
	if err != nil {
		return err
	}

	v, closer, err := b.vars(sess, user)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	cmd := Cmd{Path: b.cfg.Path, Argv: argv}
	_, err = cmd.Run(ctx, b.timeout(), v)
	return err
}

func (b *Base) learnArgv(kind LearnKind) ([]string, string) {
	switch kind {
	case LearnSpam:
		return b.cfg.LearnSpamArgv, "cmd_learn_spam"
	case UnlearnSpam:
		return b.cfg.UnlearnSpamArgv, "cmd_unlearn_spam"
	case LearnHam:
		return b.cfg.LearnHamArgv, "cmd_learn_ham"
	case UnlearnHam:
		return b.cfg.UnlearnHamArgv, "cmd_unlearn_ham"
	default:
		return nil, "unknown"
	}
}

func primaryRecipient(sess *session.Session) string {
	if len(sess.To) > 0 {
		return sess.To[0]
	}
	return sess.From
}
