// Package luarule wraps internal/luaengine as a FilterModule, calling a
// configured script function with the message's envelope and subject and
// folding a returned "score" field into the session's running score.
package luarule

import (
	"context"
	"fmt"
	"time"

	"github.com/decency/contentfilter/internal/filtermod"
	"github.com/decency/contentfilter/internal/luaengine"
	"github.com/decency/contentfilter/internal/session"
)

// Config configures the Lua scoring module.
type Config struct {
	ScriptPath     string
	Function       string // defaults to "score_message"
	PoolSize       int
	TimeoutSeconds int
}

// Module is the Lua-scripted scoring FilterModule.
type Module struct {
	name   string
	cfg    Config
	engine *luaengine.Engine
}

func New(name string, cfg Config) (*Module, error) {
	if cfg.Function == "" {
		cfg.Function = "score_message"
	}
	engine, err := luaengine.New(cfg.ScriptPath, cfg.PoolSize)
	if err != nil {
		return nil, err
	}
	return &Module{name: name, cfg: cfg, engine: engine}, nil
}

func (m *Module) Name() string { return m.name }

func (m *Module) Timeout() (int, bool) {
	return m.cfg.TimeoutSeconds, m.cfg.TimeoutSeconds > 0
}

func (m *Module) Handle(ctx context.Context, sess *session.Session) filtermod.Outcome {
	fields := map[string]string{
		"from":    sess.From,
		"subject": sess.MIME.HeaderField("Subject"),
	}
	if len(sess.To) > 0 {
		fields["to"] = sess.To[0]
	}

	timeout := time.Duration(m.cfg.TimeoutSeconds) * time.Second
	result, err := m.engine.Call(ctx, m.cfg.Function, timeout, fields)
	if err != nil {
		return filtermod.Error(err)
	}

	score, _ := result["score"].(float64)
	if score == 0 {
		return filtermod.OK()
	}

	detail := m.name
	if reason, ok := result["reason"].(string); ok && reason != "" {
		detail = fmt.Sprintf("%s: %s", m.name, reason)
	}
	sess.AddScore(score, detail)
	return filtermod.OK()
}

func (m *Module) Close() { m.engine.Close() }
