// Package modfactory builds the ordered filtermod.Module chain the
// PipelineEngine runs from a []config.ModuleConfig. Each entry's Type
// selects a constructor from internal/modules/*; module-specific fields
// travel through the config's open Settings map, which each constructor
// decodes into its own concrete options.
package modfactory

import (
	"context"
	"fmt"

	"github.com/decency/contentfilter/internal/cmdfilter"
	"github.com/decency/contentfilter/internal/config"
	"github.com/decency/contentfilter/internal/filtermod"
	"github.com/decency/contentfilter/internal/modules/bayes"
	"github.com/decency/contentfilter/internal/modules/bogofilter"
	"github.com/decency/contentfilter/internal/modules/clamav"
	"github.com/decency/contentfilter/internal/modules/keyword"
	"github.com/decency/contentfilter/internal/modules/luarule"
	"github.com/decency/contentfilter/internal/modules/spamd"
	"github.com/decency/contentfilter/internal/session"
)

// Build constructs one filtermod.Module per entry in cfgs, in order,
// wrapping each in the config-driven guards (disable/max_size/timeout) the
// pipeline's capability interfaces expect. users backs any CmdFilter
// module's %user% resolution cache; it may be nil.
func Build(cfgs []config.ModuleConfig, users cmdfilter.UserCache) ([]filtermod.Module, error) {
	mods := make([]filtermod.Module, 0, len(cfgs))
	for _, c := range cfgs {
		inner, err := build(c, users)
		if err != nil {
			return nil, fmt.Errorf("modfactory: module %q: %w", c.Name, err)
		}
		mods = append(mods, newWrap(inner, c))
	}
	return mods, nil
}

func build(c config.ModuleConfig, users cmdfilter.UserCache) (filtermod.Module, error) {
	switch c.Type {
	case "keyword":
		lists := keyword.DefaultLists()
		weights := keyword.DefaultWeights()
		if c.WeightSpam != 0 {
			weights.HighRisk = c.WeightSpam
		}
		return keyword.New(c.Name, lists, weights), nil

	case "bayes":
		bcfg := bayes.DefaultConfig()
		bcfg.DisableTrain = c.DisableTrain
		if url, ok := c.Settings["redis_url"].(string); ok && url != "" {
			bcfg.RedisURL = url
		}
		if weight := c.WeightSpam; weight != 0 {
			bcfg.ScoreWeight = weight
		}
		return bayes.New(c.Name, bcfg)

	case "clamav":
		ccfg := clamav.DefaultConfig()
		if path, ok := c.Settings["path"].(string); ok && path != "" {
			ccfg.Path = path
		}
		if c.TimeoutSeconds > 0 {
			ccfg.TimeoutSeconds = c.TimeoutSeconds
		}
		if c.MaxSizeBytes > 0 {
			ccfg.MaxSizeBytes = c.MaxSizeBytes
		}
		return clamav.New(c.Name, ccfg), nil

	case "bogofilter":
		gcfg := bogofilter.DefaultConfig()
		gcfg.DisableTrain = c.DisableTrain
		if path, ok := c.Settings["path"].(string); ok && path != "" {
			gcfg.Path = path
		}
		if user, ok := c.Settings["default_user"].(string); ok {
			gcfg.DefaultUser = user
		}
		if c.WeightSpam != 0 {
			gcfg.ScoreWeight = c.WeightSpam
		}
		if c.TimeoutSeconds > 0 {
			gcfg.TimeoutSeconds = c.TimeoutSeconds
		}
		if c.MaxSizeBytes > 0 {
			gcfg.MaxSizeBytes = c.MaxSizeBytes
		}
		return bogofilter.New(c.Name, gcfg, users), nil

	case "spamd":
		scfg := spamd.DefaultConfig()
		if addr, ok := c.Settings["address"].(string); ok && addr != "" {
			scfg.Address = addr
		}
		if user, ok := c.Settings["user"].(string); ok {
			scfg.User = user
		}
		if c.WeightSpam != 0 {
			scfg.ScoreWeight = c.WeightSpam
		}
		return spamd.New(c.Name, scfg), nil

	case "lua":
		lcfg := luarule.Config{PoolSize: 4, TimeoutSeconds: c.TimeoutSeconds}
		if path, ok := c.Settings["script_path"].(string); ok {
			lcfg.ScriptPath = path
		}
		if fn, ok := c.Settings["function"].(string); ok {
			lcfg.Function = fn
		}
		return luarule.New(c.Name, lcfg)

	default:
		return nil, fmt.Errorf("unknown module type %q", c.Type)
	}
}

// wrap layers the config-level disable/size/timeout/train-disable switches
// over inner, which otherwise only exposes whatever guards it hardcodes
// itself. Capabilities inner doesn't implement (Trainable, SizeGuarded,
// Timed) are forwarded as opt-outs so the pipeline's and training driver's
// type assertions keep working whether or not the underlying module cares
// about a given capability.
type wrap struct {
	inner filtermod.Module
	cfg   config.ModuleConfig
}

func newWrap(inner filtermod.Module, cfg config.ModuleConfig) *wrap {
	return &wrap{inner: inner, cfg: cfg}
}

func (w *wrap) Name() string { return w.inner.Name() }

func (w *wrap) Handle(ctx context.Context, sess *session.Session) filtermod.Outcome {
	return w.inner.Handle(ctx, sess)
}

func (w *wrap) Disabled() bool { return w.cfg.Disable }

func (w *wrap) MaxSizeBytes() int64 {
	if w.cfg.MaxSizeBytes > 0 {
		return w.cfg.MaxSizeBytes
	}
	if sg, ok := w.inner.(filtermod.SizeGuarded); ok {
		return sg.MaxSizeBytes()
	}
	return 0
}

func (w *wrap) Timeout() (int, bool) {
	if w.cfg.TimeoutSeconds > 0 {
		return w.cfg.TimeoutSeconds, true
	}
	if t, ok := w.inner.(filtermod.Timed); ok {
		return t.Timeout()
	}
	return 0, false
}

// DisableTrain reports true (opting the module out of training) whenever
// the config says so, or when inner never implemented Trainable to begin
// with — letting the training driver's blanket `mod.(filtermod.Trainable)`
// assertion succeed for every wrapped module without misrepresenting
// modules that have no learning state.
func (w *wrap) DisableTrain() bool {
	if w.cfg.DisableTrain {
		return true
	}
	t, ok := w.inner.(filtermod.Trainable)
	return !ok || t.DisableTrain()
}

func (w *wrap) TrainSpam(ctx context.Context, sess *session.Session) error {
	if t, ok := w.inner.(filtermod.Trainable); ok {
		return t.TrainSpam(ctx, sess)
	}
	return nil
}

func (w *wrap) TrainHam(ctx context.Context, sess *session.Session) error {
	if t, ok := w.inner.(filtermod.Trainable); ok {
		return t.TrainHam(ctx, sess)
	}
	return nil
}

func (w *wrap) UntrainSpam(ctx context.Context, sess *session.Session) error {
	if t, ok := w.inner.(filtermod.Trainable); ok {
		return t.UntrainSpam(ctx, sess)
	}
	return nil
}

func (w *wrap) UntrainHam(ctx context.Context, sess *session.Session) error {
	if t, ok := w.inner.(filtermod.Trainable); ok {
		return t.UntrainHam(ctx, sess)
	}
	return nil
}
