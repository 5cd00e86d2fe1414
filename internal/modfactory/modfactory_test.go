package modfactory

import (
	"context"
	"testing"

	"github.com/decency/contentfilter/internal/config"
	"github.com/decency/contentfilter/internal/filtermod"
	"github.com/decency/contentfilter/internal/session"
)

func TestBuildUnknownTypeErrors(t *testing.T) {
	_, err := Build([]config.ModuleConfig{{Name: "mystery", Type: "unknown"}}, nil)
	if err == nil {
		t.Fatal("Build should error on an unrecognized module type")
	}
}

func TestBuildKeywordModuleWiresGuards(t *testing.T) {
	mods, err := Build([]config.ModuleConfig{
		{
			Name:           "kw",
			Type:           "keyword",
			TimeoutSeconds: 5,
			MaxSizeBytes:   1024,
			Disable:        false,
			DisableTrain:   true,
		},
	}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(mods) != 1 {
		t.Fatalf("Build returned %d modules, want 1", len(mods))
	}

	mod := mods[0]
	if mod.Name() != "kw" {
		t.Errorf("Name() = %q, want kw", mod.Name())
	}

	sg, ok := mod.(filtermod.SizeGuarded)
	if !ok {
		t.Fatal("wrapped module should implement SizeGuarded")
	}
	if sg.MaxSizeBytes() != 1024 {
		t.Errorf("MaxSizeBytes() = %d, want 1024", sg.MaxSizeBytes())
	}

	timed, ok := mod.(filtermod.Timed)
	if !ok {
		t.Fatal("wrapped module should implement Timed")
	}
	if secs, enabled := timed.Timeout(); !enabled || secs != 5 {
		t.Errorf("Timeout() = (%d, %v), want (5, true)", secs, enabled)
	}

	disableable, ok := mod.(filtermod.Disableable)
	if !ok {
		t.Fatal("wrapped module should implement Disableable")
	}
	if disableable.Disabled() {
		t.Error("Disabled() = true, want false")
	}

	trainable, ok := mod.(filtermod.Trainable)
	if !ok {
		t.Fatal("wrapped module should implement Trainable (even if it forwards to a no-op)")
	}
	if !trainable.DisableTrain() {
		t.Error("DisableTrain() = false, want true (keyword has no learning state)")
	}
	if err := trainable.TrainSpam(context.Background(), &session.Session{}); err != nil {
		t.Errorf("TrainSpam on a non-trainable inner module should no-op, got %v", err)
	}
}

func TestBuildDisabledModule(t *testing.T) {
	mods, err := Build([]config.ModuleConfig{{Name: "kw", Type: "keyword", Disable: true}}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	disableable := mods[0].(filtermod.Disableable)
	if !disableable.Disabled() {
		t.Error("Disabled() = false, want true")
	}
}

func TestBuildMultipleModulesPreservesOrder(t *testing.T) {
	mods, err := Build([]config.ModuleConfig{
		{Name: "first", Type: "keyword"},
		{Name: "second", Type: "keyword"},
	}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if mods[0].Name() != "first" || mods[1].Name() != "second" {
		t.Errorf("order not preserved: %s, %s", mods[0].Name(), mods[1].Name())
	}
}
