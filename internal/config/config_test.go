package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultConfigValidatesAgainstRealSpoolDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Spool.Dir = t.TempDir()
	cfg.Modules = []ModuleConfig{{Name: "keyword", Type: "keyword"}}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsMissingSpoolDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Spool.Dir = filepath.Join(t.TempDir(), "does-not-exist")
	cfg.Modules = []ModuleConfig{{Name: "keyword", Type: "keyword"}}

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate should reject a spool dir that does not exist")
	}
}

func TestValidateRejectsEmptyModuleList(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Spool.Dir = t.TempDir()

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate should reject an empty module list")
	}
}

func TestValidateRejectsDuplicateModuleNames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Spool.Dir = t.TempDir()
	cfg.Modules = []ModuleConfig{
		{Name: "keyword", Type: "keyword"},
		{Name: "keyword", Type: "bayes"},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate should reject duplicate module names")
	}
}

func TestValidateRejectsBadSpamBehavior(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Spool.Dir = t.TempDir()
	cfg.Modules = []ModuleConfig{{Name: "keyword", Type: "keyword"}}
	cfg.Disposition.Spam.Behavior = "nonsense"

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate should reject an unrecognized spam behavior")
	}
}

func TestValidateRequiresPublicKeyWhenAcceptScoring(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Spool.Dir = t.TempDir()
	cfg.Modules = []ModuleConfig{{Name: "keyword", Type: "keyword"}}
	cfg.Scoring.AcceptScoring = true

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate should require scoring.public_key_path when accept_scoring is true")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("LoadConfig should fail for a missing file")
	}
}

func TestLoadConfigEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig(\"\"): %v", err)
	}
	if cfg.Disposition.Spam.Threshold != -150 {
		t.Errorf("Threshold = %v, want -150", cfg.Disposition.Spam.Threshold)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	spool := t.TempDir()
	cfg := DefaultConfig()
	cfg.Spool.Dir = spool
	cfg.Modules = []ModuleConfig{{Name: "keyword", Type: "keyword"}}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.Spool.Dir != spool {
		t.Errorf("Spool.Dir = %q, want %q", loaded.Spool.Dir, spool)
	}
	if len(loaded.Modules) != 1 || loaded.Modules[0].Name != "keyword" {
		t.Errorf("Modules = %+v", loaded.Modules)
	}
}
