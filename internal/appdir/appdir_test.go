package appdir

import (
	"os"
	"path/filepath"
	"testing"
)

func setDataDir(t *testing.T, dir string) {
	t.Helper()
	t.Setenv(DataDirEnv, dir)
	ResetCache()
	t.Cleanup(ResetCache)
}

func TestDirEnvOverride(t *testing.T) {
	want := t.TempDir()
	setDataDir(t, want)

	got, err := Dir()
	if err != nil {
		t.Fatalf("Dir: %v", err)
	}
	if got != want {
		t.Errorf("Dir() = %q, want %q", got, want)
	}
}

func TestDirCachesResolution(t *testing.T) {
	first := t.TempDir()
	setDataDir(t, first)

	got1, err := Dir()
	if err != nil {
		t.Fatalf("Dir: %v", err)
	}

	// Changing the env after the first resolution has no effect until the
	// cache is reset.
	t.Setenv(DataDirEnv, t.TempDir())
	got2, err := Dir()
	if err != nil {
		t.Fatalf("Dir: %v", err)
	}
	if got1 != got2 {
		t.Errorf("cached Dir() changed: %q then %q", got1, got2)
	}
}

func TestEnsureDirCreatesSubdirectories(t *testing.T) {
	base := filepath.Join(t.TempDir(), "data")
	setDataDir(t, base)

	if err := EnsureDir(); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}

	for _, sub := range []string{ConversationsDirName, ReportsDirName} {
		info, err := os.Stat(filepath.Join(base, sub))
		if err != nil {
			t.Errorf("stat %s: %v", sub, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", sub)
		}
	}
}

func TestPathHelpers(t *testing.T) {
	base := t.TempDir()
	setDataDir(t, base)

	settings, err := SettingsPath()
	if err != nil {
		t.Fatalf("SettingsPath: %v", err)
	}
	if settings != filepath.Join(base, SettingsFileName) {
		t.Errorf("SettingsPath() = %q", settings)
	}

	convs, err := ConversationsDir()
	if err != nil {
		t.Fatalf("ConversationsDir: %v", err)
	}
	if convs != filepath.Join(base, ConversationsDirName) {
		t.Errorf("ConversationsDir() = %q", convs)
	}

	reports, err := ReportsDir()
	if err != nil {
		t.Fatalf("ReportsDir: %v", err)
	}
	if reports != filepath.Join(base, ReportsDirName) {
		t.Errorf("ReportsDir() = %q", reports)
	}
}
