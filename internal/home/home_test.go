package home

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("with explicit path", func(t *testing.T) {
		dir, err := New("/tmp/test-screenocr")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dir.Path() != "/tmp/test-screenocr" {
			t.Errorf("expected path /tmp/test-screenocr, got %s", dir.Path())
		}
	})

	t.Run("with empty path uses the executable", func(t *testing.T) {
		dir, err := New("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		exe, _ := os.Executable()
		if exe, err = filepath.EvalSymlinks(exe); err != nil {
			t.Fatal(err)
		}
		if dir.Path() != InstallDirFor(exe) {
			t.Errorf("expected path %s, got %s", InstallDirFor(exe), dir.Path())
		}
	})
}

func TestInstallDirFor(t *testing.T) {
	tests := []struct {
		exe  string
		want string
	}{
		{"/opt/screenocr/screenocr", "/opt/screenocr"},
		{"/opt/ScreenOCR/resources/screenocr", "/opt/ScreenOCR"},
		{"/home/u/resources-backup/screenocr", "/home/u/resources-backup"},
	}
	for _, tt := range tests {
		if got := InstallDirFor(tt.exe); got != tt.want {
			t.Errorf("InstallDirFor(%q) = %q, want %q", tt.exe, got, tt.want)
		}
	}
}

func TestDir_Paths(t *testing.T) {
	dir, _ := New("/tmp/test-screenocr")

	t.Run("ModelCacheDir", func(t *testing.T) {
		expected := "/tmp/test-screenocr/ocr_models"
		if dir.ModelCacheDir() != expected {
			t.Errorf("expected %s, got %s", expected, dir.ModelCacheDir())
		}
	})

	t.Run("TessdataDir", func(t *testing.T) {
		expected := "/tmp/test-screenocr/ocr_models/tessdata"
		if dir.TessdataDir() != expected {
			t.Errorf("expected %s, got %s", expected, dir.TessdataDir())
		}
	})

	t.Run("ConfigPath", func(t *testing.T) {
		expected := "/tmp/test-screenocr/config.yaml"
		if dir.ConfigPath() != expected {
			t.Errorf("expected %s, got %s", expected, dir.ConfigPath())
		}
	})

	t.Run("WithCacheDir", func(t *testing.T) {
		custom := dir.WithCacheDir("/var/cache/ocr")
		if custom.ModelCacheDir() != "/var/cache/ocr" {
			t.Errorf("got %s", custom.ModelCacheDir())
		}
		if dir.ModelCacheDir() != "/tmp/test-screenocr/ocr_models" {
			t.Error("WithCacheDir modified the original")
		}
		if dir.WithCacheDir("").ModelCacheDir() != dir.ModelCacheDir() {
			t.Error("empty override changed the cache dir")
		}
	})
}

func TestDir_EnsureExists(t *testing.T) {
	dir, err := New(filepath.Join(t.TempDir(), "install"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if dir.Exists() {
		t.Error("directory should not exist before EnsureExists")
	}
	if err := dir.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists failed: %v", err)
	}
	if !dir.Exists() {
		t.Error("directory should exist after EnsureExists")
	}
	if _, err := os.Stat(dir.ModelCacheDir()); os.IsNotExist(err) {
		t.Error("model cache directory should exist after EnsureExists")
	}
}

func TestDir_ConfigExists(t *testing.T) {
	dir, _ := New(t.TempDir())

	if dir.ConfigExists() {
		t.Error("config should not exist initially")
	}
	if err := os.WriteFile(dir.ConfigPath(), []byte("log:\n  level: info\n"), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}
	if !dir.ConfigExists() {
		t.Error("config should exist after creation")
	}
}

func TestDir_ExportCacheEnv(t *testing.T) {
	t.Run("no tessdata leaves env unset", func(t *testing.T) {
		unsetEnv(t, "TESSDATA_PREFIX")
		dir, _ := New(t.TempDir())
		if err := dir.EnsureExists(); err != nil {
			t.Fatal(err)
		}
		got, err := dir.ExportCacheEnv()
		if err != nil {
			t.Fatal(err)
		}
		if got != "" {
			t.Errorf("exported %q, want nothing", got)
		}
		if v, ok := os.LookupEnv("TESSDATA_PREFIX"); ok {
			t.Errorf("TESSDATA_PREFIX set to %q", v)
		}
	})

	t.Run("tessdata subdirectory", func(t *testing.T) {
		t.Setenv("TESSDATA_PREFIX", "")
		dir, _ := New(t.TempDir())
		if err := os.MkdirAll(dir.TessdataDir(), 0o755); err != nil {
			t.Fatal(err)
		}
		got, err := dir.ExportCacheEnv()
		if err != nil {
			t.Fatal(err)
		}
		if got != dir.TessdataDir() {
			t.Errorf("exported %q, want %q", got, dir.TessdataDir())
		}
	})

	t.Run("existing value kept", func(t *testing.T) {
		t.Setenv("TESSDATA_PREFIX", "/usr/share/tessdata")
		dir, _ := New(t.TempDir())
		got, _ := dir.ExportCacheEnv()
		if got != "/usr/share/tessdata" {
			t.Errorf("got %q", got)
		}
	})
}

// unsetEnv removes key for the duration of the test and restores it after.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	if err := os.Unsetenv(key); err != nil {
		t.Fatal(err)
	}
}
