package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// PackagedDirName is the directory an installer places the executable in.
	// When the executable lives there, the install root is its parent.
	PackagedDirName = "resources"

	// ModelCacheDirName is the model cache subdirectory of the install root.
	ModelCacheDirName = "ocr_models"

	// TessdataDirName holds tesseract language data inside the model cache.
	TessdataDirName = "tessdata"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

// Dir represents the install directory layout.
type Dir struct {
	path     string
	cacheDir string
}

// New creates a new Dir rooted at path.
// If path is empty, the root is derived from the running executable.
func New(path string) (*Dir, error) {
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate executable: %w", err)
		}
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		path = InstallDirFor(exe)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve install directory: %w", err)
	}
	return &Dir{path: abs}, nil
}

// InstallDirFor returns the install root for an executable path: the
// executable's directory, or its parent for a packaged "resources" layout.
func InstallDirFor(exe string) string {
	dir := filepath.Dir(exe)
	if filepath.Base(dir) == PackagedDirName {
		return filepath.Dir(dir)
	}
	return dir
}

// WithCacheDir overrides the model cache location. Empty keeps the default.
func (d *Dir) WithCacheDir(path string) *Dir {
	out := *d
	out.cacheDir = path
	return &out
}

// Path returns the install root.
func (d *Dir) Path() string {
	return d.path
}

// ModelCacheDir returns the model cache directory.
func (d *Dir) ModelCacheDir() string {
	if d.cacheDir != "" {
		return d.cacheDir
	}
	return filepath.Join(d.path, ModelCacheDirName)
}

// TessdataDir returns the tesseract language data directory inside the cache.
func (d *Dir) TessdataDir() string {
	return filepath.Join(d.ModelCacheDir(), TessdataDirName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnsureExists creates the model cache directory if it doesn't exist.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(d.ModelCacheDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create model cache directory: %w", err)
	}
	return nil
}

// Exists returns true if the install root exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the install root.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// ExportCacheEnv points the engine's model lookup at the cache's tessdata
// subdirectory through TESSDATA_PREFIX. An already-set TESSDATA_PREFIX is left
// alone. Without a tessdata subdirectory nothing is exported, so the engine
// keeps its system default. Returns the value in effect, "" when unset.
func (d *Dir) ExportCacheEnv() (string, error) {
	if v := os.Getenv("TESSDATA_PREFIX"); v != "" {
		return v, nil
	}
	st, err := os.Stat(d.TessdataDir())
	if err != nil || !st.IsDir() {
		return "", nil
	}
	if err := os.Setenv("TESSDATA_PREFIX", d.TessdataDir()); err != nil {
		return "", fmt.Errorf("failed to export TESSDATA_PREFIX: %w", err)
	}
	return d.TessdataDir(), nil
}
