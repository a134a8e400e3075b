package cli

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// HomeEnv overrides the application directory.
	HomeEnv = "PHONECALL_HOME"

	// DefaultConfigFile is the default configuration filename
	DefaultConfigFile = "config.yaml"
)

// Paths provides access to the application directory structure:
//
//	phonecall/
//	├── config.yaml
//	├── personas/
//	├── data/        # call records and knowledge
//	└── archive/     # call transcripts
type Paths struct {
	// AppDir is the application directory.
	AppDir string
}

// NewPaths returns the Paths for appName under os.UserConfigDir(), or under
// $PHONECALL_HOME when it is set.
func NewPaths(appName string) (*Paths, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return &Paths{AppDir: dir}, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine config directory: %w", err)
	}
	return &Paths{AppDir: filepath.Join(base, appName)}, nil
}

// ConfigFile returns the config file path (<app>/config.yaml)
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.AppDir, DefaultConfigFile)
}

// PersonasDir returns the persona directory (<app>/personas)
func (p *Paths) PersonasDir() string {
	return filepath.Join(p.AppDir, "personas")
}

// DataDir returns the data directory (<app>/data)
func (p *Paths) DataDir() string {
	return filepath.Join(p.AppDir, "data")
}

// ArchiveDir returns the transcript archive directory (<app>/archive)
func (p *Paths) ArchiveDir() string {
	return filepath.Join(p.AppDir, "archive")
}

// EnsureDir creates dir if it doesn't exist
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}
