// Package installsource records which package source and version a node
// was installed from, so later runs install from the same source.
package installsource

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

const (
	// SourceOfficial indicates packages from the upstream MongoDB repository
	SourceOfficial = "official"
	// SourceDistro indicates packages from the distribution repository
	SourceDistro = "distro"

	// DefaultConfigDir is the default mongorole state directory
	DefaultConfigDir = "/var/lib/mongorole"
	// SourceFileName is the name of the installation source file
	SourceFileName = "install-source.json"
)

// InstallSource records how the server package was installed
type InstallSource struct {
	// Source is the package source ("official" or "distro")
	Source string `json:"source"`
	// Package is the installed package name
	Package string `json:"package"`
	// Manager is the package manager that installed it
	Manager string `json:"manager"`
	// Version is the installed version
	Version string `json:"version"`
	// InstalledAt is when the package was installed
	InstalledAt time.Time `json:"installed_at"`
}

// Load reads the installation source from the config directory.
// Returns nil and an error if the file doesn't exist or can't be read.
func Load(configDir string) (*InstallSource, error) {
	data, err := os.ReadFile(GetSourceFilePath(configDir))
	if err != nil {
		return nil, err
	}

	var source InstallSource
	if err := json.Unmarshal(data, &source); err != nil {
		return nil, err
	}
	return &source, nil
}

// Save writes the installation source to the config directory.
func Save(configDir string, source *InstallSource) error {
	path := GetSourceFilePath(configDir)

	// Ensure config directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(source, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// New creates an InstallSource stamped with the current time
func New(source, pkg, manager, version string) *InstallSource {
	return &InstallSource{
		Source:      source,
		Package:     pkg,
		Manager:     manager,
		Version:     version,
		InstalledAt: time.Now(),
	}
}

// Matches reports whether the record describes the given package and
// source.
func (s *InstallSource) Matches(source, pkg string) bool {
	return s.Source == source && s.Package == pkg
}

// GetSourceFilePath returns the full path to the install-source.json file
func GetSourceFilePath(configDir string) string {
	if configDir == "" {
		configDir = DefaultConfigDir
	}
	return filepath.Join(configDir, SourceFileName)
}

// Exists checks if the install-source.json file exists
func Exists(configDir string) bool {
	_, err := os.Stat(GetSourceFilePath(configDir))
	return err == nil
}
