package core

import "fmt"

// LoadMode selects how a model group discovers its models.
type LoadMode string

// Load modes.
const (
	// LoadModeDiscover parses the project at definition time.
	LoadModeDiscover LoadMode = "dbt_ls"
	// LoadModeManifest reads target/manifest.json.
	LoadModeManifest LoadMode = "manifest"
)

// ParseLoadMode validates a load mode name. Empty means LoadModeDiscover.
func ParseLoadMode(s string) (LoadMode, error) {
	switch LoadMode(s) {
	case "", LoadModeDiscover:
		return LoadModeDiscover, nil
	case LoadModeManifest:
		return LoadModeManifest, nil
	}
	return "", fmt.Errorf("unknown load mode %q (want %s or %s)", s, LoadModeDiscover, LoadModeManifest)
}

// ProjectConfig points at a transformation project directory.
type ProjectConfig struct {
	Dir string `koanf:"dir" json:"dir"`
}

// ProfileConfig selects a warehouse target from a profiles file.
type ProfileConfig struct {
	ProfileName  string `koanf:"profile" json:"profile"`
	TargetName   string `koanf:"target" json:"target"`
	ProfilesPath string `koanf:"profiles_path" json:"profiles_path"`
}

// RenderConfig controls which models a group expands to.
type RenderConfig struct {
	Select   []string `koanf:"select" json:"select"`
	Exclude  []string `koanf:"exclude" json:"exclude,omitempty"`
	LoadMode LoadMode `koanf:"load_mode" json:"load_mode"`
}

// Gate runtimes.
const (
	RuntimeInProcess  = "inprocess"
	RuntimeSubprocess = "subprocess"
)

// RuntimeConfig describes where a quality scan executes.
type RuntimeConfig struct {
	Type       string   `koanf:"type" json:"type"`
	Executable string   `koanf:"executable" json:"executable,omitempty"`
	Env        []string `koanf:"env" json:"env,omitempty"`
}

// ScanSpec identifies one quality scan.
type ScanSpec struct {
	ScanName      string        `koanf:"scan_name" json:"scan_name"`
	ChecksSubpath string        `koanf:"checks_subpath" json:"checks_subpath"`
	ChecksRoot    string        `koanf:"checks_root" json:"checks_root"`
	Configuration string        `koanf:"configuration" json:"configuration"`
	DataSource    string        `koanf:"data_source" json:"data_source,omitempty"`
	Runtime       RuntimeConfig `koanf:"runtime" json:"runtime"`
}
