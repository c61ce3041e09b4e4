// Package project loads a transformation project: its project file, the
// warehouse profile, and the SQL models with their dependency graph.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// File names accepted for the project file, in lookup order.
var projectFileNames = []string{"project.yml", "project.yaml", "dbt_project.yml"}

// DefaultModelPath is used when the project file lists no model paths.
const DefaultModelPath = "models"

// Project is a parsed project file.
type Project struct {
	Name       string                   `yaml:"name"`
	Profile    string                   `yaml:"profile"`
	ModelPaths []string                 `yaml:"model-paths"`
	Vars       map[string]any           `yaml:"vars"`
	Models     map[string]ModelDefaults `yaml:"models"`

	// Dir is the absolute project directory.
	Dir string `yaml:"-"`
	// File is the absolute path of the project file.
	File string `yaml:"-"`
}

// ModelDefaults apply to every model under a directory (relative to the
// project, e.g. "models/report"). The longest matching directory wins.
type ModelDefaults struct {
	Materialized string   `yaml:"materialized"`
	Schema       string   `yaml:"schema"`
	Tags         []string `yaml:"tags"`
}

// ErrNoProjectFile is returned when dir holds no project file.
var ErrNoProjectFile = errors.New("no project file found")

// FindFile returns the project file inside dir.
func FindFile(dir string) (string, error) {
	for _, name := range projectFileNames {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w in %s (looked for %s)", ErrNoProjectFile, dir, strings.Join(projectFileNames, ", "))
}

// Load reads the project file in dir.
func Load(dir string) (*Project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve project dir: %w", err)
	}
	file, err := FindFile(abs)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read project file: %w", err)
	}

	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("%s: name is required", file)
	}
	if len(p.ModelPaths) == 0 {
		p.ModelPaths = []string{DefaultModelPath}
	}
	for _, mp := range p.ModelPaths {
		if filepath.IsAbs(mp) || strings.HasPrefix(filepath.Clean(mp), "..") {
			return nil, fmt.Errorf("%s: model path %q must stay inside the project", file, mp)
		}
	}
	p.Dir = abs
	p.File = file
	return &p, nil
}

// defaultsFor merges ModelDefaults whose directory contains relPath.
// Deeper directories override shallower ones.
func (p *Project) defaultsFor(relPath string) ModelDefaults {
	var dirs []string
	for dir := range p.Models {
		if underDir(relPath, cleanSlash(dir)) {
			dirs = append(dirs, dir)
		}
	}
	sort.Slice(dirs, func(i, j int) bool { return len(cleanSlash(dirs[i])) < len(cleanSlash(dirs[j])) })

	var out ModelDefaults
	for _, dir := range dirs {
		d := p.Models[dir]
		if d.Materialized != "" {
			out.Materialized = d.Materialized
		}
		if d.Schema != "" {
			out.Schema = d.Schema
		}
		if len(d.Tags) > 0 {
			out.Tags = d.Tags
		}
	}
	return out
}

func cleanSlash(p string) string {
	return strings.TrimSuffix(filepath.ToSlash(filepath.Clean(p)), "/")
}

// underDir reports whether slash path p lies under dir (or equals it).
func underDir(p, dir string) bool {
	if dir == "" || dir == "." {
		return true
	}
	return p == dir || strings.HasPrefix(p, dir+"/")
}
