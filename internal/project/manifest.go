package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/leapstack-labs/leapflow/pkg/core"
)

// ManifestPath is where the compiled manifest lives, relative to the project.
const ManifestPath = "target/manifest.json"

// Manifest is the compiled form of a project's model graph.
type Manifest struct {
	Metadata  ManifestMetadata       `json:"metadata"`
	Nodes     map[string]*core.Model `json:"nodes"`
	ParentMap map[string][]string    `json:"parent_map"`
}

// ManifestMetadata describes when and from what a manifest was built.
type ManifestMetadata struct {
	ProjectName string    `json:"project_name"`
	GeneratedAt time.Time `json:"generated_at"`
	Generator   string    `json:"generator"`
	Target      string    `json:"target,omitempty"`
}

// Manifest builds the manifest for the graph.
func (g *Graph) Manifest(generator string) *Manifest {
	m := &Manifest{
		Metadata: ManifestMetadata{
			ProjectName: g.Project.Name,
			GeneratedAt: time.Now().UTC(),
			Generator:   generator,
		},
		Nodes:     make(map[string]*core.Model),
		ParentMap: make(map[string][]string),
	}
	if g.Target != nil {
		m.Metadata.Target = g.Target.Name
	}
	for _, model := range g.Models() {
		m.Nodes[model.UniqueID] = model
		parents := make([]string, 0, len(model.DependsOn))
		for _, dep := range model.DependsOn {
			parents = append(parents, "model."+g.Project.Name+"."+dep)
		}
		m.ParentMap[model.UniqueID] = parents
	}
	return m
}

// WriteManifest writes the manifest to <project>/target/manifest.json and
// returns the path written.
func (g *Graph) WriteManifest(generator string) (string, error) {
	path := filepath.Join(g.Project.Dir, ManifestPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create target dir: %w", err)
	}
	data, err := json.MarshalIndent(g.Manifest(generator), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}

// LoadManifest rebuilds a graph from the project's compiled manifest.
func LoadManifest(p *Project, target *Target) (*Graph, error) {
	path := filepath.Join(p.Dir, ManifestPath)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest (run `leapflow models compile` first): %w", err)
	}
	var man Manifest
	if err := json.Unmarshal(data, &man); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if man.Metadata.ProjectName != p.Name {
		return nil, fmt.Errorf("manifest %s belongs to project %q, not %q", path, man.Metadata.ProjectName, p.Name)
	}

	models := make([]*core.Model, 0, len(man.Nodes))
	for _, id := range sortedKeys(man.Nodes) {
		m := man.Nodes[id]
		m.FilePath = filepath.Join(p.Dir, filepath.FromSlash(m.Path))
		models = append(models, m)
	}
	return newGraph(p, target, models)
}

// LoadGraph builds the graph using the given load mode.
func LoadGraph(p *Project, target *Target, mode core.LoadMode) (*Graph, error) {
	switch mode {
	case core.LoadModeManifest:
		return LoadManifest(p, target)
	case core.LoadModeDiscover, "":
		return Discover(p, target)
	}
	return nil, fmt.Errorf("unknown load mode %q", mode)
}
