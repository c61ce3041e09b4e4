package core

import "slices"

// Materialization names supported by the transformation runner.
const (
	MaterializationTable = "table"
	MaterializationView  = "view"
)

// ValidMaterialization reports whether m is a known materialization.
func ValidMaterialization(m string) bool {
	return m == MaterializationTable || m == MaterializationView
}

// SourceRef is a source('schema', 'table') reference.
type SourceRef struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

// Model is one SQL transformation unit of a project.
type Model struct {
	// Name is the file name without extension; unique within a project.
	Name string `json:"name"`
	// UniqueID is "model.<project>.<name>".
	UniqueID string `json:"unique_id"`
	// Path is the file path relative to the project directory.
	Path string `json:"original_file_path"`
	// FilePath is the absolute path of the SQL file.
	FilePath string `json:"-"`

	Materialized string         `json:"materialized"`
	Schema       string         `json:"schema"`
	Description  string         `json:"description,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	Meta         map[string]any `json:"meta,omitempty"`

	// DependsOn lists model names passed to ref().
	DependsOn []string `json:"depends_on"`
	// Sources lists source() references.
	Sources []SourceRef `json:"sources,omitempty"`

	// RawSQL is the template body without frontmatter.
	RawSQL string `json:"raw_code"`
}

// HasTag reports whether the model carries tag.
func (m *Model) HasTag(tag string) bool {
	return slices.Contains(m.Tags, tag)
}

// Relation returns the schema-qualified relation name of the model.
func (m *Model) Relation() string {
	if m.Schema == "" {
		return m.Name
	}
	return m.Schema + "." + m.Name
}
