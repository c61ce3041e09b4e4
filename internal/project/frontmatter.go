package project

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/leapstack-labs/leapflow/pkg/core"
	"gopkg.in/yaml.v3"
)

// Frontmatter is the YAML block at the top of a model file:
//
//	/*---
//	materialized: view
//	tags: [report]
//	---*/
type Frontmatter struct {
	Name         string         `yaml:"name"`
	Description  string         `yaml:"description"`
	Materialized string         `yaml:"materialized"`
	Schema       string         `yaml:"schema"`
	Tags         []string       `yaml:"tags"`
	Meta         map[string]any `yaml:"meta"`
}

var frontmatterPattern = regexp.MustCompile(`(?s)^\s*/\*---\s*\n(.*?)\s*---\*/`)

// SplitFrontmatter separates the frontmatter from the SQL body. Content
// without a frontmatter block yields an empty Frontmatter and the content
// unchanged. Unknown keys are rejected; custom fields go under meta.
func SplitFrontmatter(file, content string) (*Frontmatter, string, error) {
	m := frontmatterPattern.FindStringSubmatchIndex(content)
	if m == nil {
		return &Frontmatter{}, content, nil
	}
	body := content[m[2]:m[3]]
	rest := strings.TrimLeft(content[m[1]:], "\r\n")

	var fm Frontmatter
	dec := yaml.NewDecoder(bytes.NewReader([]byte(body)))
	dec.KnownFields(true)
	if err := dec.Decode(&fm); err != nil && !errors.Is(err, io.EOF) {
		return nil, "", &FrontmatterError{File: file, Err: err}
	}
	if fm.Materialized != "" && !core.ValidMaterialization(fm.Materialized) {
		return nil, "", &FrontmatterError{
			File: file,
			Err:  fmt.Errorf("invalid materialized value %q, must be table or view", fm.Materialized),
		}
	}
	return &fm, rest, nil
}

// FrontmatterError reports a malformed frontmatter block.
type FrontmatterError struct {
	File string
	Err  error
}

func (e *FrontmatterError) Error() string {
	return fmt.Sprintf("%s: frontmatter: %v", e.File, e.Err)
}

func (e *FrontmatterError) Unwrap() error { return e.Err }
