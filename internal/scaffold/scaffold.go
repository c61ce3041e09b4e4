// Package scaffold writes project templates to disk.
package scaffold

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed all:templates
var templateFS embed.FS

// DefaultTemplate is the template used by init.
const DefaultTemplate = "retail"

// Templates lists the embedded template names.
func Templates() []string {
	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

// Copy writes an embedded template into targetDir. Existing files are kept
// unless force is set. It returns the files written, relative to targetDir.
func Copy(templateName, targetDir string, force bool) ([]string, error) {
	root := path.Join("templates", templateName)
	if _, err := fs.Stat(templateFS, root); err != nil {
		return nil, fmt.Errorf("unknown template %q (available: %s)", templateName, strings.Join(Templates(), ", "))
	}

	var written []string
	err := fs.WalkDir(templateFS, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(p, root), "/")
		if rel == "" {
			return nil
		}

		targetPath := filepath.Join(targetDir, filepath.FromSlash(renameSpecialFiles(rel)))
		if d.IsDir() {
			return os.MkdirAll(targetPath, 0750)
		}

		if !force {
			if _, err := os.Stat(targetPath); err == nil {
				return nil // Skip existing files
			}
		}

		content, err := templateFS.ReadFile(p)
		if err != nil {
			return err
		}
		if err := os.WriteFile(targetPath, content, 0600); err != nil {
			return err
		}
		written = append(written, renameSpecialFiles(rel))
		return nil
	})
	return written, err
}

// Files lists the files of a template, relative to its root.
func Files(templateName string) ([]string, error) {
	root := path.Join("templates", templateName)
	var files []string
	err := fs.WalkDir(templateFS, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, renameSpecialFiles(strings.TrimPrefix(p, root+"/")))
		}
		return nil
	})
	return files, err
}

// renameSpecialFiles handles files that need renaming (e.g., dotfiles).
func renameSpecialFiles(p string) string {
	dir, base := path.Split(p)
	switch base {
	case "gitignore":
		return dir + ".gitignore"
	default:
		return p
	}
}

// Group sorts template files into display categories.
func Group(files []string) map[string][]string {
	groups := map[string][]string{
		"config":  {},
		"dataset": {},
		"models":  {},
		"checks":  {},
	}
	for _, f := range files {
		switch {
		case strings.HasPrefix(f, "include/dataset/"):
			groups["dataset"] = append(groups["dataset"], f)
		case strings.HasPrefix(f, "include/dbt/"):
			groups["models"] = append(groups["models"], f)
		case strings.HasPrefix(f, "include/soda/"):
			groups["checks"] = append(groups["checks"], f)
		default:
			groups["config"] = append(groups["config"], f)
		}
	}
	return groups
}
