package core

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// FileType identifies the format of an ingested file.
type FileType string

// Supported file types.
const (
	FileTypeCSV     FileType = "csv"
	FileTypeJSON    FileType = "json"
	FileTypeNDJSON  FileType = "ndjson"
	FileTypeParquet FileType = "parquet"
)

// ParseFileType normalizes a file type name.
func ParseFileType(s string) (FileType, error) {
	switch ft := FileType(strings.ToLower(strings.TrimSpace(s))); ft {
	case FileTypeCSV, FileTypeJSON, FileTypeNDJSON, FileTypeParquet:
		return ft, nil
	default:
		return "", fmt.Errorf("unsupported file type %q (expected csv, json, ndjson or parquet)", s)
	}
}

// FileTypeFromPath infers the file type from a path extension.
func FileTypeFromPath(p string) (FileType, bool) {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".")
	if ext == "jsonl" {
		ext = "ndjson"
	}
	ft, err := ParseFileType(ext)
	return ft, err == nil
}

// ContentType returns the MIME type used when uploading this file type.
func (f FileType) ContentType() string {
	switch f {
	case FileTypeCSV:
		return "text/csv"
	case FileTypeJSON:
		return "application/json"
	case FileTypeNDJSON:
		return "application/x-ndjson"
	case FileTypeParquet:
		return "application/vnd.apache.parquet"
	default:
		return "application/octet-stream"
	}
}

// FileRef points at an input file, local or in object storage.
type FileRef struct {
	Path     string
	ConnID   string
	FileType FileType
}

// IsObject reports whether the path is an object storage URI.
func (f FileRef) IsObject() bool {
	return strings.Contains(f.Path, "://")
}

// TableRef names a warehouse table.
type TableRef struct {
	Name   string
	ConnID string
	Schema string
}

// Qualified returns schema.name, or name when no schema is set.
func (t TableRef) Qualified() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

func (t TableRef) String() string {
	return t.Qualified()
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s is a plain, unquoted SQL identifier.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// Object storage URI schemes.
const (
	SchemeGCS  = "gs"
	SchemeS3   = "s3"
	SchemeFile = "file"
)

// ObjectURI is a parsed scheme://bucket/key reference.
type ObjectURI struct {
	Scheme string
	Bucket string
	Key    string
}

// ParseObjectURI parses gs://, s3:// and file:// URIs.
func ParseObjectURI(raw string) (ObjectURI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ObjectURI{}, fmt.Errorf("invalid object URI %q: %w", raw, err)
	}
	switch u.Scheme {
	case SchemeGCS, SchemeS3, SchemeFile:
	case "":
		return ObjectURI{}, fmt.Errorf("invalid object URI %q: missing scheme", raw)
	default:
		return ObjectURI{}, fmt.Errorf("invalid object URI %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Host == "" {
		return ObjectURI{}, fmt.Errorf("invalid object URI %q: missing bucket", raw)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return ObjectURI{}, fmt.Errorf("invalid object URI %q: missing object key", raw)
	}
	return ObjectURI{Scheme: u.Scheme, Bucket: u.Host, Key: key}, nil
}

func (o ObjectURI) String() string {
	return fmt.Sprintf("%s://%s/%s", o.Scheme, o.Bucket, o.Key)
}

// Connection is a named set of credentials for an external service.
// Type selects the storage backend or warehouse adapter. A storage
// connection may also carry the warehouse it loads into.
type Connection struct {
	ID        string           `koanf:"id" json:"id"`
	Type      string           `koanf:"type" json:"type"`
	Host      string           `koanf:"host" json:"host,omitempty"`
	Port      int              `koanf:"port" json:"port,omitempty"`
	Login     string           `koanf:"login" json:"login,omitempty"`
	Password  string           `koanf:"password" json:"-"`
	Schema    string           `koanf:"schema" json:"schema,omitempty"`
	Extra     map[string]any   `koanf:"extra" json:"extra,omitempty"`
	Warehouse *WarehouseConfig `koanf:"warehouse" json:"warehouse,omitempty"`
}

// WarehouseConfig describes a warehouse target, as found in connections,
// transformation profiles and check configuration.
type WarehouseConfig struct {
	Type     string            `koanf:"type" yaml:"type" json:"type"`
	Path     string            `koanf:"path" yaml:"path" json:"path,omitempty"`
	Host     string            `koanf:"host" yaml:"host" json:"host,omitempty"`
	Port     int               `koanf:"port" yaml:"port" json:"port,omitempty"`
	Database string            `koanf:"database" yaml:"database" json:"database,omitempty"`
	User     string            `koanf:"user" yaml:"user" json:"user,omitempty"`
	Password string            `koanf:"password" yaml:"password" json:"-"`
	Schema   string            `koanf:"schema" yaml:"schema" json:"schema,omitempty"`
	Options  map[string]string `koanf:"options" yaml:"options" json:"options,omitempty"`
	Params   map[string]any    `koanf:"params" yaml:"params" json:"params,omitempty"`
}

// AdapterConfig converts the warehouse description to adapter settings.
func (w *WarehouseConfig) AdapterConfig() AdapterConfig {
	return AdapterConfig{
		Type:     strings.ToLower(w.Type),
		Path:     w.Path,
		Host:     w.Host,
		Port:     w.Port,
		Database: w.Database,
		Username: w.User,
		Password: w.Password,
		Schema:   w.Schema,
		Options:  w.Options,
		Params:   w.Params,
	}
}

// ExtraString returns a string value from Extra.
func (c *Connection) ExtraString(key string) string {
	if c == nil || c.Extra == nil {
		return ""
	}
	switch v := c.Extra[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// ExtraBool returns a boolean value from Extra, or def when unset.
func (c *Connection) ExtraBool(key string, def bool) bool {
	if c == nil || c.Extra == nil {
		return def
	}
	switch v := c.Extra[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return def
}

// LocalRoot returns the directory backing a file-type connection.
func (c *Connection) LocalRoot() string {
	if root := c.ExtraString("root"); root != "" {
		return root
	}
	if c == nil {
		return ""
	}
	return c.Host
}
