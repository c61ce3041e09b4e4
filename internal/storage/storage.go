// Package storage provides object storage backends for leapflow:
// an S3-compatible client built on minio-go and a directory-backed store.
package storage

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapflow/pkg/core"
)

// ObjectInfo is re-exported for convenience.
type ObjectInfo = core.ObjectInfo

// Connection types served by each backend.
var (
	localTypes = []string{"local", "file"}
	minioTypes = []string{"minio", "s3", "gcs", "google_cloud_platform"}
)

// Open returns the object store backend for a connection.
func Open(conn *core.Connection, logger *slog.Logger) (core.ObjectStore, error) {
	if conn == nil {
		return nil, fmt.Errorf("no connection given")
	}
	typ := strings.ToLower(conn.Type)
	switch {
	case contains(localTypes, typ):
		root := conn.LocalRoot()
		if root == "" {
			return nil, fmt.Errorf("connection %s: local storage needs a root directory (extra.root)", conn.ID)
		}
		return NewLocalStore(root, logger), nil
	case contains(minioTypes, typ):
		cfg, err := MinioConfigFromConnection(conn)
		if err != nil {
			return nil, err
		}
		store, err := NewMinioStore(cfg, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("connection %s: unsupported storage type %q (supported: %s)",
			conn.ID, conn.Type, strings.Join(SupportedTypes(), ", "))
	}
}

// SupportedTypes lists the connection types Open understands.
func SupportedTypes() []string {
	types := append(append([]string{}, localTypes...), minioTypes...)
	sort.Strings(types)
	return types
}

// IsStorageType reports whether a connection type names an object store.
func IsStorageType(typ string) bool {
	typ = strings.ToLower(typ)
	return contains(localTypes, typ) || contains(minioTypes, typ)
}

func isGoogleType(typ string) bool {
	typ = strings.ToLower(typ)
	return typ == "gcs" || typ == "google_cloud_platform"
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
