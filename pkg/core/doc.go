// Package core defines the shared language of the leapflow system.
//
// This package contains:
//   - Configuration references (FileRef, TableRef, ObjectURI, Connection)
//   - Service interfaces (Adapter, ObjectStore, Store)
//   - Run state entities (Run, TaskRun, CheckResult)
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
