// Package state persists pipeline runs, task runs and quality check
// results in SQLite.
package state

import (
	"errors"

	"github.com/leapstack-labs/leapflow/pkg/core"
)

// Type aliases so callers can stay within this package.
type (
	Store      = core.Store
	Run        = core.Run
	RunStatus  = core.RunStatus
	TaskRun    = core.TaskRun
	TaskState  = core.TaskState
	RunTrigger = core.RunTrigger
)

// ErrNotFound is wrapped by lookups that match no row.
var ErrNotFound = errors.New("not found")
