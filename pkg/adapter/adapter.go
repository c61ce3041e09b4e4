// Package adapter provides the warehouse adapter contract, a registry of
// adapter factories, and a database/sql base that concrete adapters embed.
//
// Concrete adapter implementations are in pkg/adapters/ subdirectories and
// register themselves from init().
package adapter

import (
	"github.com/leapstack-labs/leapflow/pkg/core"
)

type (
	// Adapter is the warehouse adapter contract.
	Adapter = core.Adapter

	// Config is an alias for core.AdapterConfig.
	Config = core.AdapterConfig

	// Column is an alias for core.Column.
	Column = core.Column

	// Metadata is an alias for core.TableMetadata.
	Metadata = core.TableMetadata

	// Rows is an alias for core.Rows.
	Rows = core.Rows
)
