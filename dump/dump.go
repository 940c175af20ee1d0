// Package dump produces MRT TABLE_DUMP_V2 records from a routing table
// in bounded steps, so a dump can be interleaved with other work of the
// daemon's single control loop.
package dump

import (
	"github.com/nestroute/mrtd/table"
)

// TableDump is one record being built by a bounded walk.
type TableDump interface {
	// Step advances the walk by at most the given budgets.
	Step(nodeBudget int, entryBudget int) WalkState
	// State returns the walk state.
	State() WalkState
	// Err returns why the walk failed, if it did.
	Err() error
	// Dump returns the record built so far, reserved header included.
	Dump() []byte
	// Subtype returns the TABLE_DUMP_V2 subtype of the record.
	Subtype() uint16
	// Free releases the table cursor and the record buffer.
	Free()
}

// IsExportable reports whether a route belongs in a table dump:
// a BGP route with a known sender on a node without special flags.
func IsExportable(route *table.Route) bool {
	return route.Source == table.SourceBGP &&
		route.Sender != nil &&
		route.Net != nil && route.Net.Flags == 0
}
