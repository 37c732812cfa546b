// Package migrations lists every store.Migration; the runner applies them
// in version order. New
// migrations are added here as a new timestamped file plus an entry in All.
package migrations

import "github.com/laceai/lace/pkg/store"

// All returns every registered migration, unordered (the runner sorts by
// Version before applying).
func All() []store.Migration {
	return []store.Migration{
		CreateThreadsAndEvents(),
	}
}
