// Package idlock provides the shared per-id lock table used by both the
// Memory Manager and the Sync Manager, so operations on the same memory id
// never interleave between the two components (spec section 4.2: "Sync
// Manager operations on a given id never interleave with a Memory Manager
// operation on that same id, achieved by coarse per-id serialization — an
// id-sharded lock or a per-id actor"). A single Table instance must be
// constructed once per process and shared by both managers' constructors.
package idlock

import "sync"

const defaultShards = 64

// Table is an id-sharded mutex set.
type Table struct {
	shards []sync.Mutex
}

// New builds a Table with the default shard count.
func New() *Table {
	return &Table{shards: make([]sync.Mutex, defaultShards)}
}

// Lock acquires the shard owning id and returns a function to release it.
func (t *Table) Lock(id string) (unlock func()) {
	shard := &t.shards[index(id, len(t.shards))]
	shard.Lock()
	return shard.Unlock
}

func index(id string, n int) int {
	var h uint32 = 2166136261
	for i := 0; i < len(id); i++ {
		h ^= uint32(id[i])
		h *= 16777619
	}
	return int(h % uint32(n))
}
