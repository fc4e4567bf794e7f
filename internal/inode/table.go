// Package inode implements the core's nodeid <-> NFSv4 file handle identity
// table (C2). A Record is keyed by NFS fileid and carries the current file
// handle, a reference count mirroring FUSE's nlookup protocol, and a
// generation number that is always 0.
package inode

import (
	"sync/atomic"

	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
)

// Record is the per-inode bookkeeping the facade threads through every
// translation handler. Nlookup changes on every lookup/open/forget; Fileid
// is immutable once the record is created, and a non-empty Fh is never
// replaced.
type Record struct {
	Fileid uint64

	// Fh is the NFSv4 file handle for Fileid. Getsert sets it, under the
	// owning Table's mutex, when it inserts the record; the lookup and open
	// handlers fill it in only while it is still empty.
	Fh []byte

	// Nlookup mirrors the FUSE kernel's outstanding-lookup count for this
	// nodeid; it is incremented on every lookup/open that hands the
	// nodeid back to the kernel and decremented by ForgetInode.
	// Accessed atomically so handlers can bump it without taking the
	// table lock.
	Nlookup int64

	// Generation is always 0: spec.md requires a freshly-inserted record's
	// generation to be 0, and the core never reclaims or reissues fileids
	// within one table's lifetime ("records live until table destruction"),
	// so there is never an occasion to bump it.
	Generation uint64
}

// IncLookup atomically increments the record's lookup count and returns the
// new value.
func (r *Record) IncLookup() int64 {
	return atomic.AddInt64(&r.Nlookup, 1)
}

// DecLookup atomically decrements the record's lookup count by n and
// returns the new value. It does not remove the record from its table;
// spec.md explicitly leaves reclamation out of scope.
func (r *Record) DecLookup(n int64) int64 {
	return atomic.AddInt64(&r.Nlookup, -n)
}

// Table is the concurrent fileid -> *Record map. All access is guarded by
// an InvariantMutex, matching the locking discipline the teacher applies to
// its own inode map in fs/fs.go.
type Table struct {
	clock timeutil.Clock

	mu        syncutil.InvariantMutex
	records   map[uint64]*Record
	destroyed bool
}

// New creates an empty Table.
func New(clock timeutil.Clock) *Table {
	t := &Table{
		clock:   clock,
		records: make(map[uint64]*Record),
	}
	t.mu.Lock()
	t.mu.Unlock()
	return t
}

func (t *Table) checkInvariants() {
	if t.destroyed && len(t.records) != 0 {
		panic("inode: records present after Destroy")
	}
}

// Get returns the record for fileid, or nil if no such record exists.
func (t *Table) Get(fileid uint64) *Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.checkInvariants()

	return t.records[fileid]
}

// Getsert returns the existing record for fileid if one is present;
// otherwise it atomically inserts a new record built from fh and returns
// it. The boolean result reports whether a new record was inserted.
func (t *Table) Getsert(fileid uint64, fh []byte) (*Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.checkInvariants()

	if r, ok := t.records[fileid]; ok {
		return r, false
	}

	r := &Record{
		Fileid: fileid,
		Fh:     fh,
	}
	t.records[fileid] = r
	return r, true
}

// Destroy drops every record from the table. It does not issue any RPCs;
// callers wanting a clean remote teardown must do so before calling
// Destroy.
func (t *Table) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records = make(map[uint64]*Record)
	t.destroyed = true
	t.checkInvariants()
}

// Len reports the number of live records, for tests and metrics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Clock exposes the table's time source so callers building records outside
// Getsert (none currently do) can stay consistent with it.
func (t *Table) Clock() timeutil.Clock {
	return t.clock
}
