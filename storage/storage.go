// Package storage implements the tick-driven key-value Storage boundary
// (§6): every operation enqueues work and returns a PendingFuture that
// resolves on a later Tick, matching the rest of the framework's
// single-threaded, never-blocks discipline.
//
// The embedded engine is github.com/tidwall/buntdb, an in-process,
// ordered, transactional KV store pulled from the example pack
// (github.com/NVIDIA/aistore uses it for its xattr-backed metadata
// cache). buntdb's AscendRange/DescendLessOrEqual give readRange and
// lowerKey for free instead of hand-rolling a sorted map.
package storage

import (
	"time"

	"github.com/tidwall/buntdb"

	"github.com/joeycumines/tickloom/future"
	"github.com/joeycumines/tickloom/tlerrors"
)

// WriteOptions mirrors buntdb's optional per-set behavior (currently just
// a TTL), kept minimal since the core does not prescribe persistence
// policy (§6).
type WriteOptions struct {
	// TTLSeconds, if non-zero, is translated to a buntdb TTL in
	// wall-clock terms at apply time; tickloom itself has no wall clock,
	// so this is an escape hatch for embedders that do, not something
	// the core depends on.
	TTLSeconds float64
}

// Batch is a sequence of key/value pairs applied atomically by PutBatch.
type Batch []BatchEntry

// BatchEntry is one write within a Batch.
type BatchEntry struct {
	Key   string
	Value []byte
}

// operation is one deferred unit of work, queued by a public method and
// applied by Tick. The closure captures whatever its method needs; operation
// itself carries nothing beyond it.
type operation struct {
	apply func()
}

// Storage is an in-memory, tick-driven key-value store. All public
// methods are safe to call only from the scheduler thread (§5); there is
// no internal locking.
type Storage struct {
	db    *buntdb.DB
	queue []operation
}

// Open constructs a Storage backed by an in-memory buntdb database (":memory:"
// persistence, matching the simulated-cluster use case; production
// deployments may open a file-backed database with the same API).
func Open() (*Storage, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, tlerrors.NewStateError("storage.Open", err.Error())
	}
	return &Storage{db: db}, nil
}

// Put enqueues a single key/value write, returning a Future resolved on
// the next Tick.
func (s *Storage) Put(key string, value []byte, opts *WriteOptions) *future.PendingFuture[bool] {
	f := future.New[bool]()
	s.queue = append(s.queue, operation{
		apply: func() {
			err := s.db.Update(func(tx *buntdb.Tx) error {
				var buntOpts *buntdb.SetOptions
				if opts != nil && opts.TTLSeconds > 0 {
					buntOpts = &buntdb.SetOptions{Expires: true, TTL: time.Duration(opts.TTLSeconds * float64(time.Second))}
				}
				_, _, err := tx.Set(key, string(value), buntOpts)
				return err
			})
			completeBool(f, err)
		},
	})
	return f
}

// PutBatch enqueues an atomic multi-key write.
func (s *Storage) PutBatch(batch Batch) *future.PendingFuture[bool] {
	f := future.New[bool]()
	s.queue = append(s.queue, operation{
		apply: func() {
			err := s.db.Update(func(tx *buntdb.Tx) error {
				for _, entry := range batch {
					if _, _, err := tx.Set(entry.Key, string(entry.Value), nil); err != nil {
						return err
					}
				}
				return nil
			})
			completeBool(f, err)
		},
	})
	return f
}

// Get enqueues a point read. The result is nil (not an error) if the key
// is absent.
func (s *Storage) Get(key string) *future.PendingFuture[[]byte] {
	f := future.New[[]byte]()
	s.queue = append(s.queue, operation{
		apply: func() {
			var value []byte
			err := s.db.View(func(tx *buntdb.Tx) error {
				v, err := tx.Get(key)
				if err == buntdb.ErrNotFound {
					return nil
				}
				if err != nil {
					return err
				}
				value = []byte(v)
				return nil
			})
			if err != nil {
				_ = f.Fail(tlerrors.NewStateError("storage.Get", err.Error()))
				return
			}
			_ = f.Complete(value)
		},
	})
	return f
}

// ReadRange enqueues an inclusive-lower, exclusive-upper range scan
// [lo, hi), returning every matching key with its value in a map (which
// carries no key order).
func (s *Storage) ReadRange(lo, hi string) *future.PendingFuture[map[string][]byte] {
	f := future.New[map[string][]byte]()
	s.queue = append(s.queue, operation{
		apply: func() {
			result := make(map[string][]byte)
			err := s.db.View(func(tx *buntdb.Tx) error {
				return tx.AscendRange("", lo, hi, func(key, value string) bool {
					result[key] = []byte(value)
					return true
				})
			})
			if err != nil {
				_ = f.Fail(tlerrors.NewStateError("storage.ReadRange", err.Error()))
				return
			}
			_ = f.Complete(result)
		},
	})
	return f
}

// LowerKey enqueues a search for the greatest key strictly less than
// upperBoundExclusive, returning its value, or nil if none exists.
func (s *Storage) LowerKey(upperBoundExclusive string) *future.PendingFuture[[]byte] {
	f := future.New[[]byte]()
	s.queue = append(s.queue, operation{
		apply: func() {
			var value []byte
			err := s.db.View(func(tx *buntdb.Tx) error {
				return tx.DescendLessOrEqual("", upperBoundExclusive, func(key, v string) bool {
					if key == upperBoundExclusive {
						return true // keep descending past an exact match; LowerKey wants strictly-less
					}
					value = []byte(v)
					return false
				})
			})
			if err != nil {
				_ = f.Fail(tlerrors.NewStateError("storage.LowerKey", err.Error()))
				return
			}
			_ = f.Complete(value)
		},
	})
	return f
}

// Sync enqueues a durability barrier. buntdb fsyncs its append-only file
// on every Update commit, so for the in-memory configuration this is a
// no-op that resolves on the next Tick for API symmetry with a
// file-backed deployment.
func (s *Storage) Sync() *future.PendingFuture[struct{}] {
	f := future.New[struct{}]()
	s.queue = append(s.queue, operation{
		apply: func() {
			_ = f.Complete(struct{}{})
		},
	})
	return f
}

// Tick applies every queued operation in FIFO order, completing each
// operation's future (§4.F, §5: storage never blocks, work advances one
// tick-driven step at a time).
func (s *Storage) Tick() {
	pending := s.queue
	s.queue = nil
	for _, op := range pending {
		op.apply()
	}
}

// Close releases the underlying buntdb handle.
func (s *Storage) Close() error {
	return s.db.Close()
}

func completeBool(f *future.PendingFuture[bool], err error) {
	if err != nil {
		_ = f.Fail(tlerrors.NewStateError("storage", err.Error()))
		return
	}
	_ = f.Complete(true)
}

