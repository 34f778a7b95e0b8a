// Package memory implements the repository registry on an in-process document store with
// optimistic transactions. It backs local runs and the service test suites.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/odera-store/api/internal/platform/retry"
)

// ErrReadAfterWrite is returned when a transaction reads after it has buffered a write.
var ErrReadAfterWrite = errors.New("memory: transaction reads must happen before writes")

// Error implements repositories.RepositoryError for the memory backend.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	aborted     bool
	unavailable bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

func (e *Error) IsNotFound() bool    { return e != nil && e.notFound }
func (e *Error) IsConflict() bool    { return e != nil && e.conflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

func notFoundError(op, collection, id string) error {
	return &Error{op: op, err: fmt.Errorf("%s/%s not found", collection, id), notFound: true}
}

func alreadyExistsError(op, collection, id string) error {
	return &Error{op: op, err: fmt.Errorf("%s/%s already exists", collection, id), conflict: true}
}

func abortedError(collection, id string) error {
	return &Error{op: "memory.commit", err: fmt.Errorf("%s/%s changed since read", collection, id), conflict: true, aborted: true}
}

// IsAborted reports whether err is a commit conflict that a new attempt may resolve.
func IsAborted(err error) bool {
	var memErr *Error
	return errors.As(err, &memErr) && memErr.aborted
}

type docKey struct {
	collection string
	id         string
}

type document struct {
	data    []byte
	version uint64
}

type write struct {
	key    docKey
	data   []byte
	create bool
}

type transaction struct {
	reads  map[docKey]uint64
	writes []write
}

type txKey struct{}

func txFromContext(ctx context.Context) (*transaction, bool) {
	tx, ok := ctx.Value(txKey{}).(*transaction)
	return tx, ok && tx != nil
}

// Store is a versioned JSON document map. Transactions record the version of every document
// they read and commit only when none of those versions moved.
type Store struct {
	mu      sync.Mutex
	docs    map[docKey]document
	version uint64
	ids     atomic.Uint64
	policy  retry.Policy
}

// Option customises a Store.
type Option func(*Store)

// WithRetryPolicy sets the policy applied to aborted transactions.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(s *Store) {
		if policy.Attempts > 0 {
			s.policy = policy
		}
	}
}

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		docs:   make(map[docKey]document),
		policy: retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// RunInTx runs fn in an optimistic transaction and retries it when the commit conflicts.
// A context that already carries a transaction joins it.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("memory: transaction function is nil")
	}
	if _, ok := txFromContext(ctx); ok {
		return fn(ctx)
	}
	return s.policy.Do(ctx, IsAborted, func(ctx context.Context, _ int) error {
		tx := &transaction{reads: make(map[docKey]uint64)}
		if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
			return err
		}
		return s.commit(tx)
	})
}

func (s *Store) commit(tx *transaction) error {
	if len(tx.writes) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, seen := range tx.reads {
		if s.docs[key].version != seen {
			return abortedError(key.collection, key.id)
		}
	}
	pending := make(map[docKey]bool, len(tx.writes))
	for _, w := range tx.writes {
		if w.create {
			if _, exists := s.docs[w.key]; exists || pending[w.key] {
				return alreadyExistsError("memory.create", w.key.collection, w.key.id)
			}
		}
		pending[w.key] = true
	}
	for _, w := range tx.writes {
		s.version++
		s.docs[w.key] = document{data: w.data, version: s.version}
	}
	return nil
}

// NewID allocates a document id unique within the store.
func (s *Store) NewID(prefix string) string {
	return fmt.Sprintf("%s_%06d", prefix, s.ids.Add(1))
}

func (s *Store) get(ctx context.Context, collection, id string, dst any) error {
	key := docKey{collection: collection, id: id}
	tx, inTx := txFromContext(ctx)
	if inTx && len(tx.writes) > 0 {
		return &Error{op: "memory.get", err: ErrReadAfterWrite}
	}

	s.mu.Lock()
	doc, ok := s.docs[key]
	s.mu.Unlock()

	if inTx {
		tx.reads[key] = doc.version
	}
	if !ok {
		return notFoundError("memory.get", collection, id)
	}
	if err := json.Unmarshal(doc.data, dst); err != nil {
		return fmt.Errorf("memory: decode %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) put(ctx context.Context, collection, id string, value any, create bool) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("memory: encode %s/%s: %w", collection, id, err)
	}
	key := docKey{collection: collection, id: id}
	if tx, ok := txFromContext(ctx); ok {
		tx.writes = append(tx.writes, write{key: key, data: data, create: create})
		return nil
	}
	return s.commit(&transaction{writes: []write{{key: key, data: data, create: create}}})
}

// scan decodes every committed document of the collection in id order. Scans are not
// tracked by transactions.
func (s *Store) scan(collection string, decode func(id string, data []byte) error) error {
	s.mu.Lock()
	type item struct {
		id   string
		data []byte
	}
	items := make([]item, 0)
	for key, doc := range s.docs {
		if key.collection == collection {
			items = append(items, item{id: key.id, data: doc.data})
		}
	}
	s.mu.Unlock()

	sort.Slice(items, func(i, j int) bool { return items[i].id < items[j].id })
	for _, it := range items {
		if err := decode(it.id, it.data); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of documents stored in the collection.
func (s *Store) Count(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.docs {
		if key.collection == collection {
			n++
		}
	}
	return n
}

func isNotFound(err error) bool {
	var memErr *Error
	return errors.As(err, &memErr) && memErr.IsNotFound()
}
