package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/strata-db/strata/schema"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a custom logger. If not provided, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithJournal attaches a durable commit journal. Every commit is appended to
// it and Replay restores the data plane on open.
func WithJournal(j *Journal) Option {
	return func(s *Store) {
		s.journal = j
	}
}

// Store is the graph store: the canonical immutable state plus the commit
// path. All methods are safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	state   *state
	logger  *slog.Logger
	journal *Journal

	commits   metric.Int64Counter
	conflicts metric.Int64Counter
}

// New creates a Store over the given schema snapshot.
func New(reg *schema.Registry, opts ...Option) *Store {
	s := &Store{
		state:  newState(reg),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	meter := otel.Meter("strata/store")
	s.commits, _ = meter.Int64Counter("strata.store.commits",
		metric.WithDescription("Committed write transactions"))
	s.conflicts, _ = meter.Int64Counter("strata.store.conflicts",
		metric.WithDescription("Write transactions rejected with a conflict"))
	return s
}

// Open creates a Store and, when a journal is attached, replays its records
// to restore the data plane. The schema must already contain every type the
// journal references.
func Open(reg *schema.Registry, opts ...Option) (*Store, error) {
	s := New(reg, opts...)
	if s.journal == nil {
		return s, nil
	}
	n, err := s.journal.Replay(func(log []op) error {
		return s.applyReplayed(log)
	})
	if err != nil {
		return nil, fmt.Errorf("store: journal replay: %w", err)
	}
	if n > 0 {
		s.logger.Info("journal replayed", "commits", n, "version", s.Version())
	}
	return s, nil
}

// Registry returns the current schema snapshot.
func (s *Store) Registry() *schema.Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.reg
}

// Version returns the current state version.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.version
}

// HasInstances reports whether any instance of exactly the given type exists.
// The schema layer consults it before undefining a type.
func (s *Store) HasInstances(label string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.byType[label]) > 0
}

// SetRegistry atomically swaps the schema snapshot. Open data transactions
// keep the snapshot they started with. Called by the schema-transaction
// commit path after validation.
func (s *Store) SetRegistry(reg *schema.Registry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.state.clone()
	next.version++
	next.reg = reg
	s.state = next
}

// Read begins a snapshot-isolated read transaction.
func (s *Store) Read(ctx context.Context) (*Tx, error) {
	return s.begin(ctx, TxRead)
}

// Write begins a write transaction.
func (s *Store) Write(ctx context.Context) (*Tx, error) {
	return s.begin(ctx, TxWrite)
}

func (s *Store) begin(ctx context.Context, kind TxKind) (*Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	base := s.state
	s.mu.RUnlock()
	return &Tx{store: s, kind: kind, base: base}, nil
}

// commit replays a transaction's change log onto the latest canonical state,
// first-committer-wins. It is the only writer of s.state for data commits.
func (s *Store) commit(baseVersion uint64, log []op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state
	for iid := range touched(log) {
		if ver, ok := cur.modified[iid]; ok && ver > baseVersion {
			s.conflicts.Add(context.Background(), 1)
			s.logger.Debug("write conflict", "iid", iid, "base", baseVersion, "modified", ver)
			return fmt.Errorf("%w: instance %s", ErrWriteConflict, iid)
		}
	}

	next := cur.clone()
	next.version++
	remap := remapTable{}
	for _, o := range log {
		if err := apply(next, o, remap); err != nil {
			return err
		}
	}
	if err := validateKeys(next, log, remap); err != nil {
		return err
	}
	for iid := range touched(log) {
		next.modified[remap.resolve(iid)] = next.version
	}

	if s.journal != nil {
		if err := s.journal.Append(next.version, log); err != nil {
			return fmt.Errorf("store: journal append: %w", err)
		}
	}
	s.state = next
	s.commits.Add(context.Background(), 1)
	return nil
}

// applyReplayed is the journal-recovery commit path: no conflict checking,
// no re-journaling.
func (s *Store) applyReplayed(log []op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.state.clone()
	next.version++
	remap := remapTable{}
	for _, o := range log {
		if err := apply(next, o, remap); err != nil {
			return err
		}
	}
	for iid := range touched(log) {
		next.modified[remap.resolve(iid)] = next.version
	}
	s.state = next
	return nil
}

// validateKeys enforces key mandatoriness: every touched entity or relation
// instance that survives the commit must own exactly one value for each @key
// attribute its type declares.
func validateKeys(st *state, log []op, remap remapTable) error {
	for iid := range touched(log) {
		iid = remap.resolve(iid)
		inst, ok := st.instances[iid]
		if !ok || inst.Kind == schema.KindAttribute {
			continue
		}
		for _, keyAttr := range st.reg.KeyAttributes(inst.Type) {
			n := 0
			for attr := range st.hasOut[iid] {
				if a, ok := st.instances[attr]; ok && st.reg.IsSubtype(a.Type, keyAttr) {
					n++
				}
			}
			if n != 1 {
				return fmt.Errorf("%w: %s instance must own exactly one %s, has %d",
					ErrConstraint, inst.Type, keyAttr, n)
			}
		}
	}
	return nil
}
