package strata

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/strata-db/strata/pattern"
	"github.com/strata-db/strata/query"
	"github.com/strata-db/strata/rule"
	"github.com/strata-db/strata/schema"
	"github.com/strata-db/strata/store"
)

// TxKind selects what a transaction may do.
type TxKind int

const (
	// ReadTx is a snapshot-isolated read-only transaction.
	ReadTx TxKind = iota + 1

	// WriteTx additionally accepts insert, delete, and update clauses.
	WriteTx

	// SchemaTx accepts define and undefine clauses, applied atomically at
	// Commit.
	SchemaTx
)

// Database is a typed knowledge graph: a schema registry, a versioned
// instance store, and a rule set, queried through one text language.
//
// Example:
//
//	db, err := strata.Open(
//	    strata.WithLogger(logger),
//	    strata.WithJournalPath("/var/lib/strata/commits.db"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
func Open(opts ...Option) (*Database, error) {
	c := &dbConfig{}
	for _, opt := range opts {
		opt(c)
	}
	if c.err != nil {
		return nil, c.err
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("strata")
	}

	db := &Database{
		cfg:    c.cfg,
		logger: c.logger,
		tracer: c.tracer,
		rules:  rule.NewSet(),
	}
	meter := otel.Meter("strata")
	db.queries, _ = meter.Int64Counter("strata.queries",
		metric.WithDescription("Queries executed"))
	db.derived, _ = meter.Int64Counter("strata.inference.derived",
		metric.WithDescription("Facts derived by rule inference"))

	reg := schema.Builtin()
	if c.cfg.JournalPath != "" {
		j, err := store.OpenJournal(c.cfg.JournalPath)
		if err != nil {
			return nil, err
		}
		// Schema clauses replay before the data commits that depend on them.
		rules := db.rules
		err = j.EachSchema(func(text string) error {
			q, err := query.Parse(text)
			if err != nil {
				return err
			}
			reg, rules, err = applyClauses(reg, rules, q, noInstances)
			return err
		})
		if err != nil {
			CloseWithLog(j, c.logger, "commit journal")
			return nil, fmt.Errorf("strata: schema replay: %w", err)
		}
		db.rules = rules
		db.journal = j
	}

	var err error
	if db.journal != nil {
		db.store, err = store.Open(reg, store.WithLogger(db.logger), store.WithJournal(db.journal))
		if err != nil {
			CloseWithLog(db.journal, c.logger, "commit journal")
			return nil, err
		}
	} else {
		db.store = store.New(reg, store.WithLogger(db.logger))
	}
	return db, nil
}

// noInstances is the instance probe used during journal replay: data commits
// have not been applied yet, so nothing blocks an undefine.
func noInstances(string) bool { return false }

// Database is safe for concurrent use.
type Database struct {
	mu      sync.RWMutex
	rules   *rule.Set
	closed  bool
	store   *store.Store
	journal *store.Journal

	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer

	queries metric.Int64Counter
	derived metric.Int64Counter
}

// Close marks the database closed and releases the journal. Open
// transactions keep their snapshots but can no longer commit schema changes.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	if db.journal != nil {
		return db.journal.Close()
	}
	return nil
}

// Registry returns the current schema snapshot.
func (db *Database) Registry() *schema.Registry {
	return db.store.Registry()
}

// Rules returns the current rule set.
func (db *Database) Rules() *rule.Set {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.rules
}

// Transaction begins a transaction of the given kind.
func (db *Database) Transaction(ctx context.Context, kind TxKind) (*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db.mu.RLock()
	closed, rules := db.closed, db.rules
	db.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	t := &Transaction{db: db, kind: kind, rules: rules}
	var err error
	switch kind {
	case ReadTx:
		t.tx, err = db.store.Read(ctx)
	case WriteTx:
		t.tx, err = db.store.Write(ctx)
	case SchemaTx:
		t.stagedReg = db.store.Registry()
		t.stagedRules = rules
	default:
		err = fmt.Errorf("%w: unknown kind %d", ErrTxKind, kind)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Query parses and executes one query in a one-shot transaction: the
// transaction kind is chosen from the clause and committed on success.
func (db *Database) Query(ctx context.Context, text string) (*query.Answer, error) {
	q, err := query.Parse(text)
	if err != nil {
		return nil, err
	}
	kind := ReadTx
	switch {
	case q.IsSchema():
		kind = SchemaTx
	case q.Insert != nil || q.Delete != nil:
		kind = WriteTx
	}
	t, err := db.Transaction(ctx, kind)
	if err != nil {
		return nil, err
	}
	defer t.Rollback()
	ans, err := t.Query(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := t.Commit(ctx); err != nil {
		return nil, err
	}
	return ans, nil
}

// Transaction is one unit of work against the database. It is not safe for
// concurrent use by multiple goroutines.
type Transaction struct {
	db    *Database
	kind  TxKind
	tx    *store.Tx // nil in schema transactions
	rules *rule.Set

	// schema transactions stage clauses here and install them at Commit
	stagedReg   *schema.Registry
	stagedRules *rule.Set
	stagedTexts []string

	closed bool
}

// Query parses and executes one query. Data clauses evaluate against this
// transaction's snapshot plus any facts the rule set derives from it; schema
// clauses are staged for Commit.
func (t *Transaction) Query(ctx context.Context, text string) (*query.Answer, error) {
	if t.closed {
		return nil, ErrTxClosed
	}
	start := time.Now()
	ctx, span := t.db.tracer.Start(ctx, "strata.query",
		trace.WithAttributes(attribute.Int("query.length", len(text))))
	defer span.End()

	_, parseSpan := t.db.tracer.Start(ctx, "strata.query.parse")
	q, err := query.Parse(text)
	parseSpan.End()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	t.db.queries.Add(ctx, 1)

	if q.IsSchema() {
		return t.stageSchema(span, text, q)
	}
	if t.kind == SchemaTx {
		return nil, fmt.Errorf("%w: data clause in a schema transaction", ErrTxKind)
	}

	if n := t.db.cfg.Parallelism; n > 0 {
		ctx = pattern.WithParallelism(ctx, n)
	}
	view := pattern.View(t.tx)
	if t.rules.Len() > 0 && q.Match != nil {
		inferCtx, inferSpan := t.db.tracer.Start(ctx, "strata.query.infer")
		v, err := t.rules.Infer(inferCtx, t.tx)
		if err != nil {
			inferSpan.End()
			span.RecordError(err)
			return nil, err
		}
		if n := rule.Derived(v); n > 0 {
			t.db.derived.Add(ctx, int64(n))
			inferSpan.SetAttributes(attribute.Int("inference.derived", n))
		}
		inferSpan.End()
		view = v
	}

	runCtx, runSpan := t.db.tracer.Start(ctx, "strata.query.run")
	ans, err := query.Run(runCtx, t.tx, view, q)
	runSpan.End()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if thr := t.db.cfg.GetSlowQuery(); thr > 0 {
		if elapsed := time.Since(start); elapsed > thr {
			t.db.logger.Warn("slow query", "elapsed", elapsed, "query", text)
		}
	}
	return ans, nil
}

// stageSchema applies a define or undefine clause to the transaction's staged
// registry and rule set. Later clauses in the same transaction see the effect
// immediately; the database does not until Commit.
func (t *Transaction) stageSchema(span trace.Span, text string, q *query.Query) (*query.Answer, error) {
	if t.kind != SchemaTx {
		return nil, fmt.Errorf("%w: schema clause in a data transaction", ErrTxKind)
	}
	reg, rules, err := applyClauses(t.stagedReg, t.stagedRules, q, t.db.store.HasInstances)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	t.stagedReg, t.stagedRules = reg, rules
	t.stagedTexts = append(t.stagedTexts, text)
	return &query.Answer{Kind: query.AnswerDone}, nil
}

// Commit installs the transaction's effects. Data commits are
// first-committer-wins: a conflicting concurrent commit surfaces as
// store.ErrWriteConflict and the caller retries with a fresh transaction.
// Schema commits re-apply the staged clauses against the then-current schema
// under the database lock, then journal them.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.closed {
		return ErrTxClosed
	}
	t.closed = true
	_, span := t.db.tracer.Start(ctx, "strata.commit")
	defer span.End()

	if t.kind != SchemaTx {
		if err := t.tx.Commit(); err != nil {
			span.RecordError(err)
			return err
		}
		return nil
	}

	db := t.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	reg := db.store.Registry()
	rules := db.rules
	for _, text := range t.stagedTexts {
		q, err := query.Parse(text)
		if err != nil {
			return err
		}
		reg, rules, err = applyClauses(reg, rules, q, db.store.HasInstances)
		if err != nil {
			span.RecordError(err)
			return err
		}
	}
	db.store.SetRegistry(reg)
	db.rules = rules
	if db.journal != nil {
		for _, text := range t.stagedTexts {
			if err := db.journal.AppendSchema(text); err != nil {
				return fmt.Errorf("strata: journal schema: %w", err)
			}
		}
	}
	return nil
}

// Rollback discards the transaction. Rolling back twice, or after Commit, is
// a no-op.
func (t *Transaction) Rollback() {
	if t.closed {
		return
	}
	t.closed = true
	if t.tx != nil {
		t.tx.Rollback()
	}
}

// applyClauses applies one parsed schema query to an immutable registry and
// rule set, returning the successors. hasInstances gates undefines of types
// that still have data.
func applyClauses(reg *schema.Registry, rules *rule.Set, q *query.Query,
	hasInstances func(label string) bool) (*schema.Registry, *rule.Set, error) {

	if q.Define != nil {
		defs := q.Define.Types
		if len(defs) > 0 {
			if err := query.ResolveKinds(reg, defs); err != nil {
				return nil, nil, err
			}
			next, err := reg.Define(defs)
			if err != nil {
				return nil, nil, err
			}
			reg = next
		}
		for _, r := range q.Define.Rules {
			next, err := rules.Define(reg, r)
			if err != nil {
				return nil, nil, err
			}
			rules = next
		}
	}

	if q.Undefine != nil {
		for _, label := range q.Undefine.Rules {
			next, err := rules.Undefine(reg, label)
			if err != nil {
				return nil, nil, err
			}
			rules = next
		}
		if len(q.Undefine.Types) > 0 {
			next, err := reg.Undefine(q.Undefine.Types, hasInstances)
			if err != nil {
				return nil, nil, err
			}
			reg = next
		}
	}
	return reg, rules, nil
}
