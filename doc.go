// Package strata is a typed knowledge-graph database: entities, n-ary
// relations, and deduplicated attribute values typed by a subtyping schema,
// queried through one declarative text language.
//
// # Core Concepts
//
// The database is organized around several key concepts:
//
//   - Schema: type definitions (entity, relation, attribute) with single
//     inheritance, ownership, and role declarations
//   - Instances: immutable-identity entities, relations, and attribute
//     nodes stored in versioned snapshots
//   - Queries: define/undefine schema clauses and match pipelines with
//     insert, delete, update, fetch, get, modifiers, and aggregates
//   - Rules: when/then implications forward-chained to a fixpoint at read
//     time, stratified over negation
//   - Transactions: snapshot-isolated reads, first-committer-wins writes,
//     atomic schema changes
//
// # Getting Started
//
// Open a database and issue queries:
//
//	import "github.com/strata-db/strata"
//
//	db, err := strata.Open(strata.WithJournalPath("commits.db"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	_, err = db.Query(ctx, `define
//	    name sub attribute, value string;
//	    person sub entity, owns name;`)
//
// Multi-clause work runs inside an explicit transaction:
//
//	tx, err := db.Transaction(ctx, strata.WriteTx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tx.Rollback()
//	if _, err := tx.Query(ctx, `insert $p isa person; $p has name "Ada";`); err != nil {
//	    log.Fatal(err)
//	}
//	if err := tx.Commit(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Error Handling
//
// Errors are sentinel values wrapped with context; check them with
// errors.Is:
//
//	if errors.Is(err, store.ErrWriteConflict) {
//	    // retry with a fresh transaction
//	}
//
// # Observability
//
// Queries are traced with OpenTelemetry spans (parse, infer, run, commit)
// and counted with otel metrics; inject a tracer with WithTracer.
//
// # Thread Safety
//
// Database methods are safe for concurrent use. A Transaction belongs to one
// goroutine.
package strata
