package strata_test

import (
	"context"
	"fmt"
	"log"

	"github.com/strata-db/strata"
	"github.com/strata-db/strata/query"
)

// Example shows the shortest path from an empty database to an answered
// query: define a schema, insert data, aggregate.
func Example() {
	db, err := strata.Open()
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	ctx := context.Background()

	queries := []string{
		`define
			name sub attribute, value string;
			person sub entity, owns name;`,
		`insert $p isa person; $p has name "Ada";
		 $q isa person; $q has name "Grace";`,
		`match $p isa person; get $p; count;`,
	}
	for _, q := range queries {
		ans, err := db.Query(ctx, q)
		if err != nil {
			log.Fatal(err)
		}
		if ans.Kind == query.AnswerValue {
			fmt.Println(ans.Val.AsInt())
		}
	}
	// Output: 2
}

// ExampleDatabase_Transaction groups several clauses into one atomic unit of
// work.
func ExampleDatabase_Transaction() {
	db, err := strata.Open()
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	ctx := context.Background()

	if _, err := db.Query(ctx, `define
		title sub attribute, value string;
		book sub entity, owns title;`); err != nil {
		log.Fatal(err)
	}

	tx, err := db.Transaction(ctx, strata.WriteTx)
	if err != nil {
		log.Fatal(err)
	}
	defer tx.Rollback()
	if _, err := tx.Query(ctx, `insert $b isa book; $b has title "Sketchpad";`); err != nil {
		log.Fatal(err)
	}
	if err := tx.Commit(ctx); err != nil {
		log.Fatal(err)
	}

	ans, err := db.Query(ctx, `match $b has title $t; get $t;`)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(ans.Rows[0]["$t"].Inst.Val.AsString())
	// Output: Sketchpad
}
