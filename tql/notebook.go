// Package tql ships canned schema documents for the research-notebook model:
// an identifiable-entity root with separate content and real-world hierarchies,
// collections, vocabulary facets, and the relations that tie them together.
// The engine itself is model-agnostic; this package is data.
package tql

import (
	"context"

	"github.com/strata-db/strata"
)

// Notebook is the notebook model schema. Load applies it; applying it to a
// database that already carries it is a no-op.
const Notebook = `define
	# identity, shared by everything addressable
	id sub attribute, value string;
	name sub attribute, value string;
	description sub attribute, value string;
	iri sub attribute, value string;
	created-at sub attribute, value datetime;
	updated-at sub attribute, value datetime;
	provenance sub attribute, value string;
	source-uri sub attribute, value string;
	license sub attribute, value string;

	# content and measurement
	content sub attribute, value string;
	content-hash sub attribute, value string;
	format sub attribute, value string;
	size-in-bytes sub attribute, value long;
	word-count sub attribute, value long;
	offset sub attribute, value long;
	length sub attribute, value long;
	confidence sub attribute, value double;
	is-extensional sub attribute, value boolean;
	logical-query sub attribute, value string;
	agent-type sub attribute, value string;
	model-name sub attribute, value string;
	schema-org-uri sub attribute, value string;
	wikidata-qid sub attribute, value string;

	identifiable-entity sub entity, abstract,
		owns id @key, owns name, owns description, owns iri,
		owns created-at, owns updated-at, owns provenance,
		owns source-uri, owns license;

	# things in the world, as opposed to content about them
	domain-thing sub identifiable-entity,
		plays representation:referent,
		plays aboutness:subject,
		plays classification:classified,
		plays tagging:tagged,
		plays collection-membership:member,
		plays derivation:source, plays derivation:derived,
		plays evidence-chain:supporting, plays evidence-chain:supported;

	collection sub identifiable-entity,
		owns is-extensional, owns logical-query,
		plays collection-membership:collection,
		plays collection-nesting:parent, plays collection-nesting:child,
		plays tagging:tagged;

	information-content-entity sub identifiable-entity, abstract,
		owns content, owns content-hash, owns format,
		owns size-in-bytes, owns word-count,
		plays aboutness:subject,
		plays classification:classified,
		plays tagging:tagged,
		plays collection-membership:member,
		plays provenance-record:generated,
		plays derivation:source, plays derivation:derived,
		plays evidence-chain:supporting, plays evidence-chain:supported,
		plays authorship:work;

	artifact sub information-content-entity,
		plays representation:artifact,
		plays fragmentation:whole;

	fragment sub information-content-entity,
		owns offset, owns length,
		plays fragmentation:part;

	note sub information-content-entity,
		owns confidence,
		plays aboutness:note,
		plays note-threading:parent-note, plays note-threading:child-note;

	agent sub identifiable-entity,
		owns agent-type, owns model-name,
		plays authorship:author,
		plays provenance-record:generator;
	contact sub agent;
	author sub contact;

	# vocabulary facets used for classification
	vocabulary sub identifiable-entity;
	vocabulary-type sub identifiable-entity,
		owns schema-org-uri, owns wikidata-qid,
		plays classification:facet;
	tag sub identifiable-entity,
		plays tagging:tag;

	collection-membership sub relation, owns created-at,
		relates collection, relates member;
	collection-nesting sub relation,
		relates parent, relates child;
	representation sub relation,
		relates artifact, relates referent;
	fragmentation sub relation,
		relates whole, relates part;
	aboutness sub relation,
		relates note, relates subject;
	classification sub relation, owns confidence,
		relates classified, relates facet;
	tagging sub relation,
		relates tagged, relates tag;
	authorship sub relation,
		relates author, relates work;
	note-threading sub relation,
		relates parent-note, relates child-note;
	provenance-record sub relation, owns created-at,
		relates generated, relates generator;
	evidence-chain sub relation, owns confidence,
		relates supporting, relates supported;
	derivation sub relation,
		relates source, relates derived;`

// Load applies the notebook schema to the database.
func Load(ctx context.Context, db *strata.Database) error {
	_, err := db.Query(ctx, Notebook)
	return err
}
