package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/strata-db/strata/schema"
	"github.com/strata-db/strata/value"
)

var (
	bucketCommits = []byte("commits")
	bucketSchema  = []byte("schema")
)

// Journal is an append-only commit log backed by bbolt. Data commits are
// stored as JSON-encoded primitive-op records keyed by state version; schema
// clauses are stored as raw query text in a separate bucket so the façade can
// re-apply them on open before the data records are replayed.
type Journal struct {
	db *bolt.DB
}

// OpenJournal opens (or creates) a journal file.
func OpenJournal(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open journal: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketCommits); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketSchema)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases the underlying file.
func (j *Journal) Close() error {
	return j.db.Close()
}

// journalOp is the serialized form of one primitive op.
type journalOp struct {
	Code   int             `json:"c"`
	IID    string          `json:"iid,omitempty"`
	Type   string          `json:"t,omitempty"`
	Kind   int             `json:"k,omitempty"`
	Val    *journalValue   `json:"v,omitempty"`
	Owner  string          `json:"o,omitempty"`
	Attr   string          `json:"a,omitempty"`
	Rel    string          `json:"r,omitempty"`
	Role   *schema.RoleRef `json:"role,omitempty"`
	Player string          `json:"p,omitempty"`
}

type journalValue struct {
	Kind int     `json:"k"`
	B    bool    `json:"b,omitempty"`
	I    int64   `json:"i,omitempty"`
	F    float64 `json:"f,omitempty"`
	S    string  `json:"s,omitempty"`
	T    int64   `json:"t,omitempty"` // unix millis
}

func encodeValue(v value.Value) *journalValue {
	if v.IsZero() {
		return nil
	}
	jv := &journalValue{Kind: int(v.Kind())}
	switch v.Kind() {
	case value.KindBoolean:
		jv.B = v.AsBool()
	case value.KindInteger:
		jv.I = v.AsInt()
	case value.KindDouble:
		jv.F = v.AsDouble()
	case value.KindString:
		jv.S = v.AsString()
	case value.KindDateTime:
		jv.T = v.AsDateTime().UnixMilli()
	}
	return jv
}

func decodeValue(jv *journalValue) (value.Value, error) {
	if jv == nil {
		return value.Value{}, nil
	}
	switch value.Kind(jv.Kind) {
	case value.KindBoolean:
		return value.Bool(jv.B), nil
	case value.KindInteger:
		return value.Int(jv.I), nil
	case value.KindDouble:
		return value.Double(jv.F), nil
	case value.KindString:
		return value.String(jv.S)
	case value.KindDateTime:
		return value.DateTime(time.UnixMilli(jv.T).UTC()), nil
	default:
		return value.Value{}, fmt.Errorf("store: journal value kind %d", jv.Kind)
	}
}

// Append writes one commit's change log under the given version.
func (j *Journal) Append(version uint64, log []op) error {
	records := make([]journalOp, 0, len(log))
	for _, o := range log {
		rec := journalOp{
			Code: int(o.Code), IID: o.IID, Type: o.Type, Kind: int(o.Kind),
			Val: encodeValue(o.Val), Owner: o.Owner, Attr: o.Attr,
			Rel: o.Rel, Player: o.Player,
		}
		if o.Role != (schema.RoleRef{}) {
			role := o.Role
			rec.Role = &role
		}
		records = append(records, rec)
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, version)
		return tx.Bucket(bucketCommits).Put(key, payload)
	})
}

// Replay invokes fn once per journaled commit, in version order, and returns
// the number of commits replayed.
func (j *Journal) Replay(fn func(log []op) error) (int, error) {
	n := 0
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCommits).ForEach(func(_, payload []byte) error {
			var records []journalOp
			if err := json.Unmarshal(payload, &records); err != nil {
				return err
			}
			log := make([]op, 0, len(records))
			for _, rec := range records {
				v, err := decodeValue(rec.Val)
				if err != nil {
					return err
				}
				o := op{
					Code: opCode(rec.Code), IID: rec.IID, Type: rec.Type,
					Kind: schema.TypeKind(rec.Kind), Val: v, Owner: rec.Owner,
					Attr: rec.Attr, Rel: rec.Rel, Player: rec.Player,
				}
				if rec.Role != nil {
					o.Role = *rec.Role
				}
				log = append(log, o)
			}
			if err := fn(log); err != nil {
				return err
			}
			n++
			return nil
		})
	})
	return n, err
}

// AppendSchema records one schema clause's query text. The façade replays
// schema text before data commits when reopening a journaled database.
func (j *Journal) AppendSchema(text string) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchema)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, []byte(text))
	})
}

// EachSchema invokes fn once per recorded schema clause, in order.
func (j *Journal) EachSchema(fn func(text string) error) error {
	return j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSchema).ForEach(func(_, text []byte) error {
			return fn(string(text))
		})
	})
}
