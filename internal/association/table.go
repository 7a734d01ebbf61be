package association

import (
	"sort"

	"github.com/sells-group/crm-migrate/internal/model"
)

// Table holds association records keyed by natural key. Putting a record whose key is
// already present replaces it in place, so repeated resolution never duplicates rows.
// A Table is not safe for concurrent writers.
type Table struct {
	pos  map[model.AssociationKey]int
	rows []model.AssociationRecord
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{pos: make(map[model.AssociationKey]int)}
}

// Put inserts r or replaces the record with the same key. It reports whether r was new.
func (t *Table) Put(r model.AssociationRecord) bool {
	k := r.Key()
	if i, ok := t.pos[k]; ok {
		t.rows[i] = r
		return false
	}
	t.pos[k] = len(t.rows)
	t.rows = append(t.rows, r)
	return true
}

// PutAll puts every record in order.
func (t *Table) PutAll(rs []model.AssociationRecord) {
	for _, r := range rs {
		t.Put(r)
	}
}

// Get returns the record stored under k.
func (t *Table) Get(k model.AssociationKey) (model.AssociationRecord, bool) {
	i, ok := t.pos[k]
	if !ok {
		return model.AssociationRecord{}, false
	}
	return t.rows[i], true
}

// Len returns the number of distinct keys.
func (t *Table) Len() int {
	return len(t.rows)
}

// Records returns a copy of the records in first-insertion order.
func (t *Table) Records() []model.AssociationRecord {
	out := make([]model.AssociationRecord, len(t.rows))
	copy(out, t.rows)
	return out
}

// Sorted returns a copy of the records ordered by natural key.
func (t *Table) Sorted() []model.AssociationRecord {
	out := t.Records()
	sort.Slice(out, func(i, j int) bool { return Less(out[i].Key(), out[j].Key()) })
	return out
}

// CountByStatus returns the number of records per resolution status.
func (t *Table) CountByStatus() map[model.AssociationStatus]int {
	out := make(map[model.AssociationStatus]int)
	for _, r := range t.rows {
		out[r.Status]++
	}
	return out
}

// Less orders natural keys by source entity, source id, then target entity.
func Less(a, b model.AssociationKey) bool {
	if a.SourceEntity != b.SourceEntity {
		return a.SourceEntity < b.SourceEntity
	}
	if a.SourceID != b.SourceID {
		return a.SourceID < b.SourceID
	}
	return a.TargetEntity < b.TargetEntity
}
