// Package tagset implements tag-set membership testing for one search.
//
// Tags are short opaque strings (see the glossary). Rather than compare tag
// strings directly for every scanned record, each Search call interns the
// tags it encounters into small integer term IDs and represents a record's
// tag set as a roaring.Bitmap; the filter-superset test from the query
// engine's contract ("a record is admissible iff its tag set is a superset
// of the filter") becomes a single bitmap AND plus a cardinality compare
// instead of an O(|filter| * |tags|) string comparison.
//
// A Dictionary is scoped to one Search call. It is not persisted and holds
// no record data — only the tag vocabulary seen during that call — so it
// does not reintroduce the in-memory record cache the store's design
// explicitly forbids.
package tagset

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// Dictionary interns tag strings to term IDs for the lifetime of one query.
type Dictionary struct {
	ids  map[string]uint32
	next uint32
}

// NewDictionary returns an empty Dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{ids: make(map[string]uint32)}
}

// intern returns the term ID for tag, assigning a new one if unseen.
func (d *Dictionary) intern(tag string) uint32 {
	if id, ok := d.ids[tag]; ok {
		return id
	}
	id := d.next
	d.next++
	d.ids[tag] = id
	return id
}

// Bitmap interns every tag in tags and returns the resulting set of term
// IDs as a roaring bitmap.
func (d *Dictionary) Bitmap(tags []string) *roaring.Bitmap {
	bm := roaring.New()
	for _, t := range tags {
		bm.Add(d.intern(t))
	}
	return bm
}

// Filter is a compiled tag requirement built once per Search call and
// tested against every scanned record's tag set.
type Filter struct {
	dict     *Dictionary
	required *roaring.Bitmap
}

// NewFilter compiles requiredTags into a Filter. An empty requiredTags
// admits every record (see Admits).
func NewFilter(dict *Dictionary, requiredTags []string) *Filter {
	return &Filter{
		dict:     dict,
		required: dict.Bitmap(requiredTags),
	}
}

// Admits reports whether recordTags is a superset of the filter's required
// tags. An empty filter admits everything.
func (f *Filter) Admits(recordTags []string) bool {
	if f.required.IsEmpty() {
		return true
	}
	record := f.dict.Bitmap(recordTags)
	return f.required.AndCardinality(record) == f.required.GetCardinality()
}
