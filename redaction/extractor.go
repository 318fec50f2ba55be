package redaction

import (
	"bytes"
	"net/http"
	"slices"
	"sort"
	"strings"

	"tlsn-notary/shared"
)

// Header is a single (name, value) metadata pair. Names are lower-case, the
// way HTTP/1 field names appear in the metadata representation we match on.
type Header struct {
	Name  string
	Value []byte
}

// HeadersFromHTTP flattens an http.Header into one pair per value. Names are
// lower-cased and emitted in sorted order so extraction is deterministic.
func HeadersFromHTTP(h http.Header) []Header {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Header
	for _, name := range names {
		lower := strings.ToLower(name)
		for _, v := range h[name] {
			out = append(out, Header{Name: lower, Value: []byte(v)})
		}
	}
	return out
}

// PrivateDataSet is an append-only set of byte sequences that must never be
// disclosed. Entries are deduplicated by exact byte equality.
type PrivateDataSet struct {
	direction shared.Direction
	values    [][]byte
}

// NewPrivateDataSet creates an empty set for one transcript direction
func NewPrivateDataSet(direction shared.Direction) *PrivateDataSet {
	return &PrivateDataSet{direction: direction}
}

// Direction returns the transcript direction this set belongs to
func (s *PrivateDataSet) Direction() shared.Direction {
	return s.direction
}

// Add appends value unless an identical entry already exists. It returns
// true when the set grew.
func (s *PrivateDataSet) Add(value []byte) bool {
	if s.Contains(value) {
		return false
	}
	s.values = append(s.values, bytes.Clone(value))
	return true
}

// Contains reports whether an identical byte sequence is in the set
func (s *PrivateDataSet) Contains(value []byte) bool {
	return slices.ContainsFunc(s.values, func(v []byte) bool {
		return bytes.Equal(v, value)
	})
}

// Len returns the number of distinct entries
func (s *PrivateDataSet) Len() int {
	return len(s.values)
}

// Values returns copies of the entries in insertion order
func (s *PrivateDataSet) Values() [][]byte {
	out := make([][]byte, len(s.values))
	for i, v := range s.values {
		out[i] = bytes.Clone(v)
	}
	return out
}

// ExtractPrivateData appends to set the value of every header whose name is
// one of topics. Matching is exact string equality on the (lower-case)
// header name. It returns the number of entries added.
func ExtractPrivateData(set *PrivateDataSet, headers []Header, topics []string) int {
	added := 0
	for _, h := range headers {
		if !slices.Contains(topics, h.Name) {
			continue
		}
		if set.Add(h.Value) {
			added++
		}
	}
	return added
}
