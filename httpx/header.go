package httpx

import (
	"net/textproto"
	"strings"

	"golang.org/x/net/http/httpguts"

	"dqx0.com/go/httpwire/httpx/internal/http1"
)

// Header is an ordered, case-insensitive multi-value header store.
//
// Names are kept in canonical MIME form for encoding and matched by their
// lower-case form. Iteration and encoding follow insertion order. Repeated
// fields such as Set-Cookie stay separate values. Reads on a nil *Header
// behave as on an empty one.
type Header struct {
	fields []headerField
	index  map[string][]int // lower-case name -> positions in fields
}

type headerField struct {
	key   string
	name  string
	value string
}

// NewHeader returns an empty Header.
func NewHeader() *Header {
	return &Header{index: make(map[string][]int)}
}

func headerKey(name string) string {
	return strings.ToLower(name)
}

// Set replaces every value stored under any case of name with value.
func (h *Header) Set(name, value string) {
	key := headerKey(name)
	pos := h.index[key]
	if len(pos) == 0 {
		h.Add(name, value)
		return
	}
	first := pos[0]
	h.fields[first] = headerField{key: key, name: textproto.CanonicalMIMEHeaderKey(name), value: value}
	if len(pos) > 1 {
		drop := make(map[int]bool, len(pos)-1)
		for _, i := range pos[1:] {
			drop[i] = true
		}
		kept := h.fields[:0]
		for i, f := range h.fields {
			if !drop[i] {
				kept = append(kept, f)
			}
		}
		h.fields = kept
		h.reindex()
	}
}

// Add appends value under name without touching existing values.
func (h *Header) Add(name, value string) {
	if h.index == nil {
		h.index = make(map[string][]int)
	}
	key := headerKey(name)
	h.fields = append(h.fields, headerField{key: key, name: textproto.CanonicalMIMEHeaderKey(name), value: value})
	h.index[key] = append(h.index[key], len(h.fields)-1)
}

// Get returns the first value stored under name, or "".
func (h *Header) Get(name string) string {
	v, _ := h.Lookup(name)
	return v
}

// Lookup returns the first value stored under name and whether one exists.
func (h *Header) Lookup(name string) (string, bool) {
	if h == nil {
		return "", false
	}
	pos := h.index[headerKey(name)]
	if len(pos) == 0 {
		return "", false
	}
	return h.fields[pos[0]].value, true
}

// Values returns every value stored under name in insertion order.
func (h *Header) Values(name string) []string {
	if h == nil {
		return nil
	}
	pos := h.index[headerKey(name)]
	if len(pos) == 0 {
		return nil
	}
	vv := make([]string, len(pos))
	for i, p := range pos {
		vv[i] = h.fields[p].value
	}
	return vv
}

// Has reports whether any value is stored under name.
func (h *Header) Has(name string) bool {
	_, ok := h.Lookup(name)
	return ok
}

// HasToken reports whether the comma-separated values of name contain
// token, compared case-insensitively (e.g. Connection: keep-alive, close).
func (h *Header) HasToken(name, token string) bool {
	return httpguts.HeaderValuesContainsToken(h.Values(name), token)
}

// Del removes every value stored under any case of name.
func (h *Header) Del(name string) {
	if h == nil {
		return
	}
	key := headerKey(name)
	if len(h.index[key]) == 0 {
		return
	}
	kept := h.fields[:0]
	for _, f := range h.fields {
		if f.key != key {
			kept = append(kept, f)
		}
	}
	h.fields = kept
	h.reindex()
}

// Len returns the number of stored (name, value) pairs.
func (h *Header) Len() int {
	if h == nil {
		return 0
	}
	return len(h.fields)
}

// Each calls fn for every pair in insertion order.
func (h *Header) Each(fn func(name, value string)) {
	if h == nil {
		return
	}
	for _, f := range h.fields {
		fn(f.name, f.value)
	}
}

// Clone returns a deep copy of h.
func (h *Header) Clone() *Header {
	c := NewHeader()
	h.Each(c.Add)
	return c
}

// Equal reports whether h and o hold the same pairs in the same order,
// ignoring name case.
func (h *Header) Equal(o *Header) bool {
	if h.Len() != o.Len() {
		return false
	}
	for i := 0; i < h.Len(); i++ {
		a, b := h.fields[i], o.fields[i]
		if a.key != b.key || a.value != b.value {
			return false
		}
	}
	return true
}

func (h *Header) reindex() {
	h.index = make(map[string][]int, len(h.fields))
	for i, f := range h.fields {
		h.index[f.key] = append(h.index[f.key], i)
	}
}

func (h *Header) wire() []http1.Field {
	if h == nil {
		return nil
	}
	fields := make([]http1.Field, len(h.fields))
	for i, f := range h.fields {
		fields[i] = http1.Field{Name: f.name, Value: f.value}
	}
	return fields
}

func headerFromWire(fields []http1.Field) *Header {
	h := NewHeader()
	for _, f := range fields {
		h.Add(f.Name, f.Value)
	}
	return h
}
