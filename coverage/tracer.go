// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package coverage

// Tracer turns the sequence of executed locations into map updates.
// It holds the previous location (or the n-gram context) of one process.
// Instrumented goroutines share one Tracer without locking. Concurrent
// Record calls may lose counter increments or context updates, which
// coverage feedback tolerates, but never index outside the map or the ring.
type Tracer struct {
	area []byte
	mask uint32
	bits uint8

	// prev is the pre-shifted previous location, used when ngram is nil.
	prev uint32
	// ngram holds the last ngramSize-1 pre-shifted locations.
	ngram []uint32
	head  int
}

// NewTracer returns a tracer updating m with the given n-gram size.
func NewTracer(m *Map, ngramSize int) (*Tracer, error) {
	t := &Tracer{
		area: m.Bytes(),
		mask: uint32(m.Len() - 1),
		bits: m.SizeBits(),
	}
	if err := t.SetNgramSize(ngramSize); err != nil {
		return nil, err
	}
	return t, nil
}

// SetNgramSize switches between single previous-location hashing (0 or 1)
// and n-gram hashing (2..MaxNgramSize). The context is reset.
func (t *Tracer) SetNgramSize(n int) error {
	if err := ValidateNgramSize(n); err != nil {
		return err
	}
	t.ngram = nil
	if n > 1 {
		t.ngram = make([]uint32, n-1)
	}
	t.Reset()
	return nil
}

// NgramSize reports the configured n-gram size, 0 when it is disabled.
func (t *Tracer) NgramSize() int {
	if t.ngram == nil {
		return 0
	}
	return len(t.ngram) + 1
}

// Reset forgets the previous locations.
func (t *Tracer) Reset() {
	t.prev = 0
	t.head = 0
	for i := range t.ngram {
		t.ngram[i] = 0
	}
}

// Record notes that location loc executed.
// loc should carry its entropy in the low map-width bits. Higher bits only
// reach the map through the stored context and are kept there unmasked.
func (t *Tracer) Record(loc uint32) {
	ctx := t.prev
	if t.ngram != nil {
		ctx = 0
		for _, v := range t.ngram {
			ctx ^= v
		}
	}
	slot := (loc ^ ctx) & t.mask
	// Never wrap: a hit location must not look untouched.
	if v := t.area[slot]; v != 0xff {
		t.area[slot] = v + 1
	}
	next := loc >> 1
	if t.ngram == nil {
		t.prev = next
		return
	}
	// head is shared with other goroutines; only ever index with a checked copy.
	h := t.head
	if h < 0 || h >= len(t.ngram) {
		h = 0
	}
	t.ngram[h] = next
	h++
	if h == len(t.ngram) {
		h = 0
	}
	t.head = h
}

// Hit records the location identified by a source line and offset.
func (t *Tracer) Hit(line, offset uint32) {
	t.Record(LocationID(line, offset, t.bits))
}

// LocationID hashes a (line, offset) pair into a location of the given map
// width by keeping the top bits of a modular multiplication.
// Distinct pairs may alias.
func LocationID(line, offset uint32, bits uint8) uint32 {
	// avoid zero multiplication
	if line == 0 {
		line = ^uint32(0)
	}
	if offset == 0 {
		offset = ^uint32(0)
	}
	state := uint32(hashPrime)
	state *= line
	state *= offset
	return state >> (32 - bits)
}
