// Package chunkstate keeps chunk-scoped random material alive across upload retries.
package chunkstate

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
)

// MaxHexRandomLength is the longest supported `%{hex_random}` value.
const MaxHexRandomLength = 16

// Table maps chunk ids to their random hex suffix. Entries are created on first use and
// removed once the chunk is durably stored. It is safe for concurrent use.
type Table struct {
	mu      sync.Mutex
	entries map[string]string
}

// New returns an empty table.
func New() *Table {
	return &Table{entries: map[string]string{}}
}

// GetOrCreate returns the random hex string of the chunk, deriving it on the first call.
// length is clamped to 1..MaxHexRandomLength.
func (t *Table) GetOrCreate(chunkID []byte, length int) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if value, ok := t.entries[string(chunkID)]; ok {
		return value
	}

	value := derive(chunkID, clamp(length))
	t.entries[string(chunkID)] = value
	return value
}

// Remove forgets the chunk. Removing an unknown chunk is a no-op.
func (t *Table) Remove(chunkID []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.entries, string(chunkID))
}

// Len returns the number of chunks in flight.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.entries)
}

func clamp(length int) int {
	if length < 1 {
		return 1
	}
	if length > MaxHexRandomLength {
		return MaxHexRandomLength
	}
	return length
}

// derive reverses the hex form of the chunk id: unique ids usually start with a
// timestamp, so their tail carries the entropy.
func derive(chunkID []byte, length int) string {
	encoded := []byte(hex.EncodeToString(chunkID))
	for i, j := 0, len(encoded)-1; i < j; i, j = i+1, j-1 {
		encoded[i], encoded[j] = encoded[j], encoded[i]
	}

	if len(encoded) < length {
		encoded = append(encoded, randomHex(length-len(encoded))...)
	}
	return string(encoded[:length])
}

func randomHex(n int) []byte {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the OS entropy source is unavailable
		panic(err)
	}
	return []byte(hex.EncodeToString(buf))[:n]
}
