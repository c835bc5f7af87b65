// File: buffer/buffer_test.go

package buffer

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestByteBufferAppendAndLen(t *testing.T) {
	b := New()
	if b.Len() != 0 {
		t.Fatalf("new buffer Len = %d, want 0", b.Len())
	}
	b.Append([]byte("hello"))
	b.Append([]byte(" world"))
	if got := string(b.Bytes()); got != "hello world" {
		t.Fatalf("Bytes = %q, want %q", got, "hello world")
	}
	if b.Len() != 11 {
		t.Fatalf("Len = %d, want 11", b.Len())
	}
}

func TestByteBufferReset(t *testing.T) {
	b := NewSize(64)
	b.Append([]byte("data"))
	b.Reset()
	if b.Len() != 0 {
		t.Fatalf("Len after Reset = %d, want 0", b.Len())
	}
	b.Append([]byte("again"))
	if got := string(b.Bytes()); got != "again" {
		t.Fatalf("Bytes after reuse = %q, want %q", got, "again")
	}
}

func TestByteBufferDiscard(t *testing.T) {
	cases := []struct {
		name    string
		initial string
		n       int
		want    string
	}{
		{"prefix", "abcdef", 2, "cdef"},
		{"all", "abcdef", 6, ""},
		{"over", "abcdef", 100, ""},
		{"zero", "abcdef", 0, "abcdef"},
		{"negative", "abcdef", -3, "abcdef"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := New()
			b.Append([]byte(tc.initial))
			b.Discard(tc.n)
			if got := string(b.Bytes()); got != tc.want {
				t.Fatalf("Discard(%d) left %q, want %q", tc.n, got, tc.want)
			}
		})
	}
}

// Interleaved appends and discards must behave like a FIFO byte queue.
func TestByteBufferFIFOProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	b := New()
	var model []byte
	next := byte(0)

	for i := 0; i < 2000; i++ {
		if rng.Intn(2) == 0 {
			n := rng.Intn(17)
			chunk := make([]byte, n)
			for j := range chunk {
				chunk[j] = next
				next++
			}
			b.Append(chunk)
			model = append(model, chunk...)
		} else {
			n := rng.Intn(9)
			b.Discard(n)
			if n >= len(model) {
				model = model[:0]
			} else {
				model = model[n:]
			}
		}
		if !bytes.Equal(b.Bytes(), model) {
			t.Fatalf("step %d: buffer diverged from model (%d vs %d bytes)", i, b.Len(), len(model))
		}
	}
}

func TestChunkPool(t *testing.T) {
	p := NewChunkPool(256)
	if p.ChunkSize() != 256 {
		t.Fatalf("ChunkSize = %d, want 256", p.ChunkSize())
	}
	c := p.Get()
	if len(c) != 256 {
		t.Fatalf("Get returned %d bytes, want 256", len(c))
	}
	p.Put(c)
	p.Put(make([]byte, 10)) // wrong size, silently dropped
	c2 := p.Get()
	if len(c2) != 256 {
		t.Fatalf("Get after Put returned %d bytes, want 256", len(c2))
	}
}
