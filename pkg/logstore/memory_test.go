package logstore

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestMemoryAppendCreatesAndGrows(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	runID := uuid.New()

	size, err := store.Append(ctx, runID, []byte("hello "))
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if size != 6 {
		t.Fatalf("expected size 6, got %d", size)
	}

	size, err = store.Append(ctx, runID, []byte("world"))
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if size != 11 {
		t.Fatalf("expected size 11, got %d", size)
	}

	data, err := store.Read(ctx, runID)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("unexpected data %q", data)
	}
}

func TestMemoryAbsentRun(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	runID := uuid.New()

	data, err := store.Read(ctx, runID)
	if err != nil || len(data) != 0 {
		t.Fatalf("expected empty read, got %q err=%v", data, err)
	}

	size, err := store.Size(ctx, runID)
	if err != nil || size != 0 {
		t.Fatalf("expected zero size, got %d err=%v", size, err)
	}

	if _, ok, err := store.Get(ctx, runID); ok || err != nil {
		t.Fatalf("expected no record, got ok=%v err=%v", ok, err)
	}
}

func TestMemoryConcurrentAppendTotality(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	runID := uuid.New()

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	chunks := make([][]byte, 0, writers*perWriter)
	var chunksMu sync.Mutex

	total := 0
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				chunk := []byte(fmt.Sprintf("|w%d-c%03d|", w, i))
				if _, err := store.Append(ctx, runID, chunk); err != nil {
					t.Errorf("append failed: %v", err)
					return
				}
				chunksMu.Lock()
				chunks = append(chunks, chunk)
				chunksMu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	for _, chunk := range chunks {
		total += len(chunk)
	}

	size, err := store.Size(ctx, runID)
	if err != nil {
		t.Fatalf("size failed: %v", err)
	}
	if size != total {
		t.Fatalf("expected total size %d, got %d", total, size)
	}

	data, err := store.Read(ctx, runID)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(data) != total {
		t.Fatalf("expected %d bytes, got %d", total, len(data))
	}
	// Appends are atomic: every chunk must appear contiguously.
	for _, chunk := range chunks {
		if !bytes.Contains(data, chunk) {
			t.Fatalf("chunk %q missing or interleaved", chunk)
		}
	}
}

func TestMemoryReadReturnsCopy(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	runID := uuid.New()

	if _, err := store.Append(ctx, runID, []byte("abc")); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	data, _ := store.Read(ctx, runID)
	data[0] = 'x'

	again, _ := store.Read(ctx, runID)
	if string(again) != "abc" {
		t.Fatalf("store mutated through read slice: %q", again)
	}
}
