// Package sequence allocates sequential document numbers. Every access key
// embeds a (establishment, emission point, sequential) triple that must never
// repeat for a document type, so allocation is serialized per tuple and the
// pipeline never increments counters on its own.
package sequence

import (
	"context"
	"fmt"
	"sync"

	"github.com/facturex/sri-pipeline/internal/model"
)

// SequentialDigits is the fixed width of the sequential slot.
const SequentialDigits = 9

const maxSequential = 999999999

// Allocator hands out the next sequential number for a document series.
// Implementations must guarantee at-most-one allocation of any given
// (establishment, point, docType, number) tuple under concurrency.
type Allocator interface {
	AllocateNext(ctx context.Context, establishment, point, docType string) (string, error)
}

// MemoryAllocator keeps counters in process memory. Suitable for tests and
// single-process deployments; a production deployment backs this interface
// with a transactional store.
type MemoryAllocator struct {
	mu       sync.Mutex
	counters map[string]uint64
}

// NewMemoryAllocator creates an allocator with all series starting at 1.
func NewMemoryAllocator() *MemoryAllocator {
	return &MemoryAllocator{counters: make(map[string]uint64)}
}

// AllocateNext returns the next zero-padded sequential for the series.
func (a *MemoryAllocator) AllocateNext(ctx context.Context, establishment, point, docType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key := establishment + ":" + point + ":" + docType

	a.mu.Lock()
	defer a.mu.Unlock()

	next := a.counters[key] + 1
	if next > maxSequential {
		return "", model.NewHeaderError("secuencial", next,
			fmt.Sprintf("series %s exhausted", key))
	}
	a.counters[key] = next

	return fmt.Sprintf("%0*d", SequentialDigits, next), nil
}

// Seed positions a series so the next allocation returns last+1. Used when
// resuming from an externally persisted counter.
func (a *MemoryAllocator) Seed(establishment, point, docType string, last uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counters[establishment+":"+point+":"+docType] = last
}
