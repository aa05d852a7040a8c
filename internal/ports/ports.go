package ports

import (
	"errors"
	"fmt"
	"sync"
)

// DefaultWindowSize is the number of consecutive ports a server pool
// requests when no explicit count is given.
const DefaultWindowSize = 3

var ErrRangeExhausted = errors.New("port range exhausted")

type Allocator struct {
	min      int
	max      int
	mu       sync.Mutex
	lastUsed int
}

func NewAllocator(min, max int) (*Allocator, error) {
	if min < 1 || max > 65535 || min > max {
		return nil, fmt.Errorf("invalid port range %d-%d", min, max)
	}

	return &Allocator{min: min, max: max}, nil
}

// Allocate returns count consecutive ports strictly above every port
// returned by a previous call on this allocator. It fails instead of
// shrinking the window when the remaining range cannot fit count ports.
// There is no coordination between allocators or processes sharing a
// range; collisions across processes are an accepted limitation.
func (a *Allocator) Allocate(count int) ([]int, error) {
	if count < 1 {
		return nil, fmt.Errorf("invalid port count %d", count)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	start := max(a.lastUsed+1, a.min)
	end := start + count - 1
	if end > a.max {
		return nil, fmt.Errorf(
			"allocating %d ports from range %d-%d (last used %d): %w",
			count, a.min, a.max, a.lastUsed, ErrRangeExhausted,
		)
	}

	ports := make([]int, 0, count)
	for port := start; port <= end; port++ {
		ports = append(ports, port)
	}
	a.lastUsed = end

	return ports, nil
}
