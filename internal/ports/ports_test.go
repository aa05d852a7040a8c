package ports

import (
	"errors"
	"testing"
)

func TestNewAllocator(t *testing.T) {
	t.Run("valid_range", func(t *testing.T) {
		if _, err := NewAllocator(12220, 12399); err != nil {
			t.Errorf("err = %v, want nil", err)
		}
	})

	t.Run("single_port_range", func(t *testing.T) {
		if _, err := NewAllocator(12220, 12220); err != nil {
			t.Errorf("err = %v, want nil", err)
		}
	})

	t.Run("inverted_range", func(t *testing.T) {
		if _, err := NewAllocator(12399, 12220); err == nil {
			t.Error("err = nil, want error")
		}
	})

	t.Run("min_below_one", func(t *testing.T) {
		if _, err := NewAllocator(0, 12399); err == nil {
			t.Error("err = nil, want error")
		}
	})

	t.Run("max_above_port_space", func(t *testing.T) {
		if _, err := NewAllocator(12220, 70000); err == nil {
			t.Error("err = nil, want error")
		}
	})
}

func TestAllocate(t *testing.T) {
	t.Run("returns_requested_count_from_range_start", func(t *testing.T) {
		alloc, err := NewAllocator(12220, 12399)
		if err != nil {
			t.Fatalf("failed to create allocator: %v", err)
		}

		ports, err := alloc.Allocate(3)
		if err != nil {
			t.Fatalf("failed to allocate: %v", err)
		}
		if len(ports) != 3 {
			t.Fatalf("len(ports) = %d, want %d", len(ports), 3)
		}
		for i, want := range []int{12220, 12221, 12222} {
			if ports[i] != want {
				t.Errorf("ports[%d] = %d, want %d", i, ports[i], want)
			}
		}
	})

	t.Run("windows_never_overlap", func(t *testing.T) {
		alloc, err := NewAllocator(12220, 12399)
		if err != nil {
			t.Fatalf("failed to create allocator: %v", err)
		}

		highest := 0
		for call := 0; call < 5; call++ {
			ports, err := alloc.Allocate(3)
			if err != nil {
				t.Fatalf("call %d: failed to allocate: %v", call, err)
			}
			for _, port := range ports {
				if port <= highest {
					t.Errorf("call %d: port %d not above previous high mark %d", call, port, highest)
				}
				if port < 12220 || port > 12399 {
					t.Errorf("call %d: port %d outside range", call, port)
				}
				highest = port
			}
		}
	})

	t.Run("varying_counts_stay_monotonic", func(t *testing.T) {
		alloc, err := NewAllocator(12220, 12399)
		if err != nil {
			t.Fatalf("failed to create allocator: %v", err)
		}

		highest := 0
		for _, count := range []int{1, 3, 2, 5} {
			ports, err := alloc.Allocate(count)
			if err != nil {
				t.Fatalf("failed to allocate %d ports: %v", count, err)
			}
			if len(ports) != count {
				t.Fatalf("len(ports) = %d, want %d", len(ports), count)
			}
			for _, port := range ports {
				if port <= highest {
					t.Errorf("port %d not above previous high mark %d", port, highest)
				}
				highest = port
			}
		}
	})

	t.Run("exhaustion_is_an_error", func(t *testing.T) {
		alloc, err := NewAllocator(12220, 12224)
		if err != nil {
			t.Fatalf("failed to create allocator: %v", err)
		}

		if _, err := alloc.Allocate(5); err != nil {
			t.Fatalf("failed to allocate full range: %v", err)
		}
		if _, err := alloc.Allocate(1); !errors.Is(err, ErrRangeExhausted) {
			t.Errorf("err = %v, want %v", err, ErrRangeExhausted)
		}
	})

	t.Run("no_silent_truncation", func(t *testing.T) {
		alloc, err := NewAllocator(12220, 12222)
		if err != nil {
			t.Fatalf("failed to create allocator: %v", err)
		}

		if _, err := alloc.Allocate(5); !errors.Is(err, ErrRangeExhausted) {
			t.Errorf("err = %v, want %v", err, ErrRangeExhausted)
		}

		// The failed call must not burn any ports.
		ports, err := alloc.Allocate(3)
		if err != nil {
			t.Fatalf("failed to allocate after rejected oversize request: %v", err)
		}
		if ports[0] != 12220 {
			t.Errorf("ports[0] = %d, want %d", ports[0], 12220)
		}
	})

	t.Run("invalid_count", func(t *testing.T) {
		alloc, err := NewAllocator(12220, 12399)
		if err != nil {
			t.Fatalf("failed to create allocator: %v", err)
		}

		if _, err := alloc.Allocate(0); err == nil {
			t.Error("err = nil, want error")
		}
	})
}
