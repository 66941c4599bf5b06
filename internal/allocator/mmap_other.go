//go:build !unix

package allocator

import "errors"

// Mapping is unavailable; blocks fall back to the Go heap.

func mapBytes(int) ([]byte, error) { return nil, errors.New("allocator: mmap unsupported") }

func unmapBytes([]byte) error { return nil }
