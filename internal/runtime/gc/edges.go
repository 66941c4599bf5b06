package gc

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// edgeCounts returns the multiset of non-null edges reported by visit.
func edgeCounts(visit func(func(Handle))) map[Handle]int {
	m := make(map[Handle]int)
	visit(func(h Handle) {
		if !h.IsNil() {
			m[h]++
		}
	})
	return m
}

// compareEdges reports the difference between two edge multisets.
func compareEdges(want, got map[Handle]int) error {
	var diff []string
	for h, n := range want {
		if got[h] != n {
			diff = append(diff, fmt.Sprintf("%s: traced %d broke %d", h, n, got[h]))
		}
	}
	for h, n := range got {
		if _, ok := want[h]; !ok {
			diff = append(diff, fmt.Sprintf("%s: traced 0 broke %d", h, n))
		}
	}
	if len(diff) == 0 {
		return nil
	}
	sort.Strings(diff)
	return errors.New(strings.Join(diff, "; "))
}
