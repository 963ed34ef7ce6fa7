package target

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pingsantohq/connprobe/pkg/types"
)

// CompareAddress orders IPv4 addresses numerically and ahead of domain names,
// which compare lexicographically.
func CompareAddress(a, b string) int {
	aIP, aOK := ipv4Value(a)
	bIP, bOK := ipv4Value(b)
	switch {
	case aOK && bOK:
		switch {
		case aIP < bIP:
			return -1
		case aIP > bIP:
			return 1
		}
		return strings.Compare(a, b)
	case aOK:
		return -1
	case bOK:
		return 1
	}
	return strings.Compare(a, b)
}

// Compare orders targets by address, then port.
func Compare(a, b types.Target) int {
	if c := CompareAddress(a.Address, b.Address); c != 0 {
		return c
	}
	switch {
	case a.Port < b.Port:
		return -1
	case a.Port > b.Port:
		return 1
	}
	return 0
}

// SortTargets sorts targets in place into canonical order.
func SortTargets(targets []types.Target) {
	sort.SliceStable(targets, func(i, j int) bool {
		return Compare(targets[i], targets[j]) < 0
	})
}

func ipv4Value(s string) (uint32, bool) {
	if !ValidateIPv4(s) {
		return 0, false
	}
	var v uint32
	for _, part := range strings.Split(s, ".") {
		n, _ := strconv.Atoi(part)
		v = v<<8 | uint32(n)
	}
	return v, true
}
