package target

import (
	"reflect"
	"testing"

	"github.com/pingsantohq/connprobe/pkg/types"
)

func TestCompareAddressNumericIPv4(t *testing.T) {
	if CompareAddress("10.0.0.9", "10.0.0.10") >= 0 {
		t.Fatalf("expected numeric ordering of last octet")
	}
	if CompareAddress("9.255.255.255", "10.0.0.0") >= 0 {
		t.Fatalf("expected numeric ordering of first octet")
	}
	if CompareAddress("10.0.0.1", "10.0.0.1") != 0 {
		t.Fatalf("expected equal addresses to compare equal")
	}
	if CompareAddress("192.0.2.1", "a.example.com") >= 0 {
		t.Fatalf("expected IPv4 before domains")
	}
	if CompareAddress("b.example.com", "a.example.com") <= 0 {
		t.Fatalf("expected lexicographic domain ordering")
	}
}

func TestSortTargets(t *testing.T) {
	targets := []types.Target{
		{Address: "example.org"},
		{Address: "10.0.0.10", Port: 443},
		{Address: "10.0.0.10", Port: 80},
		{Address: "10.0.0.9"},
		{Address: "example.com"},
	}
	SortTargets(targets)

	got := make([]string, 0, len(targets))
	for _, tgt := range targets {
		got = append(got, tgt.Key())
	}
	want := []string{"10.0.0.9", "10.0.0.10:80", "10.0.0.10:443", "example.com", "example.org"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SortTargets = %v, want %v", got, want)
	}
}
