package main

import (
	"strings"
	"testing"
)

func TestRenderTable(t *testing.T) {
	out := renderTable(
		[]string{"ID", "SIZE"},
		[][]string{{"gemma-2b-q4", "1.2 GiB"}, {"tiny", "4.0 MiB"}},
		[]columnAlignment{alignLeft, alignRight},
	)
	for _, want := range []string{"ID", "SIZE", "gemma-2b-q4", "1.2 GiB", "tiny"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderTableEmptyHeaders(t *testing.T) {
	if out := renderTable(nil, nil, nil); out != "" {
		t.Fatalf("out = %q", out)
	}
}

func TestRenderTableShortRowPadded(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"only-a"}}, nil)
	if !strings.Contains(out, "only-a") {
		t.Fatalf("output missing row:\n%s", out)
	}
}
