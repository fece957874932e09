package report

import "testing"

func TestFormatTableAlignsColumns(t *testing.T) {
	headers := []string{"term", "estimate", "se"}
	rows := [][]string{
		{"intercept", "0.350", "0.071"},
		{"severity", "-0.012", "0.034"},
	}
	rightAlign := map[int]bool{1: true, 2: true}

	lines := formatTable(headers, rows, rightAlign)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if lines[0] != "term      estimate    se" {
		t.Fatalf("unexpected header line: %q", lines[0])
	}
	if lines[1] != "intercept    0.350 0.071" {
		t.Fatalf("unexpected row line: %q", lines[1])
	}
	if lines[2] != "severity    -0.012 0.034" {
		t.Fatalf("unexpected row line: %q", lines[2])
	}
}

func TestFormatTableEmpty(t *testing.T) {
	if lines := formatTable(nil, nil, nil); lines != nil {
		t.Fatalf("expected no output for an empty table, got %v", lines)
	}
}
