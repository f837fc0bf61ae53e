package framing

import (
	"reflect"
	"testing"
)

func feedAll(t *testing.T, f *Framer, chunks ...string) []string {
	t.Helper()
	var out []string
	for _, c := range chunks {
		out = append(out, f.Feed([]byte(c))...)
	}
	return out
}

func TestFeedSingleChunkMultipleLines(t *testing.T) {
	got := feedAll(t, New(), "A\nB\n")
	want := []string{"A", "B"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestFeedSplitAcrossChunks(t *testing.T) {
	cases := [][]string{
		{"A\n", "B\n"},
		{"A\nB", "\n"},
		{"A", "\nB\n"},
		{"A\n", "B", "\n"},
		{"", "A", "", "\nB\n"},
	}
	want := []string{"A", "B"}
	for _, chunks := range cases {
		got := feedAll(t, New(), chunks...)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("chunks %q: got %v want %v", chunks, got, want)
		}
	}
}

func TestFeedEverySplitPointMatches(t *testing.T) {
	const stream = "hello world\n  trimmed \nÜmläut ÷ß\nlast\n"
	want := []string{"hello world", "trimmed", "Ümläut ÷ß", "last"}
	raw := []byte(stream)
	for cut := 0; cut <= len(raw); cut++ {
		f := New()
		var got []string
		got = append(got, f.Feed(raw[:cut])...)
		got = append(got, f.Feed(raw[cut:])...)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("cut at %d: got %v want %v", cut, got, want)
		}
	}
}

func TestFeedMultiByteSplitMidRune(t *testing.T) {
	raw := []byte("né\n") // 0x6e 0xc3 0xa9 0x0a
	f := New()
	var got []string
	got = append(got, f.Feed(raw[:2])...) // ends mid-rune
	got = append(got, f.Feed(raw[2:])...)
	if !reflect.DeepEqual(got, []string{"né"}) {
		t.Fatalf("got %v", got)
	}
}

func TestFeedDiscardsEmptyAndWhitespaceLines(t *testing.T) {
	got := feedAll(t, New(), "\n\n  \nA\n\t\n")
	if !reflect.DeepEqual(got, []string{"A"}) {
		t.Fatalf("got %v", got)
	}
}

func TestFeedNoTerminatorBuffersUntilFlush(t *testing.T) {
	f := New()
	if got := feedAll(t, f, "partial ", "line"); got != nil {
		t.Fatalf("expected no lines, got %v", got)
	}
	line, ok := f.Flush()
	if !ok || line != "partial line" {
		t.Fatalf("flush: got %q ok=%v", line, ok)
	}
	if _, ok := f.Flush(); ok {
		t.Fatalf("second flush should be empty")
	}
}

func TestFeedTrailingPartialKeptAcrossTerminator(t *testing.T) {
	f := New()
	got := feedAll(t, f, "A\npartial")
	if !reflect.DeepEqual(got, []string{"A"}) {
		t.Fatalf("got %v", got)
	}
	got = f.Feed([]byte(" done\n"))
	if !reflect.DeepEqual(got, []string{"partial done"}) {
		t.Fatalf("got %v", got)
	}
}

func TestPendingCapDiscardsAndResyncs(t *testing.T) {
	f := NewWithLimit(8)
	if got := f.Feed([]byte("0123456789abcdef")); got != nil {
		t.Fatalf("expected nothing while resyncing, got %v", got)
	}
	if f.Dropped() == 0 {
		t.Fatalf("expected dropped bytes recorded")
	}
	// Everything up to the next terminator is part of the oversized
	// line and stays dropped; the line after it comes through intact.
	got := f.Feed([]byte("overflow\nok\n"))
	if !reflect.DeepEqual(got, []string{"ok"}) {
		t.Fatalf("got %v", got)
	}
}

func TestCapUnboundedWhenZero(t *testing.T) {
	f := NewWithLimit(0)
	big := make([]byte, 256*1024)
	for i := range big {
		big[i] = 'x'
	}
	f.Feed(big)
	got := f.Feed([]byte("\n"))
	if len(got) != 1 || len(got[0]) != len(big) {
		t.Fatalf("expected one %d-byte line, got %d lines", len(big), len(got))
	}
	if f.Dropped() != 0 {
		t.Fatalf("unexpected drops: %d", f.Dropped())
	}
}
