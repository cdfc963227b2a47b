package app

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitSegmentsPacksSentences(t *testing.T) {
	got := SplitSegments("One two. Three four! Five six? Seven.", 21)
	want := []string{"One two. Three four!", "Five six? Seven."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("segments = %q, want %q", got, want)
	}
}

func TestSplitSegmentsKeepsDecimalsTogether(t *testing.T) {
	got := SplitSegments("It cost 3.50 today. Fine.", 20)
	want := []string{"It cost 3.50 today.", "Fine."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("segments = %q, want %q", got, want)
	}
}

func TestSplitSegmentsBreaksLongSentenceAtSpace(t *testing.T) {
	text := strings.Repeat("word ", 10)
	got := SplitSegments(text, 12)
	for _, seg := range got {
		if n := utf8.RuneCountInString(seg); n > 12 {
			t.Fatalf("segment %q has %d runes", seg, n)
		}
		if strings.Contains(seg, "wor ") || strings.HasSuffix(seg, "wor") {
			t.Fatalf("segment %q splits a word", seg)
		}
	}
	if joined := strings.Join(got, " "); joined != strings.TrimSpace(text) {
		t.Fatalf("joined = %q", joined)
	}
}

func TestSplitSegmentsHardCutsUnbrokenText(t *testing.T) {
	got := SplitSegments(strings.Repeat("غ", 25), 10)
	if len(got) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(got))
	}
	if utf8.RuneCountInString(got[2]) != 5 {
		t.Fatalf("last segment = %q", got[2])
	}
}

func TestSplitSegmentsArabicTerminator(t *testing.T) {
	got := SplitSegments("سلام؟ خوبی.", 6)
	want := []string{"سلام؟", "خوبی."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("segments = %q, want %q", got, want)
	}
}

func TestSplitSegmentsEmpty(t *testing.T) {
	if got := SplitSegments("   \n ", 10); got != nil {
		t.Fatalf("expected nil, got %q", got)
	}
}
