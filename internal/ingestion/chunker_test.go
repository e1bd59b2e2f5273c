package ingestion

import (
	"errors"
	"reflect"
	"testing"
)

func TestSplitWindows(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		size    int
		overlap int
		want    []string
	}{
		{
			name: "overlapping windows with exact tail",
			text: "ABCDEFGHIJ", size: 4, overlap: 1,
			want: []string{"ABCD", "DEFG", "GHIJ"},
		},
		{
			name: "short tail kept",
			text: "ABCDEFGH", size: 4, overlap: 1,
			want: []string{"ABCD", "DEFG", "GH"},
		},
		{
			name: "text shorter than window",
			text: "AB", size: 4, overlap: 1,
			want: []string{"AB"},
		},
		{
			name: "no overlap",
			text: "ABCDEF", size: 3, overlap: 0,
			want: []string{"ABC", "DEF"},
		},
		{
			name: "multibyte runes stay whole",
			text: "日本語のテキスト", size: 3, overlap: 1,
			want: []string{"日本語", "語のテ", "テキス", "スト"},
		},
		{
			name: "empty input",
			text: "", size: 4, overlap: 1,
			want: []string{},
		},
		{
			name: "whitespace only input",
			text: "   \n\t ", size: 4, overlap: 1,
			want: []string{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chunks, err := Split(tc.text, tc.size, tc.overlap)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := make([]string, 0, len(chunks))
			for i, c := range chunks {
				if c.Ordinal != i {
					t.Fatalf("chunk %d has ordinal %d", i, c.Ordinal)
				}
				got = append(got, c.Text)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("want=%q got=%q", tc.want, got)
			}
		})
	}
}

func TestSplitRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name    string
		size    int
		overlap int
	}{
		{name: "zero size", size: 0, overlap: 0},
		{name: "negative size", size: -1, overlap: 0},
		{name: "overlap equals size", size: 4, overlap: 4},
		{name: "overlap exceeds size", size: 4, overlap: 5},
		{name: "negative overlap", size: 4, overlap: -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Split("ABCDEF", tc.size, tc.overlap); !errors.Is(err, ErrBadChunkConfig) {
				t.Fatalf("want ErrBadChunkConfig, got %v", err)
			}
		})
	}
}

func TestSplitDeterministic(t *testing.T) {
	first, err := Split("the quick brown fox jumps over the lazy dog", 10, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Split("the quick brown fox jumps over the lazy dog", 10, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("split not deterministic: %v vs %v", first, second)
	}
}
