package adapter

import (
	"strings"
	"testing"

	logx "paybot/pkg/logx"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		in    string
		limit int
		want  []string
	}{
		{"short", "hello", 10, []string{"hello"}},
		{"hard cut", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"newline preferred", "aaaa\nbbbbbb", 8, []string{"aaaa\n", "bbbbbb"}},
		{"tiny newline ignored", "a\nbcdefghij", 6, []string{"a\nbcde", "fghij"}},
		{"runes", strings.Repeat("é", 5), 2, []string{"éé", "éé", "é"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := splitTelegramText(tc.in, tc.limit)
			if strings.Join(got, "|") != strings.Join(tc.want, "|") {
				t.Fatalf("split = %q, want %q", got, tc.want)
			}
			if strings.Join(got, "") != tc.in {
				t.Fatalf("chunks do not reassemble input")
			}
		})
	}
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}
