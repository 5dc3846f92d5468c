package command

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestTokenizeLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want []string
	}{
		{in: "", want: nil},
		{in: "  list  ", want: []string{"list"}},
		{in: `add --name "weekly report" --priority 2`, want: []string{"add", "--name", "weekly report", "--priority", "2"}},
		{in: `add --name 'it''s'`, want: []string{"add", "--name", "its"}},
		{in: `add --name a\ b`, want: []string{"add", "--name", "a b"}},
		{in: `change --Name id ""`, want: []string{"change", "--Name", "id", ""}},
	}
	for _, tt := range tests {
		got := tokenizeLine(tt.in)
		if !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("tokenizeLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseFlagsGroupsWords(t *testing.T) {
	t.Parallel()
	pos, f := parseFlags([]string{"x", "--Name", "Write", "the", "report", "--priority=3", "--in", "-5", "min", "--now"})
	if !reflect.DeepEqual(pos, []string{"x"}) {
		t.Fatalf("pos = %q", pos)
	}
	if got := f.words("name"); got != "Write the report" {
		t.Fatalf("name = %q", got)
	}
	if got := f.words("priority"); got != "3" {
		t.Fatalf("priority = %q", got)
	}
	if got := f.words("in"); got != "-5 min" {
		t.Fatalf("in = %q", got)
	}
	if !f.has("now") || f.words("now") != "" {
		t.Fatalf("now flag = %v %q", f.has("now"), f.words("now"))
	}
	if !reflect.DeepEqual(f.order, []string{"name", "priority", "in", "now"}) {
		t.Fatalf("order = %q", f.order)
	}
}

func TestParseRelative(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"30", 30 * time.Second},
		{"30s", 30 * time.Second},
		{"30 sec", 30 * time.Second},
		{"30min", 30 * time.Minute},
		{"30 min", 30 * time.Minute},
		{"5m", 5 * time.Minute},
		{"2h", 2 * time.Hour},
		{"2 h", 2 * time.Hour},
		{"1d", 24 * time.Hour},
		{"3 days", 72 * time.Hour},
		{"1h30m", 90 * time.Minute},
		{"1.5h", 90 * time.Minute},
		{"-10 min", -10 * time.Minute},
		{"+45", 45 * time.Second},
		{"0", 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseRelative(tt.in)
			if err != nil {
				t.Fatalf("ParseRelative(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("ParseRelative(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseRelativeRejects(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "soon", "10 fortnights", "min", "--5"} {
		if _, err := ParseRelative(in); !errors.Is(err, ErrUsage) {
			t.Fatalf("ParseRelative(%q) err = %v, want ErrUsage", in, err)
		}
	}
}

func TestParseAbsolute(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("XST", 3*3600)
	got, err := ParseAbsolute("2031-05-06T07:08:09Z", loc)
	if err != nil || !got.Equal(time.Date(2031, 5, 6, 7, 8, 9, 0, time.UTC)) {
		t.Fatalf("RFC3339 = %v, %v", got, err)
	}
	got, err = ParseAbsolute("2031-05-06 10:08", loc)
	if err != nil || !got.Equal(time.Date(2031, 5, 6, 7, 8, 0, 0, time.UTC)) {
		t.Fatalf("wall clock = %v, %v", got, err)
	}
	if _, err := ParseAbsolute("tomorrow", loc); !errors.Is(err, ErrUsage) {
		t.Fatalf("err = %v, want ErrUsage", err)
	}
}
