package capturer

import (
	"strings"
	"testing"
)

func TestSpeedString(t *testing.T) {
	cases := []struct {
		vx, vy float64
		want   string
	}{
		{0, 0, "0"},
		{3, 4, "5"},
		{-3, 4, "5"},
		{300, 400, "500"},
		{1, 1, "1"}, // sqrt(2) rounds to 1
		{250, 250, "354"},
	}
	for _, tc := range cases {
		if got := speedString(tc.vx, tc.vy); got != tc.want {
			t.Errorf("speedString(%g, %g) = %q, want %q", tc.vx, tc.vy, got, tc.want)
		}
	}
}

func TestResolveFontMissing(t *testing.T) {
	_, err := resolveFont("__nonexistent__", "normal", "normal", "normal")
	if err == nil {
		t.Fatal("expected an error for an unknown family")
	}
	if !strings.Contains(err.Error(), "__nonexistent__") {
		t.Errorf("error %q does not name the family", err)
	}
}

func TestResolveFontPathMissing(t *testing.T) {
	if _, err := resolveFont("/no/such/dir/font.ttf", "normal", "normal", "normal"); err == nil {
		t.Fatal("expected an error for a missing font path")
	}
}
