package model

import "testing"

func TestFormatTimecode(t *testing.T) {
	cases := []struct {
		secs float64
		want string
	}{
		{0, "0:00"},
		{5.7, "0:05"},
		{65, "1:05"},
		{600, "10:00"},
		{3599, "59:59"},
		{3600, "1:00:00"},
		{3725, "1:02:05"},
		{-3, "0:00"},
	}
	for _, c := range cases {
		if got := FormatTimecode(c.secs); got != c.want {
			t.Errorf("FormatTimecode(%v) = %q, want %q", c.secs, got, c.want)
		}
	}
}

func TestIsVideoURL(t *testing.T) {
	yes := []string{
		"https://www.youtube.com/watch?v=abc123",
		"https://youtu.be/abc123",
		"https://vimeo.com/12345",
		"https://www.dailymotion.com/video/x7u5",
	}
	no := []string{
		"https://example.com/article",
		"https://en.wikipedia.org/wiki/Video",
	}
	for _, u := range yes {
		if !IsVideoURL(u) {
			t.Errorf("IsVideoURL(%q) = false, want true", u)
		}
	}
	for _, u := range no {
		if IsVideoURL(u) {
			t.Errorf("IsVideoURL(%q) = true, want false", u)
		}
	}
}
