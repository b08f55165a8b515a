package model

import (
	"fmt"
	"regexp"
)

// FormatTimecode renders a position in seconds as "m:ss", or "h:mm:ss" when
// the position reaches one hour. Fractional seconds are truncated.
func FormatTimecode(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

var videoURLPattern = regexp.MustCompile(`(?i)youtube|youtu\.be|vimeo|dailymotion`)

// IsVideoURL reports whether the URL belongs to a supported video platform.
func IsVideoURL(url string) bool {
	return videoURLPattern.MatchString(url)
}
