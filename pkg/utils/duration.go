package utils

import (
	"fmt"
	"strings"
)

// FormatDuration formats seconds into HH:MM:SS format
func FormatDuration(totalSeconds int64) string {
	h := totalSeconds / 3600
	m := (totalSeconds % 3600) / 60
	s := totalSeconds % 60
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}

// FormatKorean formats seconds as "1시간 2분 3초", dropping leading zero units.
func FormatKorean(totalSeconds int64) string {
	if totalSeconds <= 0 {
		return "0초"
	}
	h := totalSeconds / 3600
	m := (totalSeconds % 3600) / 60
	s := totalSeconds % 60

	var parts []string
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%d시간", h))
	}
	if m > 0 {
		parts = append(parts, fmt.Sprintf("%d분", m))
	}
	if s > 0 {
		parts = append(parts, fmt.Sprintf("%d초", s))
	}
	return strings.Join(parts, " ")
}
