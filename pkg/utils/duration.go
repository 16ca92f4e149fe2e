package utils

import "fmt"

// FormatDuration formats seconds into HH:MM:SS format. Negative input is
// treated as zero.
func FormatDuration(totalSeconds int64) string {
	if totalSeconds < 0 {
		totalSeconds = 0
	}
	h := totalSeconds / 3600
	m := (totalSeconds % 3600) / 60
	s := totalSeconds % 60
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}

// FormatPercentage renders a signed percentage, or "-" when it is undefined.
func FormatPercentage(pct *int64) string {
	if pct == nil {
		return "-"
	}
	if *pct > 0 {
		return fmt.Sprintf("+%d%%", *pct)
	}
	return fmt.Sprintf("%d%%", *pct)
}
