package dashboard

import "fmt"

// FormatDuration formats milliseconds as "Nms", "X.Xs" or "Xm Ys".
func FormatDuration(ms int64) string {
	switch {
	case ms < 1000:
		return fmt.Sprintf("%dms", ms)
	case ms < 60_000:
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	default:
		return fmt.Sprintf("%dm %ds", ms/60_000, (ms%60_000)/1000)
	}
}

// FormatPercentage formats a ratio (0-1) as percentage.
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
