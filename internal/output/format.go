package output

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// formatDuration formats a run duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
}

// formatMillis formats a latency given in milliseconds.
func formatMillis(ms float64) string {
	switch {
	case ms <= 0:
		return "0s"
	case ms < 1:
		return fmt.Sprintf("%.0fµs", ms*1000)
	case ms < 1000:
		return fmt.Sprintf("%.2fms", ms)
	case ms < 60000:
		return fmt.Sprintf("%.2fs", ms/1000)
	default:
		return fmt.Sprintf("%.1fm", ms/60000)
	}
}

// formatNumber formats an integer with thousands separators.
func formatNumber(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	str := strconv.FormatInt(n, 10)
	if len(str) > 3 {
		var sb strings.Builder
		offset := len(str) % 3
		if offset > 0 {
			sb.WriteString(str[:offset])
		}
		for i := offset; i < len(str); i += 3 {
			if sb.Len() > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(str[i : i+3])
		}
		str = sb.String()
	}
	if neg {
		return "-" + str
	}
	return str
}

// formatBytes formats a byte count with binary units.
func formatBytes(b float64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%.0f B", b)
	}
	div, exp := float64(unit), 0
	for n := b / unit; n >= unit && exp < 4; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", b/div, "KMGTP"[exp])
}

// formatPercent formats a fraction as a percentage.
func formatPercent(f float64) string {
	return strconv.FormatFloat(f*100, 'f', 2, 64) + "%"
}

// dots pads name with dots to width, the way metric tables are aligned.
func dots(name string, width int) string {
	if len(name) >= width {
		return name
	}
	return name + strings.Repeat(".", width-len(name))
}
