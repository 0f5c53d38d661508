package bandwidth

import (
	"context"
	"fmt"
	"strings"
)

// Report renders a plain-text bandwidth summary for the trailing window:
// total consumption, top consumers with share bars, and detected hogs with
// remediation hints.
func (r *Reporter) Report(ctx context.Context, windowHours int) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "BANDWIDTH REPORT (last %dh)\n", windowHours)
	b.WriteString(strings.Repeat("=", 60) + "\n\n")

	usage, err := r.ByDevice(ctx, windowHours)
	if err != nil {
		return "", err
	}
	if len(usage) == 0 {
		b.WriteString("No traffic data available\n")
		return b.String(), nil
	}

	var total uint64
	for _, u := range usage {
		total += u.BytesSent
	}
	fmt.Fprintf(&b, "Total consumption: %.2f GB\n\n", float64(total)/(1<<30))

	b.WriteString("Top devices:\n")
	top := usage
	if len(top) > 5 {
		top = top[:5]
	}
	for i, u := range top {
		filled := int(u.Percentage / 5)
		if filled > 20 {
			filled = 20
		}
		bar := strings.Repeat("#", filled) + strings.Repeat(".", 20-filled)
		name := u.Hostname
		if name == "" {
			name = u.IPAddress
		}
		fmt.Fprintf(&b, "%d. %-25s %s %5.1f%% (%.1f Mbps)\n", i+1, truncate(name, 25), bar, u.Percentage, u.AvgMbps)
	}
	b.WriteString("\n")

	hogs, err := r.DetectHogs(ctx, windowHours, 15.0)
	if err != nil {
		return "", err
	}
	if len(hogs) == 0 {
		b.WriteString("No bandwidth hogs detected\n")
		return b.String(), nil
	}

	b.WriteString("BANDWIDTH HOGS DETECTED:\n\n")
	for _, h := range hogs {
		name := h.Hostname
		if name == "" {
			name = h.IPAddress
		}
		fmt.Fprintf(&b, "[%s] %s is consuming %.0f%% of bandwidth\n", h.Severity, name, h.Percentage)
		fmt.Fprintf(&b, "  %.1f MB sent in %dh, avg %.1f Mbps\n\n", float64(h.BytesSent)/(1<<20), windowHours, h.AvgMbps)
	}
	b.WriteString("Recommendations:\n")
	b.WriteString("  - pause video streaming / gaming during calls\n")
	b.WriteString("  - schedule automatic backups for night hours\n")

	return b.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
