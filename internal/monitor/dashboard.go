package monitor

import (
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/stickman-iot/gateway/internal/fabric"
)

const (
	ansiReset   = "\033[0m"
	ansiRed     = "\033[31m"
	ansiGreen   = "\033[32m"
	ansiYellow  = "\033[33m"
	ansiBold    = "\033[1m"
	ansiCyan    = "\033[36m"
	ansiClear   = "\033[2J\033[H"
	consoleWide = 80
	historySize = 60
	graphHeight = 10
)

// history is a fixed-size ring buffer of recent samples, used for the
// dashboard's ASCII sparkline.
type history struct {
	values [historySize]float64
	index  int
	count  int
}

func (h *history) push(v float64) {
	h.values[h.index] = v
	h.index = (h.index + 1) % historySize
	if h.count < historySize {
		h.count++
	}
}

// dashboard renders the ANSI terminal view: queue depths, event bitset,
// uptime, and heap usage, plus a history sparkline for heap allocation.
type dashboard struct {
	heapHistory history
	startedAt   time.Time
}

func newDashboard() *dashboard {
	return &dashboard{startedAt: time.Now()}
}

// render draws the full dashboard to w: header, status, resource usage
// with progress bars, performance counters, and a history graph.
func (d *dashboard) render(w io.Writer, fab *fabric.Fabric, processed, dropped uint64) {
	var b strings.Builder
	b.WriteString(ansiClear)

	fmt.Fprintf(&b, "%s%s=== stick_gateway Monitor ===%s\n", ansiBold, ansiCyan, ansiReset)
	fmt.Fprintf(&b, "Uptime: %s\n", time.Since(d.startedAt).Round(time.Second))
	b.WriteString(strings.Repeat("=", consoleWide) + "\n")

	events := fab.Events.Get()
	fmt.Fprintf(&b, "\n%s%sSystem Status:%s\n", ansiBold, ansiGreen, ansiReset)
	writeStatusLine(&b, "Network", events&fabric.EventNetworkConnected != 0, "CONNECTED", "DISCONNECTED")
	writeStatusLine(&b, "TLS", events&fabric.EventTLSReady != 0, "SECURED", "UNSECURED")
	writeStatusLine(&b, "MQTT", events&fabric.EventMQTTConnected != 0, "CONNECTED", "DISCONNECTED")

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	d.heapHistory.push(float64(mem.Alloc) / (1024 * 1024))

	fmt.Fprintf(&b, "\n%s%sResource Usage:%s\n", ansiBold, ansiCyan, ansiReset)
	writeProgressBar(&b, "Sensor Queue", float64(fab.SensorQueue.Len()), float64(fab.SensorQueue.Capacity()), 40)
	writeProgressBar(&b, "Network Queue", float64(fab.NetworkQueue.Len()), float64(fab.NetworkQueue.Capacity()), 40)
	fmt.Fprintf(&b, "  Heap alloc: %d bytes | sys: %d bytes\n", mem.Alloc, mem.Sys)

	fmt.Fprintf(&b, "\n%s%sPerformance:%s\n", ansiBold, ansiYellow, ansiReset)
	fmt.Fprintf(&b, "  Messages processed: %d\n", processed)
	fmt.Fprintf(&b, "  Messages dropped:   %d\n", dropped)

	writeGraph(&b, "Heap alloc (MiB)", &d.heapHistory, float64(mem.Sys)/(1024*1024)+1)

	b.WriteString(strings.Repeat("=", consoleWide) + "\n")
	fmt.Fprintf(w, "%s", b.String())
}

func writeStatusLine(b *strings.Builder, label string, up bool, upWord, downWord string) {
	color, word := ansiRed, downWord
	if up {
		color, word = ansiGreen, upWord
	}
	fmt.Fprintf(b, "  %-10s %s%s%s\n", label+":", color, word, ansiReset)
}

// writeProgressBar draws a fixed-width ASCII fill bar, coloured
// green/yellow/red at 60%/80% fill.
func writeProgressBar(b *strings.Builder, label string, value, max float64, width int) {
	ratio := 0.0
	if max > 0 {
		ratio = value / max
	}
	filled := int(ratio * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	color := ansiGreen
	if ratio > 0.8 {
		color = ansiRed
	} else if ratio > 0.6 {
		color = ansiYellow
	}

	fmt.Fprintf(b, "%-15s [%s%s%s%s] %.1f%%\n",
		label, color, strings.Repeat("#", filled), ansiReset, strings.Repeat("-", width-filled), ratio*100)
}

// writeGraph renders a row-major ASCII sparkline over the last
// min(count, 60) samples.
func writeGraph(b *strings.Builder, label string, h *history, maxValue float64) {
	width := h.count
	if width > historySize {
		width = historySize
	}
	fmt.Fprintf(b, "\n%s (last %d samples, max %.1f):\n", label, width, maxValue)

	if maxValue <= 0 {
		maxValue = 1
	}

	for row := graphHeight; row >= 0; row-- {
		fmt.Fprintf(b, "%3d%% |", row*10)
		for col := 0; col < width; col++ {
			idx := (h.index - width + col + historySize) % historySize
			normalized := h.values[idx] / maxValue * graphHeight
			if normalized >= float64(row) {
				b.WriteByte('*')
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(b, "     +%s\n", strings.Repeat("-", width))
}
