package ui

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/doridoridoriand/classwatch/internal/display"
	"github.com/doridoridoriand/classwatch/internal/scheduler"
)

const (
	defaultRefreshInterval = 500 * time.Millisecond
	minBoxHeight           = 4

	nameWidth     = 24
	accuracyWidth = 8
	statusWidth   = 32
)

// BoardSource provides the rows to draw.
type BoardSource interface {
	Snapshot() display.Snapshot
}

// StatsSource provides polling counters for the footer.
type StatsSource interface {
	Stats() scheduler.Stats
}

// Info is the timing shown on the second line.
type Info struct {
	Interval       time.Duration
	Timeout        time.Duration
	StaleAfter     time.Duration
	MaxConcurrency int
}

// UI renders the classroom board in the terminal.
type UI struct {
	board   BoardSource
	stats   StatsSource
	refresh time.Duration
	now     func() time.Time

	mu   sync.RWMutex
	info Info
}

// New returns a UI instance. stats may be nil.
func New(info Info, board BoardSource, stats StatsSource, refresh time.Duration) *UI {
	if refresh <= 0 {
		refresh = defaultRefreshInterval
	}
	return &UI{
		board:   board,
		stats:   stats,
		refresh: refresh,
		now:     time.Now,
		info:    info,
	}
}

// SetInfo replaces the timing line after a config reload.
func (u *UI) SetInfo(info Info) {
	u.mu.Lock()
	u.info = info
	u.mu.Unlock()
}

// Run blocks until the context is cancelled or the user quits.
func (u *UI) Run(ctx context.Context) error {
	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := screen.Init(); err != nil {
		return err
	}
	defer screen.Fini()
	return u.run(ctx, screen)
}

func (u *UI) run(ctx context.Context, screen tcell.Screen) error {
	screen.HideCursor()

	eventCh := make(chan tcell.Event, 1)
	go func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				return
			}
			select {
			case eventCh <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(u.refresh)
	defer ticker.Stop()

	u.render(screen)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-eventCh:
			switch ev := ev.(type) {
			case *tcell.EventKey:
				if ev.Key() == tcell.KeyCtrlC || ev.Rune() == 'q' {
					return context.Canceled
				}
			case *tcell.EventResize:
				screen.Sync()
			}
		case <-ticker.C:
			u.render(screen)
		}
	}
}

func (u *UI) render(screen tcell.Screen) {
	screen.Clear()
	width, height := screen.Size()
	if width < 20 || height < 5 {
		screen.Show()
		return
	}

	snap := u.board.Snapshot()

	now := u.now().Format("2006-01-02 15:04:05")
	header := fmt.Sprintf(" classwatch  %s  %s  (q to quit)", snap.Class, now)
	drawText(screen, 0, 0, width, header, tcell.StyleDefault.Bold(true))

	u.mu.RLock()
	info := u.info
	u.mu.RUnlock()
	drawText(screen, 0, 1, width, formatConfigInfo(info), tcell.StyleDefault.Foreground(tcell.ColorGray))

	bottom := height
	if u.stats != nil {
		bottom--
		drawText(screen, 0, bottom, width, formatStats(u.stats.Stats()), tcell.StyleDefault.Foreground(tcell.ColorGray))
	}

	y := 2
	if bottom-y >= minBoxHeight {
		if len(snap.Rows) == 0 {
			u.drawNotice(screen, 0, y, width, minBoxHeight, snap)
		} else {
			boxHeight := len(snap.Rows) + 3
			if boxHeight > bottom-y {
				boxHeight = bottom - y
			}
			u.drawClassBox(screen, 0, y, width, boxHeight, snap)
		}
	}

	screen.Show()
}

func (u *UI) drawNotice(screen tcell.Screen, x, y, width, height int, snap display.Snapshot) {
	drawBox(screen, x, y, width, height)
	drawText(screen, x+2, y, width-4, fmt.Sprintf(" %s ", snap.Class), tcell.StyleDefault.Bold(true))
	notice := snap.Notice
	if notice == "" {
		notice = scheduler.MessageGetting
	}
	drawText(screen, x+1, y+1, width-2, " "+notice, tcell.StyleDefault.Foreground(tcell.ColorGray))
}

func (u *UI) drawClassBox(screen tcell.Screen, x, y, width, height int, snap display.Snapshot) {
	drawBox(screen, x, y, width, height)

	title := fmt.Sprintf(" %s (%d students) ", snap.Class, len(snap.Rows))
	drawText(screen, x+2, y, width-4, title, tcell.StyleDefault.Bold(true))

	if height <= 2 {
		return
	}

	drawText(screen, x+1, y+1, width-2, formatHeaderLine(width-2), tcell.StyleDefault.Underline(true))

	rowY := y + 2
	maxRows := height - 3
	for i := 0; i < len(snap.Rows) && i < maxRows; i++ {
		drawStyledText(screen, x+1, rowY+i, width-2, formatRowLine(width-2, snap.Rows[i]))
	}
}

func formatHeaderLine(width int) string {
	line := padOrTrim("Student", minInt(nameWidth, width)) + " " +
		padOrTrim("Accuracy", accuracyWidth) + " " +
		padOrTrim("Status", statusWidth)
	return padOrTrim(line, width)
}

func formatRowLine(width int, row display.Row) []styledRune {
	style := statusStyle(row.Status)
	name := padOrTrim(row.Name, minInt(nameWidth, width))
	accuracy := padOrTrim(row.Accuracy, accuracyWidth)
	status := padOrTrim(row.Status, statusWidth)

	parts := []styledText{
		{text: name, style: tcell.StyleDefault},
		{text: " ", style: tcell.StyleDefault},
		{text: accuracy, style: style},
		{text: " ", style: tcell.StyleDefault},
		{text: status, style: style},
		{text: " ", style: tcell.StyleDefault},
	}

	used := 0
	for _, p := range parts {
		used += len([]rune(p.text))
	}
	barWidth := width - used
	if barWidth > 0 {
		parts = append(parts, styledText{text: buildBar(row, barWidth), style: style})
	}

	return flattenStyledText(parts, width)
}

// buildBar draws accuracy as a proportion of width.
func buildBar(row display.Row, width int) string {
	if width <= 0 {
		return ""
	}
	if !row.Measured || row.Percent <= 0 {
		return strings.Repeat(" ", width)
	}
	units := int(math.Round(row.Percent / 100 * float64(width)))
	if units > width {
		units = width
	}
	if units < 0 {
		units = 0
	}
	return strings.Repeat("#", units) + strings.Repeat(" ", width-units)
}

func drawBox(screen tcell.Screen, x, y, width, height int) {
	if width < 2 || height < 2 {
		return
	}
	right := x + width - 1
	bottom := y + height - 1

	setCell(screen, x, y, '+', tcell.StyleDefault)
	setCell(screen, right, y, '+', tcell.StyleDefault)
	setCell(screen, x, bottom, '+', tcell.StyleDefault)
	setCell(screen, right, bottom, '+', tcell.StyleDefault)

	for col := x + 1; col < right; col++ {
		setCell(screen, col, y, '-', tcell.StyleDefault)
		setCell(screen, col, bottom, '-', tcell.StyleDefault)
	}
	for row := y + 1; row < bottom; row++ {
		setCell(screen, x, row, '|', tcell.StyleDefault)
		setCell(screen, right, row, '|', tcell.StyleDefault)
	}
}

func drawText(screen tcell.Screen, x, y, width int, text string, style tcell.Style) {
	drawStyledText(screen, x, y, width, []styledRune{{r: []rune(text), style: style}})
}

type styledText struct {
	text  string
	style tcell.Style
}

type styledRune struct {
	r     []rune
	style tcell.Style
}

func drawStyledText(screen tcell.Screen, x, y, width int, parts []styledRune) {
	if width <= 0 {
		return
	}
	col := x
	for _, part := range parts {
		for _, r := range part.r {
			if col >= x+width {
				return
			}
			setCell(screen, col, y, r, part.style)
			col++
		}
	}
	for col < x+width {
		setCell(screen, col, y, ' ', tcell.StyleDefault)
		col++
	}
}

func flattenStyledText(parts []styledText, width int) []styledRune {
	result := make([]styledRune, 0, len(parts))
	used := 0
	for _, part := range parts {
		runes := []rune(part.text)
		if used+len(runes) > width {
			runes = runes[:maxInt(0, width-used)]
		}
		result = append(result, styledRune{r: runes, style: part.style})
		used += len(runes)
		if used >= width {
			break
		}
	}
	return result
}

func setCell(screen tcell.Screen, x, y int, r rune, style tcell.Style) {
	screen.SetContent(x, y, r, nil, style)
}

func padOrTrim(value string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(value)
	if len(runes) > width {
		return string(runes[:width])
	}
	if len(runes) < width {
		return value + strings.Repeat(" ", width-len(runes))
	}
	return value
}

// statusStyle colours a row by its status text.
func statusStyle(status string) tcell.Style {
	switch {
	case strings.HasPrefix(status, "Looking-"):
		return tcell.StyleDefault.Foreground(tcell.ColorGreen)
	case strings.HasPrefix(status, "Not looking-"),
		strings.HasPrefix(status, "Sleeping-"),
		strings.HasPrefix(status, "Identity not confirmed-"):
		return tcell.StyleDefault.Foreground(tcell.ColorYellow)
	case strings.HasPrefix(status, "Students goes-"), status == "Needs updated":
		return tcell.StyleDefault.Foreground(tcell.ColorRed)
	default:
		return tcell.StyleDefault.Foreground(tcell.ColorGray)
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func formatConfigInfo(info Info) string {
	return fmt.Sprintf(" interval=%s  timeout=%s  stale_after=%s  max_concurrency=%d",
		formatDuration(info.Interval), formatDuration(info.Timeout), formatDuration(info.StaleAfter), info.MaxConcurrency)
}

func formatStats(stats scheduler.Stats) string {
	return fmt.Sprintf(" phase=%s  cycles=%d  feed_errors=%d  decode_errors=%d",
		stats.Phase, stats.Cycles, stats.FeedErrors, stats.DecodeErrors)
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dus", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}
