package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// sceneHistoryLen bounds the sparkline history.
const sceneHistoryLen = 60

// errNoSession marks a reachable server without an attached conversion.
var errNoSession = errors.New("no active conversion session")

// convStats mirrors the /api/v1/stats payload.
type convStats struct {
	SessionID       string  `json:"session_id"`
	FramesIn        uint64  `json:"frames_in"`
	FramesOut       uint64  `json:"frames_out"`
	Errors          uint64  `json:"errors"`
	FramesBlended   uint64  `json:"frames_blended"`
	FramesCloned    uint64  `json:"frames_cloned"`
	FramesDropped   uint64  `json:"frames_dropped"`
	Discontinuities uint64  `json:"discontinuities"`
	SceneFallbacks  uint64  `json:"scene_fallbacks"`
	SceneScore      float64 `json:"scene_score"`
	Flushing        bool    `json:"flushing"`
	Budget          *struct {
		UsageBytes int64   `json:"usage_bytes"`
		LimitBytes int64   `json:"limit_bytes"`
		Pressure   float64 `json:"pressure"`
		Rejected   int64   `json:"rejected"`
	} `json:"budget"`
}

// sessionStats mirrors the /api/v1/session payload.
type sessionStats struct {
	SessionID     string  `json:"session_id"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// runtimeStats carries process gauges scraped from /metrics.
type runtimeStats struct {
	Goroutines int
	HeapBytes  int64
}

// Messages
type tickMsg time.Time

type sampleMsg struct {
	stats     convStats
	session   sessionStats
	runtime   runtimeStats
	at        time.Time
	noSession bool
	err       error
}

// model is the dashboard state. All mutation happens in Update.
type model struct {
	addr     string
	interval time.Duration
	client   *http.Client

	width  int
	height int

	connected bool
	noSession bool
	lastErr   error

	stats   convStats
	session sessionStats
	runtime runtimeStats
	lastAt  time.Time

	inFPS  float64
	outFPS float64

	sceneHistory []float64

	quitting bool
}

func newModel(addr string, interval time.Duration) *model {
	return &model{
		addr:     addr,
		interval: interval,
		client:   &http.Client{Timeout: 2 * time.Second},
	}
}

// Init implements tea.Model
func (m *model) Init() tea.Cmd {
	return tea.Batch(
		tickEvery(m.interval),
		fetchSample(m.client, m.addr),
	)
}

// Update implements tea.Model
func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchSample(m.client, m.addr)
		}

	case tickMsg:
		if m.quitting {
			return m, nil
		}
		return m, tea.Batch(
			tickEvery(m.interval),
			fetchSample(m.client, m.addr),
		)

	case sampleMsg:
		if msg.err != nil {
			m.connected = false
			m.lastErr = msg.err
			return m, nil
		}
		m.connected = true
		m.lastErr = nil
		m.noSession = msg.noSession
		m.runtime = msg.runtime
		if msg.noSession {
			return m, nil
		}
		if msg.stats.SessionID != m.stats.SessionID {
			// A new conversion attached, its history starts over.
			m.sceneHistory = m.sceneHistory[:0]
			m.lastAt = time.Time{}
			m.inFPS, m.outFPS = 0, 0
		}
		if !m.lastAt.IsZero() {
			dt := msg.at.Sub(m.lastAt).Seconds()
			m.inFPS = counterRate(m.stats.FramesIn, msg.stats.FramesIn, dt)
			m.outFPS = counterRate(m.stats.FramesOut, msg.stats.FramesOut, dt)
		}
		m.stats = msg.stats
		m.session = msg.session
		m.lastAt = msg.at
		m.sceneHistory = append(m.sceneHistory, msg.stats.SceneScore)
		if len(m.sceneHistory) > sceneHistoryLen {
			m.sceneHistory = m.sceneHistory[1:]
		}
		return m, nil
	}

	return m, nil
}

// View implements tea.Model
func (m *model) View() string {
	if m.quitting {
		return "retime-top closed\n"
	}

	width := m.width
	if width == 0 {
		width = 100
	}
	if width > 110 {
		width = 110
	}
	if width < 64 {
		width = 64
	}

	header := headerStyle.Width(width - 2).Render("🎞  RETIME MONITOR · " + m.addr)
	footer := footerStyle.Render("q quit · r refresh · polling every " + m.interval.String())

	if !m.connected {
		return lipgloss.JoinVertical(lipgloss.Left,
			header,
			m.disconnectedPanel(width-2),
			footer,
		) + "\n"
	}
	if m.noSession {
		return lipgloss.JoinVertical(lipgloss.Left,
			header,
			m.idlePanel(width-2),
			m.runtimePanel(width-2),
			footer,
		) + "\n"
	}

	colWidth := (width - 6) / 2

	topRow := lipgloss.JoinHorizontal(lipgloss.Top,
		m.sessionPanel(colWidth), " ", m.throughputPanel(colWidth))
	midRow := lipgloss.JoinHorizontal(lipgloss.Top,
		m.decisionsPanel(colWidth), " ", m.scenePanel(colWidth))

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		topRow,
		midRow,
		m.runtimePanel(width-2),
		footer,
	) + "\n"
}

func (m *model) disconnectedPanel(width int) string {
	lines := []string{
		titleStyle.Render("⚠  NOT CONNECTED"),
		"",
		fmt.Sprintf("Waiting for retime at %s", valueStyle.Render(m.addr)),
		mutedStyle.Render("Start the converter with -server, or point -addr at a running one."),
	}
	if m.lastErr != nil {
		lines = append(lines, "", badStyle.Render(truncate(m.lastErr.Error(), width-6)))
	}
	return panelStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m *model) idlePanel(width int) string {
	lines := []string{
		titleStyle.Render("⏳ IDLE"),
		"",
		"Server is up, no conversion session is attached yet.",
	}
	return panelStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m *model) sessionPanel(width int) string {
	state := goodStyle.Render("converting")
	if m.stats.Flushing {
		state = warnStyle.Render("flushing")
	}
	lines := []string{
		titleStyle.Render("🎬 SESSION"),
		fmt.Sprintf("ID:     %s", valueStyle.Render(truncate(m.stats.SessionID, width-12))),
		fmt.Sprintf("Uptime: %s", valueStyle.Render(formatDuration(time.Duration(m.session.UptimeSeconds*float64(time.Second))))),
		fmt.Sprintf("State:  %s", state),
		fmt.Sprintf("Errors: %s", countStyle(m.stats.Errors).Render(formatCount(m.stats.Errors))),
	}
	return panelStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m *model) throughputPanel(width int) string {
	lines := []string{
		titleStyle.Render("📈 THROUGHPUT"),
		fmt.Sprintf("In:  %s @ %s",
			valueStyle.Render(formatCount(m.stats.FramesIn)),
			infoStyle.Render(fmt.Sprintf("%.1f fps", m.inFPS))),
		fmt.Sprintf("Out: %s @ %s",
			valueStyle.Render(formatCount(m.stats.FramesOut)),
			goodStyle.Render(fmt.Sprintf("%.1f fps", m.outFPS))),
		fmt.Sprintf("Dropped: %s  Discontinuities: %s",
			countStyle(m.stats.FramesDropped).Render(formatCount(m.stats.FramesDropped)),
			countStyle(m.stats.Discontinuities).Render(formatCount(m.stats.Discontinuities))),
	}
	return panelStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m *model) decisionsPanel(width int) string {
	total := m.stats.FramesBlended + m.stats.FramesCloned
	blendPct, clonePct := 0, 0
	if total > 0 {
		blendPct = int(m.stats.FramesBlended * 100 / total)
		clonePct = 100 - blendPct
	}
	barWidth := width - 24
	if barWidth < 8 {
		barWidth = 8
	}
	lines := []string{
		titleStyle.Render("🎛  DECISIONS"),
		fmt.Sprintf("Blend: %s %3d%% %s",
			miniBar(blendPct, barWidth, infoStyle),
			blendPct, mutedStyle.Render(formatCount(m.stats.FramesBlended))),
		fmt.Sprintf("Clone: %s %3d%% %s",
			miniBar(clonePct, barWidth, goodStyle),
			clonePct, mutedStyle.Render(formatCount(m.stats.FramesCloned))),
		fmt.Sprintf("Scene cuts: %s", valueStyle.Render(formatCount(m.stats.SceneFallbacks))),
	}
	return panelStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m *model) scenePanel(width int) string {
	sparkWidth := width - 4
	if sparkWidth < 10 {
		sparkWidth = 10
	}
	lines := []string{
		titleStyle.Render("🎞  SCENE ACTIVITY"),
		fmt.Sprintf("Score: %s", valueStyle.Render(fmt.Sprintf("%.2f", m.stats.SceneScore))),
		renderSparkline(m.sceneHistory, sparkWidth),
		mutedStyle.Render(fmt.Sprintf("last %d samples", len(m.sceneHistory))),
	}
	return panelStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m *model) runtimePanel(width int) string {
	lines := []string{
		titleStyle.Render("💻 RUNTIME"),
		fmt.Sprintf("Goroutines: %s   Heap: %s",
			valueStyle.Render(strconv.Itoa(m.runtime.Goroutines)),
			valueStyle.Render(formatBytes(m.runtime.HeapBytes))),
	}
	if b := m.stats.Budget; b != nil && b.LimitBytes > 0 {
		pct := int(float64(b.UsageBytes) / float64(b.LimitBytes) * 100)
		style := goodStyle
		switch {
		case pct >= 90:
			style = badStyle
		case pct >= 75:
			style = warnStyle
		}
		barWidth := width - 40
		if barWidth < 10 {
			barWidth = 10
		}
		lines = append(lines, fmt.Sprintf("Budget: %s %3d%% (%s / %s)  Rejected: %s",
			miniBar(pct, barWidth, style), pct,
			formatBytes(b.UsageBytes), formatBytes(b.LimitBytes),
			countStyle(uint64(b.Rejected)).Render(strconv.FormatInt(b.Rejected, 10))))
	}
	return panelStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// Helper commands
func tickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchSample polls the status server. Stats are mandatory, session and
// runtime gauges are best effort.
func fetchSample(client *http.Client, addr string) tea.Cmd {
	return func() tea.Msg {
		sample := sampleMsg{at: time.Now()}

		stats, err := fetchStats(client, addr)
		switch {
		case errors.Is(err, errNoSession):
			sample.noSession = true
		case err != nil:
			sample.err = err
			return sample
		default:
			sample.stats = stats
			sample.session, _ = fetchSession(client, addr)
		}

		sample.runtime, _ = fetchRuntime(client, addr)
		return sample
	}
}

func fetchStats(client *http.Client, addr string) (convStats, error) {
	var stats convStats

	resp, err := client.Get(fmt.Sprintf("http://%s/api/v1/stats", addr))
	if err != nil {
		return stats, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return stats, errNoSession
	}
	if resp.StatusCode != http.StatusOK {
		return stats, fmt.Errorf("stats endpoint returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return stats, err
	}
	if err := json.Unmarshal(body, &stats); err != nil {
		return stats, err
	}
	return stats, nil
}

func fetchSession(client *http.Client, addr string) (sessionStats, error) {
	var session sessionStats

	resp, err := client.Get(fmt.Sprintf("http://%s/api/v1/session", addr))
	if err != nil {
		return session, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return session, fmt.Errorf("session endpoint returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return session, err
	}
	if err := json.Unmarshal(body, &session); err != nil {
		return session, err
	}
	return session, nil
}

var (
	goroutinesRe = regexp.MustCompile(`go_goroutines (\d+)`)
	heapRe       = regexp.MustCompile(`go_memstats_alloc_bytes ([0-9.e+]+)`)
)

// fetchRuntime scrapes process gauges from the Prometheus text exposition.
func fetchRuntime(client *http.Client, addr string) (runtimeStats, error) {
	var rt runtimeStats

	resp, err := client.Get(fmt.Sprintf("http://%s/metrics", addr))
	if err != nil {
		return rt, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return rt, err
	}
	content := string(body)

	if matches := goroutinesRe.FindStringSubmatch(content); len(matches) > 1 {
		if val, err := strconv.Atoi(matches[1]); err == nil {
			rt.Goroutines = val
		}
	}
	if matches := heapRe.FindStringSubmatch(content); len(matches) > 1 {
		if val, err := strconv.ParseFloat(matches[1], 64); err == nil {
			rt.HeapBytes = int64(val)
		}
	}
	return rt, nil
}

// counterRate converts two cumulative counter readings into a per second
// rate. Counter resets report zero until the next sample.
func counterRate(prev, cur uint64, dt float64) float64 {
	if dt <= 0 || cur < prev {
		return 0
	}
	return float64(cur-prev) / dt
}

// renderSparkline scales data points onto one row of block characters.
func renderSparkline(data []float64, width int) string {
	if len(data) == 0 {
		return mutedStyle.Render(strings.Repeat("▁", width))
	}

	minVal, maxVal := data[0], data[0]
	for _, val := range data {
		if val < minVal {
			minVal = val
		}
		if val > maxVal {
			maxVal = val
		}
	}
	if maxVal == minVal {
		return goodStyle.Render(strings.Repeat("▄", width))
	}

	sparkChars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

	var result strings.Builder
	for i := 0; i < width; i++ {
		dataIndex := i * len(data) / width
		if dataIndex >= len(data) {
			dataIndex = len(data) - 1
		}
		normalized := (data[dataIndex] - minVal) / (maxVal - minVal)
		charIndex := int(normalized * 7)
		if charIndex > 7 {
			charIndex = 7
		}
		result.WriteRune(sparkChars[charIndex])
	}

	return goodStyle.Render(result.String())
}

// miniBar renders a compact progress bar.
func miniBar(pct, width int, style lipgloss.Style) string {
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	filled := pct * width / 100
	return style.Render(strings.Repeat("█", filled)) +
		mutedStyle.Render(strings.Repeat("░", width-filled))
}

func formatCount(num uint64) string {
	switch {
	case num >= 1000000000:
		return fmt.Sprintf("%.1fB", float64(num)/1000000000)
	case num >= 1000000:
		return fmt.Sprintf("%.1fM", float64(num)/1000000)
	case num >= 1000:
		return fmt.Sprintf("%.1fK", float64(num)/1000)
	}
	return strconv.FormatUint(num, 10)
}

func formatBytes(bytes int64) string {
	switch {
	case bytes >= 1024*1024*1024:
		return fmt.Sprintf("%.1f GB", float64(bytes)/(1024*1024*1024))
	case bytes >= 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
	case bytes >= 1024:
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	}
	return fmt.Sprintf("%d B", bytes)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	min := d / time.Minute
	sec := (d - min*time.Minute) / time.Second
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, min, sec)
	}
	if min > 0 {
		return fmt.Sprintf("%dm%02ds", min, sec)
	}
	return fmt.Sprintf("%ds", sec)
}

func truncate(s string, n int) string {
	if n < 4 {
		n = 4
	}
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
