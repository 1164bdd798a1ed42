// infusectl is the operator TUI: it dials a device's control plane
// and renders live runner, logger and ePacket state in a bubbletea
// model with a tick-driven refresh, clipboard copy on 'y', and live
// host CPU/memory in the footer.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	pscpu "github.com/shirou/gopsutil/v3/cpu"
	psmem "github.com/shirou/gopsutil/v3/mem"

	"infuse/internal/controlplane"
	"infuse/internal/discovery"
)

var (
	addr         = flag.String("addr", "", "device control-plane address (empty = discover)")
	refreshEvery = flag.Duration("refresh", 2*time.Second, "status refresh interval")
	subnet       = flag.String("subnet", "", "discovery subnet (CIDR, empty = auto-detect)")
)

// View tabs.
const (
	scheduleView = iota
	loggersView
	countersView
	viewCount
)

var viewNames = [viewCount]string{"Schedule", "Loggers", "Counters"}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	tabStyle    = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("240"))
	activeTab   = lipgloss.NewStyle().Padding(0, 1).Bold(true).Foreground(lipgloss.Color("205"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type snapshot struct {
	status   *controlplane.StatusReply
	schedule *controlplane.ScheduleReply
	loggers  *controlplane.LoggersReply
}

type snapshotMsg struct {
	snap snapshot
	err  error
}

type tickMsg time.Time

type hostStatsMsg struct {
	cpuPct float64
	memPct float64
}

type model struct {
	client *controlplane.Client
	addr   string

	view       int
	snap       snapshot
	lastErr    error
	copyNotice bool
	width      int

	cpuPct float64
	memPct float64

	scheduleTable table.Model
	loggersTable  table.Model
}

func newModel(client *controlplane.Client, addr string) model {
	scheduleCols := []table.Column{
		{Title: "Slot", Width: 4},
		{Title: "Task", Width: 6},
		{Title: "Running", Width: 8},
		{Title: "Last run", Width: 10},
		{Title: "Last finish", Width: 12},
		{Title: "Starts", Width: 8},
		{Title: "Timeout", Width: 8},
	}
	loggerCols := []table.Column{
		{Title: "Logger", Width: 14},
		{Title: "Block size", Width: 10},
		{Title: "Committed", Width: 10},
		{Title: "Current", Width: 8},
		{Title: "Degraded", Width: 9},
	}
	st := table.New(table.WithColumns(scheduleCols), table.WithFocused(true), table.WithHeight(12))
	lt := table.New(table.WithColumns(loggerCols), table.WithHeight(12))
	return model{client: client, addr: addr, scheduleTable: st, loggersTable: lt}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), fetchHostStats(), tick(*refreshEvery))
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// fetch pulls all three control-plane views in one command.
func (m model) fetch() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		var snap snapshot
		var err error
		if snap.status, err = client.GetStatus(ctx); err != nil {
			return snapshotMsg{err: err}
		}
		if snap.schedule, err = client.GetSchedule(ctx); err != nil {
			return snapshotMsg{err: err}
		}
		if snap.loggers, err = client.GetLoggers(ctx); err != nil {
			return snapshotMsg{err: err}
		}
		return snapshotMsg{snap: snap}
	}
}

func fetchHostStats() tea.Cmd {
	return func() tea.Msg {
		var msg hostStatsMsg
		if cpuPercent, err := pscpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
			msg.cpuPct = cpuPercent[0]
		}
		if memInfo, err := psmem.VirtualMemory(); err == nil {
			msg.memPct = memInfo.UsedPercent
		}
		return msg
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "right", "l":
			m.view = (m.view + 1) % viewCount
			m.copyNotice = false
			return m, nil
		case "shift+tab", "left", "h":
			m.view = (m.view + viewCount - 1) % viewCount
			m.copyNotice = false
			return m, nil
		case "r":
			return m, m.fetch()
		case "y":
			if err := clipboard.WriteAll(m.currentViewJSON()); err == nil {
				m.copyNotice = true
			}
			return m, nil
		}
		// Let the focused table handle navigation keys.
		var cmd tea.Cmd
		switch m.view {
		case scheduleView:
			m.scheduleTable, cmd = m.scheduleTable.Update(msg)
		case loggersView:
			m.loggersTable, cmd = m.loggersTable.Update(msg)
		}
		return m, cmd

	case tickMsg:
		return m, tea.Batch(m.fetch(), fetchHostStats(), tick(*refreshEvery))

	case hostStatsMsg:
		m.cpuPct = msg.cpuPct
		m.memPct = msg.memPct
		return m, nil

	case snapshotMsg:
		if msg.err != nil {
			m.lastErr = msg.err
			return m, nil
		}
		m.lastErr = nil
		m.snap = msg.snap
		m.scheduleTable.SetRows(scheduleRows(msg.snap.schedule))
		m.loggersTable.SetRows(loggerRows(msg.snap.loggers))
		return m, nil
	}
	return m, nil
}

func scheduleRows(s *controlplane.ScheduleReply) []table.Row {
	if s == nil {
		return nil
	}
	rows := make([]table.Row, 0, len(s.Slots))
	for _, slot := range s.Slots {
		running := "-"
		if slot.Running {
			running = "yes"
		}
		rows = append(rows, table.Row{
			strconv.Itoa(slot.SlotIndex),
			strconv.Itoa(int(slot.TaskID)),
			running,
			fmt.Sprintf("%ds", slot.LastRunTick),
			fmt.Sprintf("%ds", slot.LastFinishTick),
			strconv.FormatUint(slot.RescheduleCounter, 10),
			fmt.Sprintf("%ds", slot.TimeoutS),
		})
	}
	return rows
}

func loggerRows(l *controlplane.LoggersReply) []table.Row {
	if l == nil {
		return nil
	}
	rows := make([]table.Row, 0, len(l.Loggers))
	for _, inst := range l.Loggers {
		degraded := "-"
		if inst.Degraded {
			degraded = "YES"
		}
		rows = append(rows, table.Row{
			inst.Name,
			strconv.Itoa(inst.BlockSize),
			strconv.Itoa(inst.CommittedBlocks),
			strconv.Itoa(inst.CurrentBlock),
			degraded,
		})
	}
	return rows
}

// currentViewJSON renders the active view's data as indented JSON for
// the clipboard.
func (m model) currentViewJSON() string {
	var v any
	switch m.view {
	case scheduleView:
		v = m.snap.schedule
	case loggersView:
		v = m.snap.loggers
	default:
		v = m.snap.status
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}

func (m model) View() string {
	var b strings.Builder

	device := m.addr
	if m.snap.status != nil {
		device = fmt.Sprintf("%s (%s)", m.snap.status.DeviceName, m.addr)
	}
	b.WriteString(titleStyle.Render("Infuse Control") + "  " + device + "\n")

	for i, name := range viewNames {
		if i == m.view {
			b.WriteString(activeTab.Render("[" + name + "]"))
		} else {
			b.WriteString(tabStyle.Render(name))
		}
	}
	b.WriteString("\n\n")

	switch m.view {
	case scheduleView:
		b.WriteString(m.scheduleTable.View())
	case loggersView:
		b.WriteString(m.loggersTable.View())
	case countersView:
		b.WriteString(m.countersView())
	}
	b.WriteString("\n")

	if m.lastErr != nil {
		b.WriteString(errStyle.Render("error: "+m.lastErr.Error()) + "\n")
	}
	if m.copyNotice {
		b.WriteString(noticeStyle.Render("✓ Copied to clipboard") + "\n")
	}

	footer := fmt.Sprintf("host cpu %.0f%%  mem %.0f%%  │  tab: switch  r: refresh  y: copy  q: quit", m.cpuPct, m.memPct)
	if m.snap.status != nil {
		footer = fmt.Sprintf("epoch %s (%d)  │  %s", m.snap.status.EpochSource, m.snap.status.EpochSeconds, footer)
	}
	if m.width > 0 && ansi.StringWidth(footer) > m.width {
		footer = ansi.Truncate(footer, m.width, "…")
	}
	b.WriteString(footerStyle.Render(footer))
	return b.String()
}

// countersView renders the status counters sorted by name.
func (m model) countersView() string {
	if m.snap.status == nil || len(m.snap.status.Counters) == 0 {
		return "(no counters yet)"
	}
	names := make([]string, 0, len(m.snap.status.Counters))
	for name := range m.snap.status.Counters {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%-64s %.0f\n", name, m.snap.status.Counters[name])
	}
	return b.String()
}

// resolveAddr returns the explicit -addr, or sweeps the network and
// picks the best responding device.
func resolveAddr() (string, error) {
	if *addr != "" {
		return *addr, nil
	}
	cfg := discovery.NewConfig()
	cfg.Subnet = *subnet
	log.Printf("No -addr given; discovering devices...")
	results, err := discovery.Discover(cfg)
	if err != nil {
		return "", err
	}
	best := discovery.FindBest(results)
	if best == nil {
		return "", fmt.Errorf("no Infuse devices found on the network")
	}
	log.Printf("Using %s (%s)", best.Address, best.DeviceName)
	return best.Address, nil
}

func main() {
	flag.Parse()

	target, err := resolveAddr()
	if err != nil {
		log.Fatalf("Failed to find a device: %v", err)
	}
	client, err := controlplane.Dial(target)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", target, err)
	}
	defer client.Close()

	p := tea.NewProgram(newModel(client, target), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		os.Exit(1)
	}
}
