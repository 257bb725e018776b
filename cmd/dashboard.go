package main

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Martin-Hayot/auction-ledger/internal/ledger"
	"github.com/Martin-Hayot/auction-ledger/pkg/types"
	"github.com/Martin-Hayot/auction-ledger/pkg/utils"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

const dashboardRows = 50

var (
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	baseStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

type tickMsg time.Time

// logBuffer collects log output for the dashboard. The logger writes from
// request goroutines while the dashboard reads, so access is serialized.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func tick() tea.Cmd {
	return tea.Every(5*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Define the model for the Bubble Tea application
type model struct {
	ledger    *ledger.Ledger
	table     table.Model
	viewport  viewport.Model
	logs      *logBuffer
	lines     []string
	broken    int // auctions failing the ledger invariants
	showTable bool
	quitting  bool
}

func (m model) Init() tea.Cmd {
	return tick()
}

func newDashboard(l *ledger.Ledger, logs *logBuffer) model {
	columns := []table.Column{
		{Title: "ID", Width: 6},
		{Title: "NAME", Width: 20},
		{Title: "HIGHEST BIDDER", Width: 20},
		{Title: "HIGHEST BID", Width: 14},
		{Title: "BIDS", Width: 6},
		{Title: "TIME LEFT", Width: 14},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows([]table.Row{}),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	vp := viewport.New(100, 15)
	vp.Style = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		PaddingRight(2)

	m := model{ledger: l, table: t, viewport: vp, logs: logs, showTable: true}
	m.refresh()
	return m
}

// refresh reloads the most recent auctions into the table.
func (m *model) refresh() {
	ctx := context.Background()
	count, err := m.ledger.CountByName(ctx, "")
	if err != nil {
		log.Error("Error counting auctions", "error", err)
		return
	}
	offset := count - dashboardRows
	if offset < 0 {
		offset = 0
	}
	// Pages may be capped below dashboardRows.
	var auctions []types.Auction
	for offset < count {
		page, err := m.ledger.GetAuctionsByName(ctx, "", offset, count-offset)
		if err != nil {
			log.Error("Error getting auctions", "error", err)
			return
		}
		if len(page) == 0 {
			break
		}
		auctions = append(auctions, page...)
		offset += len(page)
	}

	now := time.Now()
	rows := make([]table.Row, 0, len(auctions))
	m.broken = 0
	for i := len(auctions) - 1; i >= 0; i-- {
		a := auctions[i]
		if err := ledger.CheckAuction(a); err != nil {
			m.broken++
			log.Warn("Auction failed invariant check", "id", a.ID, "error", err)
		}
		rows = append(rows, table.Row{
			strconv.FormatUint(a.ID, 10),
			utils.Truncate(a.Name, 20),
			leader(a),
			utils.FormatAmount(a.HighestBid),
			strconv.Itoa(len(a.Bids)),
			timeLeft(a, now),
		})
	}
	m.table.SetRows(rows)
}

func leader(a types.Auction) string {
	if !a.HasLeader() {
		return "-"
	}
	return utils.Truncate(a.HighestBidder.String(), 20)
}

func timeLeft(a types.Auction, now time.Time) string {
	if a.Ended {
		return "Settled"
	}
	left := a.EndTime.Sub(now)
	if left < 0 {
		return "Ended"
	}
	return left.Truncate(time.Second).String()
}

func (m *model) loadLogs() {
	m.lines = nil
	if m.logs == nil {
		return
	}
	m.lines = strings.Split(m.logs.String(), "\n")
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)
	switch msg := msg.(type) {
	case tickMsg:
		if m.showTable {
			m.refresh()
		} else {
			m.loadLogs()
		}
		cmds = append(cmds, tick())

	case tea.KeyMsg:
		switch msg.String() {
		case "up":
			if !m.showTable {
				m.viewport.LineUp(1) // Scroll up one line in logs
			}
		case "down":
			if !m.showTable {
				m.viewport.LineDown(1) // Scroll down one line in logs
			}
		case "r":
			m.refresh()
		case "tab":
			m.showTable = !m.showTable
			if !m.showTable {
				m.loadLogs()
			}
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
	}

	if m.showTable {
		m.table, cmd = m.table.Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)
	}
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// Render the view based on the current state of the model
func (m model) View() string {
	if m.quitting {
		return "Bye!\n"
	}
	if m.showTable {
		status := helpStyle.Render("held: " + utils.FormatAmount(m.ledger.HeldBalance()) +
			" • next id: " + strconv.FormatUint(m.ledger.NextAuctionID(), 10))
		if m.broken > 0 {
			status += " " + warnStyle.Render(strconv.Itoa(m.broken)+" auction(s) failing invariants")
		}
		return baseStyle.Render(m.table.View()) + "\n" + status + "\n" +
			helpStyle.Render("• tab: switch modes • r: refresh • q: exit\n")
	}

	// Create a copy of logs to avoid modifying the original
	styledLogs := make([]string, len(m.lines))
	copy(styledLogs, m.lines)

	styledLogs = utils.ColorizeLogs(styledLogs)

	// only show last 15 lines of logs
	if len(styledLogs) > 15 {
		styledLogs = styledLogs[len(styledLogs)-15:]
	}

	m.viewport.SetContent(strings.Join(styledLogs, "\n"))
	return m.viewport.View() + "\n" + helpStyle.Render("• tab: switch modes • q: exit\n")
}
