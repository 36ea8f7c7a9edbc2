// Package tui is a terminal front end for the moderation queue.
package tui

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/NplusM420/think-marketplace/internal/listing"
	"github.com/NplusM420/think-marketplace/internal/queue"
)

type mode int

const (
	modeBrowse mode = iota
	modeReject
)

type loadedMsg struct{ err error }

type actionDoneMsg struct {
	id      string
	action  string
	listing *listing.Listing
	err     error
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#6BCB77")).MarginBottom(1)
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFD93D"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).MarginTop(1)
	detailStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#4D96FF")).Padding(0, 1)
	errorStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#FF6B6B")).Padding(0, 1)
)

// Model is the bubbletea model for the review queue.
type Model struct {
	ctx   context.Context
	queue *queue.Queue

	mode       mode
	cursor     int
	showDetail bool
	reason     textinput.Model
	spinner    spinner.Model

	// sent holds ids whose action command was issued but has not reported back.
	sent map[string]struct{}

	status   string
	errorMsg string
	width    int
}

// New builds a model over q. Actions run with ctx.
func New(ctx context.Context, q *queue.Queue) *Model {
	reason := textinput.New()
	reason.Placeholder = "reason (optional)"
	reason.CharLimit = 1000

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &Model{
		ctx:     ctx,
		queue:   q,
		reason:  reason,
		spinner: sp,
		sent:    make(map[string]struct{}),
		status:  "Loading pending listings...",
	}
}

// Run starts the full-screen program and blocks until the operator quits.
func Run(ctx context.Context, q *queue.Queue) error {
	p := tea.NewProgram(New(ctx, q), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.load(), m.spinner.Tick)
}

func (m *Model) load() tea.Cmd {
	return func() tea.Msg {
		return loadedMsg{err: m.queue.Load(m.ctx)}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case loadedMsg:
		if msg.err != nil {
			m.errorMsg = msg.err.Error()
			m.status = "Could not refresh; showing last known queue"
		} else {
			m.errorMsg = ""
			m.status = fmt.Sprintf("%d pending", m.queue.Len())
		}
		m.clampCursor()
		return m, nil

	case actionDoneMsg:
		return m.handleActionDone(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.mode == modeReject {
			return m.updateReject(msg)
		}
		return m.updateBrowse(msg)
	}
	return m, nil
}

func (m *Model) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < m.queue.Len()-1 {
			m.cursor++
		}
	case "enter":
		m.showDetail = !m.showDetail
	case "R":
		m.status = "Reloading..."
		return m, m.load()
	case "a":
		return m, m.approve(listing.VisibilityPublic)
	case "f":
		return m, m.approve(listing.VisibilityFeatured)
	case "r":
		if _, ok := m.selected(); ok {
			m.mode = modeReject
			m.reason.SetValue("")
			return m, m.reason.Focus()
		}
	}
	return m, nil
}

func (m *Model) updateReject(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEsc:
		m.mode = modeBrowse
		m.reason.Blur()
		m.status = "Reject cancelled"
		return m, nil
	case tea.KeyEnter:
		m.mode = modeBrowse
		m.reason.Blur()
		return m, m.reject(m.reason.Value())
	}
	var cmd tea.Cmd
	m.reason, cmd = m.reason.Update(msg)
	return m, cmd
}

func (m *Model) approve(visibility listing.Visibility) tea.Cmd {
	l, ok := m.selected()
	if !ok {
		return nil
	}
	if m.busy(l) {
		return nil
	}
	m.status = fmt.Sprintf("Approving %s...", l.Name)
	id := l.ID
	m.sent[id] = struct{}{}
	return func() tea.Msg {
		updated, err := m.queue.Approve(m.ctx, id, visibility)
		return actionDoneMsg{id: id, action: "approve", listing: updated, err: err}
	}
}

func (m *Model) reject(reason string) tea.Cmd {
	l, ok := m.selected()
	if !ok {
		return nil
	}
	if m.busy(l) {
		return nil
	}
	m.status = fmt.Sprintf("Rejecting %s...", l.Name)
	id := l.ID
	m.sent[id] = struct{}{}
	return func() tea.Msg {
		updated, err := m.queue.Reject(m.ctx, id, reason)
		return actionDoneMsg{id: id, action: "reject", listing: updated, err: err}
	}
}

// busy reports whether an action for l is already outstanding and says so in
// the status line.
func (m *Model) busy(l listing.Listing) bool {
	_, sent := m.sent[l.ID]
	if !sent && !m.queue.InFlight(l.ID) {
		return false
	}
	m.status = fmt.Sprintf("%s: action already in progress", l.Name)
	return true
}

func (m *Model) handleActionDone(msg actionDoneMsg) (tea.Model, tea.Cmd) {
	if errors.Is(msg.err, queue.ErrInFlight) {
		m.status = "Action already in progress"
		return m, nil
	}
	delete(m.sent, msg.id)
	if msg.err != nil {
		m.errorMsg = fmt.Sprintf("%s failed: %v", msg.action, msg.err)
		m.status = "Listing left in queue"
		return m, nil
	}
	m.errorMsg = ""
	switch msg.action {
	case "approve":
		m.status = fmt.Sprintf("Approved %s (%s)", msg.listing.Name, msg.listing.Visibility)
	default:
		m.status = fmt.Sprintf("Rejected %s", msg.listing.Name)
	}
	m.clampCursor()
	return m, nil
}

func (m *Model) selected() (listing.Listing, bool) {
	items := m.queue.Items()
	if m.cursor < 0 || m.cursor >= len(items) {
		return listing.Listing{}, false
	}
	return items[m.cursor], true
}

func (m *Model) clampCursor() {
	n := m.queue.Len()
	if m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("⬡ MODERATION QUEUE"))
	b.WriteString("\n")

	items := m.queue.Items()
	if len(items) == 0 {
		if m.queue.Loaded() {
			b.WriteString(dimStyle.Render("No listings waiting for review."))
		}
	}
	for i, l := range items {
		b.WriteString(m.renderRow(i, l))
		b.WriteString("\n")
	}

	if l, ok := m.selected(); ok && m.showDetail {
		b.WriteString("\n")
		b.WriteString(detailStyle.Render(renderDetail(l)))
		b.WriteString("\n")
	}
	if m.mode == modeReject {
		b.WriteString("\nReject reason: ")
		b.WriteString(m.reason.View())
		b.WriteString("\n")
	}
	if m.errorMsg != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("⚠ " + m.errorMsg))
		b.WriteString("\n")
	}
	b.WriteString(statusStyle.Render(m.status))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("a approve · f feature · r reject · enter details · R reload · q quit"))
	return b.String()
}

func (m *Model) renderRow(i int, l listing.Listing) string {
	marker := "  "
	if _, sent := m.sent[l.ID]; sent || m.queue.InFlight(l.ID) {
		marker = m.spinner.View() + " "
	}
	builder := "unknown builder"
	if l.Builder != nil {
		builder = l.Builder.Name
	}
	line := fmt.Sprintf("%s%-28s %-6s %-20s %s", marker, l.Name, l.Type, builder,
		dimStyle.Render("submitted "+humanize.Time(l.CreatedAt)))
	if i == m.cursor {
		return selectedStyle.Render("▸") + line
	}
	return " " + line
}

func renderDetail(l listing.Listing) string {
	lines := []string{
		fmt.Sprintf("%s  (%s, %s)", l.Name, l.Type, l.Status),
		l.ShortDescription,
	}
	if l.LongDescription != "" {
		lines = append(lines, "", l.LongDescription)
	}
	if len(l.Tags) > 0 {
		lines = append(lines, "", "tags: "+strings.Join(l.Tags, ", "))
	}
	if len(l.Categories) > 0 {
		lines = append(lines, "categories: "+strings.Join(l.Categories, ", "))
	}
	for _, kind := range slices.Sorted(maps.Keys(l.Links)) {
		lines = append(lines, fmt.Sprintf("%s: %s", kind, l.Links[kind]))
	}
	lines = append(lines, renderThinkFit(l.ThinkFit)...)
	if l.Builder != nil {
		lines = append(lines, "", "builder: "+l.Builder.Name+" ("+l.Builder.Slug+")")
		if l.Builder.Website != "" {
			lines = append(lines, l.Builder.Website)
		}
	}
	lines = append(lines, "wallet: "+l.SubmitterWallet)
	return strings.Join(lines, "\n")
}

func renderThinkFit(fit *listing.ThinkFit) []string {
	if fit == nil {
		return nil
	}
	lines := []string{"", "think fit:"}
	if soul := fit.Soul; soul != nil {
		line := "  soul: wallet auth " + orDash(string(soul.HasWalletAuth))
		if soul.IdentityAnchor != "" {
			line += ", anchor " + soul.IdentityAnchor
		}
		lines = append(lines, line)
	}
	if mind := fit.Mind; mind != nil {
		lines = append(lines, "  mind: runtime "+orDash(mind.MindRuntime)+", tooling "+orDash(mind.Tooling))
	}
	if body := fit.Body; body != nil {
		line := "  body: interface " + orDash(body.InterfaceType)
		if len(body.Surfaces) > 0 {
			line += ", surfaces " + strings.Join(body.Surfaces, ", ")
		}
		lines = append(lines, line)
	}
	return lines
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
