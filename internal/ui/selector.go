package ui

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"

	"github.com/rustyrazorblade/edl/pkg/types"
)

const (
	listHeight       = 8
	detailLabelWidth = 12
	detailRows       = 6
)

// ErrCancelled is returned when the user leaves a selector without choosing
var ErrCancelled = errors.New("selection cancelled")

// Detail is one labelled line of the details panel
type Detail struct {
	Label string
	Value string
}

// Item is one selectable row
type Item struct {
	ID      string
	Columns []string // shown after the ID
	Details []Detail
	Current bool
}

func (it Item) matches(query string) bool {
	if strings.Contains(strings.ToLower(it.ID), query) {
		return true
	}
	for _, c := range it.Columns {
		if strings.Contains(strings.ToLower(c), query) {
			return true
		}
	}
	return false
}

// SelectorModel is a bubbletea model that filters a list as the user types
// and returns the chosen item
type SelectorModel struct {
	title        string
	noun         string
	items        []Item
	filtered     []Item
	cursor       int
	offset       int
	search       string
	selected     *Item
	quitting     bool
	cancelled    bool
	termWidth    int
	contentWidth int
}

// NewSelectorModel creates a selector over items
func NewSelectorModel(title, noun string, items []Item) SelectorModel {
	m := SelectorModel{
		title:     title,
		noun:      noun,
		items:     items,
		filtered:  items,
		termWidth: 80,
	}
	m.calculateWidths()
	return m
}

func (m *SelectorModel) calculateWidths() {
	m.contentWidth = m.termWidth - 2
	if m.contentWidth < minWidth {
		m.contentWidth = minWidth
	}
	if m.contentWidth > maxWidth {
		m.contentWidth = maxWidth
	}
}

// Selected returns the chosen item, or nil
func (m SelectorModel) Selected() *Item {
	return m.selected
}

// Cancelled reports whether the user left without choosing
func (m SelectorModel) Cancelled() bool {
	return m.cancelled
}

// Init implements tea.Model
func (m SelectorModel) Init() tea.Cmd {
	return tea.WindowSize()
}

// Update implements tea.Model
func (m SelectorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.termWidth = msg.Width
		m.calculateWidths()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			m.cancelled = true
			return m, tea.Quit

		case tea.KeyEnter:
			if len(m.filtered) > 0 {
				item := m.filtered[m.cursor]
				m.selected = &item
				m.quitting = true
				return m, tea.Quit
			}

		case tea.KeyUp:
			if m.cursor > 0 {
				m.cursor--
				if m.cursor < m.offset {
					m.offset = m.cursor
				}
			}

		case tea.KeyDown:
			if m.cursor < len(m.filtered)-1 {
				m.cursor++
				if m.cursor >= m.offset+listHeight {
					m.offset = m.cursor - listHeight + 1
				}
			}

		case tea.KeyBackspace:
			if len(m.search) > 0 {
				m.search = m.search[:len(m.search)-1]
				m.filter()
			}

		case tea.KeyRunes:
			m.search += string(msg.Runes)
			m.filter()
		}
	}

	return m, nil
}

func (m *SelectorModel) filter() {
	if m.search == "" {
		m.filtered = m.items
	} else {
		query := strings.ToLower(m.search)
		m.filtered = nil
		for _, it := range m.items {
			if it.matches(query) {
				m.filtered = append(m.filtered, it)
			}
		}
	}
	if m.cursor >= len(m.filtered) {
		if len(m.filtered) > 0 {
			m.cursor = len(m.filtered) - 1
		} else {
			m.cursor = 0
		}
	}
	m.offset = 0
}

func (m SelectorModel) line(sb *strings.Builder, content string) {
	sb.WriteString(BorderStyle.Render(Vertical))
	sb.WriteString(content)
	sb.WriteString(BorderStyle.Render(Vertical))
	sb.WriteString("\n")
}

func (m SelectorModel) blank(sb *strings.Builder) {
	m.line(sb, strings.Repeat(" ", m.contentWidth))
}

// View implements tea.Model
func (m SelectorModel) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder
	w := m.contentWidth

	sb.WriteString(BorderStyle.Render(TopLeft + strings.Repeat(Horizontal, w) + TopRight))
	sb.WriteString("\n")

	m.line(&sb, NameStyle.Render(padRight(" > "+m.search, w)))
	m.blank(&sb)

	visibleEnd := m.offset + listHeight
	if visibleEnd > len(m.filtered) {
		visibleEnd = len(m.filtered)
	}
	for i := m.offset; i < visibleEnd; i++ {
		m.line(&sb, m.renderRow(i))
	}
	for i := visibleEnd - m.offset; i < listHeight; i++ {
		m.blank(&sb)
	}
	m.blank(&sb)

	sb.WriteString(BorderStyle.Render(LeftT + strings.Repeat(Horizontal, w) + RightT))
	sb.WriteString("\n")

	m.renderDetails(&sb)

	sb.WriteString(BorderStyle.Render(BottomLeft + strings.Repeat(Horizontal, w) + BottomRight))
	sb.WriteString("\n")

	sb.WriteString(m.renderStatusBar())
	return sb.String()
}

func (m SelectorModel) renderRow(idx int) string {
	it := m.filtered[idx]
	w := m.contentWidth

	var line strings.Builder
	prefix := "   "
	if idx == m.cursor {
		prefix = " > "
	}
	line.WriteString(prefix)
	plainWidth := 3

	line.WriteString(IDStyle.Render(padRight(it.ID, 24)))
	line.WriteString("  ")
	plainWidth += 26

	for i, c := range it.Columns {
		width := 18
		if i == len(it.Columns)-1 {
			width = w - plainWidth - 2
			if width < 10 {
				width = 10
			}
		}
		line.WriteString(NameStyle.Render(padRight(c, width)))
		line.WriteString("  ")
		plainWidth += width + 2
	}

	marker := ""
	if it.Current {
		marker = "*"
	}
	if plainWidth < w {
		line.WriteString(RunningStyle.Render(padRight(marker, w-plainWidth)))
	}
	return line.String()
}

func (m SelectorModel) renderDetails(sb *strings.Builder) {
	w := m.contentWidth
	m.line(sb, HeaderStyle.Render(padRight(" "+m.title, w)))
	m.line(sb, MutedStyle.Render(padRight(" "+strings.Repeat(Horizontal, 20), w)))

	rows := 0
	if len(m.filtered) == 0 {
		m.line(sb, MutedStyle.Render(padRight(" No "+m.noun+" found", w)))
		rows++
	} else {
		for _, d := range m.filtered[m.cursor].Details {
			value := d.Value
			maxValueWidth := w - 1 - detailLabelWidth
			if runewidth.StringWidth(value) > maxValueWidth {
				value = runewidth.Truncate(value, maxValueWidth, "...")
			}
			m.line(sb, MutedStyle.Render(" "+padRight(d.Label, detailLabelWidth))+
				NameStyle.Render(padRight(value, w-1-detailLabelWidth)))
			rows++
		}
	}
	for ; rows < detailRows; rows++ {
		m.blank(sb)
	}
}

func (m SelectorModel) renderStatusBar() string {
	w := m.contentWidth + 2
	countInfo := fmt.Sprintf("  %d/%d %s", len(m.filtered), len(m.items), m.noun)
	hints := "[Enter:select] [Esc:cancel]"

	padding := w - runewidth.StringWidth(countInfo) - runewidth.StringWidth(hints)
	if padding < 1 {
		padding = 1
	}
	return countInfo + strings.Repeat(" ", padding) + HintStyle.Render(hints) + "\n"
}

func run(m SelectorModel) (*Item, error) {
	finalModel, err := tea.NewProgram(m).Run()
	if err != nil {
		return nil, fmt.Errorf("error running selector: %w", err)
	}
	result := finalModel.(SelectorModel)
	if result.cancelled || result.selected == nil {
		return nil, ErrCancelled
	}
	return result.selected, nil
}

// VPCItems turns VPCs into selector rows
func VPCItems(vpcs []types.VPC) []Item {
	items := make([]Item, 0, len(vpcs))
	for _, vpc := range vpcs {
		items = append(items, Item{
			ID:      vpc.ID,
			Columns: []string{vpc.CIDR, vpc.Name},
			Details: []Detail{
				{"ID:", vpc.ID},
				{"Name:", vpc.Name},
				{"Cluster:", vpc.Tags[types.TagCluster]},
				{"CIDR:", vpc.CIDR},
				{"State:", vpc.State},
				{"Owner:", vpc.OwnerID},
			},
		})
	}
	return items
}

// SelectVPC displays an interactive selector for VPCs
func SelectVPC(vpcs []types.VPC) (*types.VPC, error) {
	if len(vpcs) == 0 {
		return nil, fmt.Errorf("no VPCs available")
	}
	it, err := run(NewSelectorModel("VPC Details", "VPCs", VPCItems(vpcs)))
	if err != nil {
		return nil, err
	}
	for i := range vpcs {
		if vpcs[i].ID == it.ID {
			return &vpcs[i], nil
		}
	}
	return nil, ErrCancelled
}

// ClusterItems turns cached cluster records into selector rows
func ClusterItems(records []*types.ClusterRecord, current string) []Item {
	items := make([]Item, 0, len(records))
	for _, r := range records {
		items = append(items, Item{
			ID:      r.Name,
			Columns: []string{r.Region, r.Infrastructure.VPCID},
			Current: r.Name == current,
			Details: []Detail{
				{"Cluster:", r.Name},
				{"Region:", r.Region},
				{"VPC:", r.Infrastructure.VPCID},
				{"EMR:", r.EMRClusterID},
				{"OpenSearch:", r.OpenSearchDomain},
				{"Created:", r.CreatedAt.Format("2006-01-02 15:04")},
			},
		})
	}
	return items
}

// SelectCluster displays an interactive selector for cached clusters and
// returns the chosen name
func SelectCluster(records []*types.ClusterRecord, current string) (string, error) {
	if len(records) == 0 {
		return "", fmt.Errorf("no clusters available")
	}
	it, err := run(NewSelectorModel("Cluster Details", "clusters", ClusterItems(records, current)))
	if err != nil {
		return "", err
	}
	return it.ID, nil
}
