package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/rustyrazorblade/edl/pkg/types"
)

// column is one column of a box table
type column struct {
	header string
	width  int
}

// cell is one value of a row. State cells get an indicator and the style
// matching the state.
type cell struct {
	text  string
	style lipgloss.Style
	state bool
}

func text(s string, style lipgloss.Style) cell {
	return cell{text: s, style: style}
}

func state(s string) cell {
	return cell{text: s, state: true}
}

// boxTable renders rows between rounded box borders
type boxTable struct {
	columns []column
	rows    [][]cell
}

func (t *boxTable) add(row ...cell) {
	t.rows = append(t.rows, row)
}

func (t *boxTable) border(sb *strings.Builder, left, mid, right string) {
	sb.WriteString(BorderStyle.Render(left))
	for i, c := range t.columns {
		sb.WriteString(BorderStyle.Render(strings.Repeat(Horizontal, c.width+2)))
		if i < len(t.columns)-1 {
			sb.WriteString(BorderStyle.Render(mid))
		}
	}
	sb.WriteString(BorderStyle.Render(right))
	sb.WriteString("\n")
}

func (t *boxTable) render(w io.Writer) {
	var sb strings.Builder

	t.border(&sb, TopLeft, TopT, TopRight)

	sb.WriteString(BorderStyle.Render(Vertical))
	for _, c := range t.columns {
		sb.WriteString(HeaderStyle.Render(" " + padRight(c.header, c.width) + " "))
		sb.WriteString(BorderStyle.Render(Vertical))
	}
	sb.WriteString("\n")

	t.border(&sb, LeftT, Cross, RightT)

	for _, row := range t.rows {
		sb.WriteString(BorderStyle.Render(Vertical))
		for i, c := range t.columns {
			var v cell
			if i < len(row) {
				v = row[i]
			}
			if v.state {
				indicator, style := stateStyle(v.text)
				sb.WriteString(style.Render(" " + padRight(indicator+" "+v.text, c.width) + " "))
			} else {
				sb.WriteString(v.style.Render(" " + padRight(v.text, c.width) + " "))
			}
			sb.WriteString(BorderStyle.Render(Vertical))
		}
		sb.WriteString("\n")
	}

	t.border(&sb, BottomLeft, BottomT, BottomRight)
	fmt.Fprint(w, sb.String())
}

// PrintInstanceTable prints instances in a styled box table
func PrintInstanceTable(w io.Writer, instances []types.Instance) {
	t := boxTable{columns: []column{
		{"ID", 20}, {"Name", 26}, {"Private IP", 14}, {"Public IP", 15}, {"State", 15}, {"Type", 12}, {"AZ", 12},
	}}
	for _, inst := range instances {
		t.add(
			text(inst.ID, IDStyle),
			text(inst.Name, NameStyle),
			text(inst.PrivateIP, IPStyle),
			text(inst.PublicIP, IPStyle),
			state(inst.State),
			text(inst.Type, TypeStyle),
			text(inst.AZ, AZStyle),
		)
	}
	t.render(w)
	printSummary(w, instances)
}

func printSummary(w io.Writer, instances []types.Instance) {
	counts := make(map[string]int)
	for _, inst := range instances {
		counts[inst.State]++
	}

	var parts []string
	if c := counts["running"]; c > 0 {
		parts = append(parts, RunningStyle.Render(fmt.Sprintf("%d running", c)))
	}
	if c := counts["stopped"]; c > 0 {
		parts = append(parts, StoppedStyle.Render(fmt.Sprintf("%d stopped", c)))
	}
	if c := counts["pending"]; c > 0 {
		parts = append(parts, PendingStyle.Render(fmt.Sprintf("%d pending", c)))
	}
	if c := counts["stopping"]; c > 0 {
		parts = append(parts, PendingStyle.Render(fmt.Sprintf("%d stopping", c)))
	}

	summary := fmt.Sprintf("  %d instances", len(instances))
	if len(parts) > 0 {
		summary += " (" + strings.Join(parts, ", ") + ")"
	}
	fmt.Fprintln(w, summary)
}
