package ui

import (
	"bytes"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyrazorblade/edl/pkg/types"
)

func vpcs() []types.VPC {
	return []types.VPC{
		{ID: "vpc-1", Name: "demo", CIDR: "10.0.0.0/16", State: "available", Tags: map[string]string{types.TagCluster: "demo"}},
		{ID: "vpc-2", Name: "edl-build-infrastructure", CIDR: "10.1.0.0/16", State: "available"},
		{ID: "vpc-3", Name: "staging", CIDR: "10.0.0.0/16", State: "pending"},
	}
}

func press(m SelectorModel, msgs ...tea.Msg) SelectorModel {
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(SelectorModel)
	}
	return m
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestSelectorFiltersAndSelects(t *testing.T) {
	m := NewSelectorModel("VPC Details", "VPCs", VPCItems(vpcs()))

	m = press(m, runes("build"))
	require.Len(t, m.filtered, 1)
	assert.Contains(t, m.View(), "1/3 VPCs")

	m = press(m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, m.Selected())
	assert.Equal(t, "vpc-2", m.Selected().ID)
	assert.False(t, m.Cancelled())
	assert.Empty(t, m.View())
}

func TestSelectorCursorAndBackspace(t *testing.T) {
	m := NewSelectorModel("VPC Details", "VPCs", VPCItems(vpcs()))

	m = press(m, tea.KeyMsg{Type: tea.KeyDown}, tea.KeyMsg{Type: tea.KeyDown}, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 2, m.cursor)
	m = press(m, tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 1, m.cursor)

	m = press(m, runes("zz"))
	assert.Empty(t, m.filtered)
	assert.Contains(t, m.View(), "No VPCs found")
	m = press(m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, m.Selected())

	m = press(m, tea.KeyMsg{Type: tea.KeyBackspace}, tea.KeyMsg{Type: tea.KeyBackspace})
	assert.Len(t, m.filtered, 3)
}

func TestSelectorCancel(t *testing.T) {
	m := press(NewSelectorModel("VPC Details", "VPCs", VPCItems(vpcs())), tea.KeyMsg{Type: tea.KeyEsc})
	assert.True(t, m.Cancelled())
	assert.Nil(t, m.Selected())
}

func TestClusterItemsMarkCurrent(t *testing.T) {
	items := ClusterItems([]*types.ClusterRecord{{Name: "a"}, {Name: "b"}}, "b")
	require.Len(t, items, 2)
	assert.False(t, items[0].Current)
	assert.True(t, items[1].Current)
}

func TestPrintVPCTable(t *testing.T) {
	var buf bytes.Buffer
	PrintVPCTable(&buf, vpcs())
	out := buf.String()
	assert.Contains(t, out, "vpc-1")
	assert.Contains(t, out, "edl-build-infrastructure")
	assert.Contains(t, out, "3 VPCs")
}

func TestPrintResourcesTable(t *testing.T) {
	var buf bytes.Buffer
	PrintResourcesTable(&buf, []types.DiscoveredResources{{
		VPCID:            "vpc-1",
		VPCName:          "demo",
		InstanceIDs:      []string{"i-1", "i-2", "i-3"},
		NatGatewayIDs:    []string{"nat-1"},
		SecurityGroupIDs: []string{"sg-a", "sg-b"},
		RouteTableIDs:    []string{"rtb-1"},
	}})
	out := buf.String()
	assert.Contains(t, out, "vpc-1")
	assert.Contains(t, out, "1 VPCs, 8 resources")
}

func TestPrintInstanceTable(t *testing.T) {
	var buf bytes.Buffer
	PrintInstanceTable(&buf, []types.Instance{{ID: "i-1", State: "running"}, {ID: "i-2", State: "stopped"}})
	assert.Contains(t, buf.String(), "2 instances")
	assert.Contains(t, buf.String(), "i-2")
}
