package ui

import (
	"fmt"
	"io"
	"strconv"

	"github.com/rustyrazorblade/edl/pkg/types"
)

// PrintVPCTable prints VPCs with the cluster that owns them
func PrintVPCTable(w io.Writer, vpcs []types.VPC) {
	t := boxTable{columns: []column{
		{"ID", 24}, {"Name", 30}, {"Cluster", 20}, {"CIDR", 18}, {"State", 12},
	}}
	for _, vpc := range vpcs {
		t.add(
			text(vpc.ID, IDStyle),
			text(vpc.Name, NameStyle),
			text(vpc.Tags[types.TagCluster], TypeStyle),
			text(vpc.CIDR, IPStyle),
			state(vpc.State),
		)
	}
	t.render(w)
	fmt.Fprintf(w, "  %d VPCs\n", len(vpcs))
}

// PrintSubnetTable prints subnets in a styled box table
func PrintSubnetTable(w io.Writer, subnets []types.Subnet) {
	t := boxTable{columns: []column{
		{"ID", 26}, {"Name", 30}, {"CIDR", 18}, {"AZ", 14}, {"IPs", 8}, {"State", 12}, {"Public", 8},
	}}
	for _, s := range subnets {
		t.add(
			text(s.ID, IDStyle),
			text(s.Name, NameStyle),
			text(s.CIDR, IPStyle),
			text(s.AZ, AZStyle),
			text(strconv.Itoa(s.AvailableIPs), MutedStyle),
			state(s.State),
			text(formatBool(s.Public), MutedStyle),
		)
	}
	t.render(w)
	fmt.Fprintf(w, "  %d subnets\n", len(subnets))
}
