package ui

import (
	"fmt"
	"io"
	"strconv"

	"github.com/rustyrazorblade/edl/pkg/types"
)

// PrintResourcesTable prints one row per VPC with the number of resources
// of each kind found in it
func PrintResourcesTable(w io.Writer, found []types.DiscoveredResources) {
	t := boxTable{columns: []column{
		{"VPC", 22}, {"Name", 24}, {"EMR", 4}, {"Search", 6}, {"EC2", 4}, {"NAT", 4}, {"SGs", 4}, {"RTs", 4}, {"Subnets", 7}, {"IGW", 4},
	}}
	count := func(ids []string) cell {
		style := MutedStyle
		if len(ids) > 0 {
			style = PendingStyle
		}
		return text(strconv.Itoa(len(ids)), style)
	}

	total := 0
	for _, r := range found {
		igw := text("-", MutedStyle)
		if r.InternetGatewayID != "" {
			igw = text("yes", PendingStyle)
		}
		t.add(
			text(r.VPCID, IDStyle),
			text(r.VPCName, NameStyle),
			count(r.EMRClusterIDs),
			count(r.SearchDomains),
			count(r.InstanceIDs),
			count(r.NatGatewayIDs),
			count(r.SecurityGroupIDs),
			count(r.RouteTableIDs),
			count(r.SubnetIDs),
			igw,
		)
		total += r.Count()
	}
	t.render(w)
	fmt.Fprintf(w, "  %d VPCs, %d resources\n", len(found), total)
}
