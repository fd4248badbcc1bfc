package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyrazorblade/edl/internal/ui"
	"github.com/rustyrazorblade/edl/pkg/types"
)

var vpcCmd = &cobra.Command{
	Use:   "vpc",
	Short: "Inspect edl VPCs",
	Long:  `List the VPCs edl created and describe their subnets and instances.`,
}

var vpcLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List edl tagged VPCs",
	Long: `List every VPC carrying the edl owner tag with its cluster, CIDR and state.

Examples:
  edl vpc ls              # List edl VPCs
  edl vpc ls -p lab       # List edl VPCs using the lab profile`,
	Args: cobra.NoArgs,
	RunE: runVPCList,
}

var vpcDescribeCmd = &cobra.Command{
	Use:   "describe [vpc-id]",
	Short: "Show subnets and instances of a VPC",
	Long: `Show a VPC with its subnets and instances.
If no VPC ID is provided, an interactive selector will be shown.

Examples:
  edl vpc describe                  # Interactive VPC selector
  edl vpc describe vpc-12345678     # Describe specific VPC`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVPCDescribe,
}

func init() {
	rootCmd.AddCommand(vpcCmd)

	vpcCmd.AddCommand(vpcLsCmd)
	vpcCmd.AddCommand(vpcDescribeCmd)
}

func runVPCList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	vpcs, err := a.svc.VPC.FindVPCsByTag(ctx, types.TagOwner, types.OwnerValue)
	if err != nil {
		return err
	}
	if len(vpcs) == 0 {
		fmt.Println("No edl VPCs found")
		return nil
	}

	ui.PrintVPCTable(os.Stdout, vpcs)
	return nil
}

func runVPCDescribe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	var vpc *types.VPC
	if len(args) > 0 {
		vpc, err = a.svc.VPC.DescribeVPC(ctx, args[0])
		if err != nil {
			return err
		}
	} else {
		vpcs, err := a.svc.VPC.FindVPCsByTag(ctx, types.TagOwner, types.OwnerValue)
		if err != nil {
			return err
		}
		if len(vpcs) == 0 {
			fmt.Println("No edl VPCs found")
			return nil
		}
		if vpc, err = ui.SelectVPC(vpcs); err != nil {
			return err
		}
	}

	fmt.Println()
	fmt.Printf("VPC: %s\n", ui.IDStyle.Render(vpc.ID))
	fmt.Printf("  Name:     %s\n", vpc.Name)
	if cluster := vpc.Tags[types.TagCluster]; cluster != "" {
		fmt.Printf("  Cluster:  %s\n", cluster)
	}
	fmt.Printf("  CIDR:     %s\n", vpc.CIDR)
	fmt.Printf("  State:    %s\n", vpc.State)
	fmt.Printf("  Owner:    %s\n", vpc.OwnerID)
	fmt.Println()

	subnets, err := a.svc.VPC.ListSubnets(ctx, vpc.ID)
	if err != nil {
		return err
	}
	if len(subnets) > 0 {
		fmt.Println("Subnets:")
		ui.PrintSubnetTable(os.Stdout, subnets)
	} else {
		fmt.Println("No subnets found in this VPC")
	}

	instances, err := a.svc.VPC.ListInstances(ctx, vpc.ID)
	if err != nil {
		return err
	}
	if len(instances) > 0 {
		fmt.Println()
		fmt.Println("Instances:")
		ui.PrintInstanceTable(os.Stdout, instances)
	}
	return nil
}
