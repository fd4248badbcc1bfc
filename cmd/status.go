package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyrazorblade/edl/internal/ui"
	"github.com/rustyrazorblade/edl/pkg/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current cluster and authentication status",
	Long: `Display the current cluster with its networking, EMR cluster, OpenSearch
domain and instances, and verify the AWS credentials in use.

Examples:
  edl status`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the AWS identity in use",
	Long: `Show the account, user and ARN behind the configured credentials.

Examples:
  edl whoami
  edl whoami -p lab`,
	Args: cobra.NoArgs,
	RunE: runWhoami,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(whoamiCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	fmt.Println("Current Status")
	fmt.Println(ui.MutedStyle.Render("─────────────────────────────────"))
	fmt.Println()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Profile:  %s\n", orUnset(settings.Profile))
	fmt.Printf("Region:   %s\n", a.client.Region())
	printIdentity(ctx, a)
	fmt.Println()

	record, err := a.current(ctx)
	if err != nil {
		fmt.Println("Cluster:  " + ui.MutedStyle.Render("(not set)"))
		fmt.Println()
		fmt.Println("Create a cluster with:")
		fmt.Println("  edl up <name> --az <zone>")
		return nil
	}

	net := record.Infrastructure
	fmt.Printf("Cluster:  %s\n", ui.HeaderStyle.Render(record.Name))
	fmt.Printf("Created:  %s\n", record.CreatedAt.Local().Format("2006-01-02 15:04"))
	fmt.Printf("VPC:      %s\n", ui.IDStyle.Render(net.VPCID))
	fmt.Printf("Subnets:  %s\n", strings.Join(net.SubnetIDs, ", "))
	fmt.Printf("Group:    %s\n", net.SecurityGroupID)
	if record.Bucket != "" {
		fmt.Printf("Bucket:   s3://%s\n", record.Bucket)
	}
	printServices(ctx, a, record)

	instances, err := a.svc.VPC.ListInstances(ctx, net.VPCID)
	if err != nil {
		return err
	}
	if len(instances) > 0 {
		fmt.Println()
		ui.PrintInstanceTable(os.Stdout, instances)
	}
	return nil
}

func printIdentity(ctx context.Context, a *app) {
	fmt.Print("Auth:     ")
	identity, err := a.svc.Identity.CallerIdentity(ctx)
	if err != nil {
		fmt.Println(ui.StoppedStyle.Render("✗ Not authenticated"))
		fmt.Printf("          %s\n", ui.MutedStyle.Render(err.Error()))
		if settings.Profile != "" {
			fmt.Println()
			fmt.Println("To authenticate:")
			fmt.Printf("  aws sso login --profile %s\n", settings.Profile)
		}
		return
	}
	fmt.Println(ui.RunningStyle.Render("✓ Authenticated"))
	fmt.Printf("Account:  %s\n", identity.Account)
	fmt.Printf("User:     %s\n", identity.UserID)
	if identity.Arn != "" {
		fmt.Printf("ARN:      %s\n", ui.MutedStyle.Render(identity.Arn))
	}
}

func printServices(ctx context.Context, a *app, record *types.ClusterRecord) {
	if record.EMRClusterID != "" {
		state, err := a.svc.EMR.DescribeCluster(ctx, record.EMRClusterID)
		if err != nil {
			fmt.Printf("EMR:      %s %s\n", record.EMRClusterID, ui.StoppedStyle.Render(err.Error()))
		} else {
			fmt.Printf("EMR:      %s %s\n", state.ID, stateText(state.State))
			if state.Master != "" {
				fmt.Printf("Master:   %s\n", state.Master)
			}
		}
	}
	if record.OpenSearchDomain != "" {
		d, err := a.svc.Search.DescribeDomain(ctx, record.OpenSearchDomain)
		switch {
		case err != nil:
			fmt.Printf("Search:   %s %s\n", record.OpenSearchDomain, ui.StoppedStyle.Render(err.Error()))
		case d.Endpoint != "":
			fmt.Printf("Search:   %s https://%s\n", d.Name, d.Endpoint)
		default:
			fmt.Printf("Search:   %s %s\n", d.Name, ui.PendingStyle.Render("processing"))
		}
	}
}

func runWhoami(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	identity, err := a.svc.Identity.CallerIdentity(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Account: %s\n", identity.Account)
	fmt.Printf("User:    %s\n", identity.UserID)
	fmt.Printf("ARN:     %s\n", identity.Arn)
	return nil
}

func stateText(state string) string {
	switch state {
	case "WAITING", "RUNNING":
		return ui.RunningStyle.Render(state)
	case "STARTING", "BOOTSTRAPPING", "TERMINATING":
		return ui.PendingStyle.Render(state)
	default:
		return ui.StoppedStyle.Render(state)
	}
}

func orUnset(s string) string {
	if s == "" {
		return ui.MutedStyle.Render("(default)")
	}
	return s
}
