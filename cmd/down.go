package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/rustyrazorblade/edl/internal/infra"
	"github.com/rustyrazorblade/edl/internal/ui"
	"github.com/rustyrazorblade/edl/pkg/types"
)

var (
	downVPC          string
	downAll          bool
	downBuild        bool
	downSelect       bool
	downDryRun       bool
	downYes          bool
	downDeleteBucket bool
)

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Tear down cluster infrastructure",
	Long: `Delete a VPC and everything inside it: EMR clusters, OpenSearch domains,
instances, NAT gateways, security groups, internet gateway, route tables and
subnets. Deletion is best effort; every failure is reported at the end.

Without flags the current cluster is torn down and forgotten, along with
its log queue and OpenSearch credentials.

Examples:
  edl down                          # Tear down the current cluster
  edl down --dry-run                # Show what would be deleted
  edl down --vpc vpc-0abc1234       # Tear down one VPC
  edl down --select                 # Pick a tagged VPC interactively
  edl down --all --yes              # Tear down every edl VPC without asking
  edl down --build                  # Remove the image build VPC
  edl down --delete-bucket          # Also delete the log bucket`,
	Args: cobra.NoArgs,
	RunE: runDown,
}

func init() {
	rootCmd.AddCommand(downCmd)

	downCmd.Flags().StringVar(&downVPC, "vpc", "", "tear down this VPC")
	downCmd.Flags().BoolVar(&downAll, "all", false, "tear down every edl tagged VPC")
	downCmd.Flags().BoolVar(&downBuild, "build", false, "tear down the image build VPC")
	downCmd.Flags().BoolVar(&downSelect, "select", false, "pick a tagged VPC interactively")
	downCmd.Flags().BoolVar(&downDryRun, "dry-run", false, "only show what would be deleted")
	downCmd.Flags().BoolVarP(&downYes, "yes", "y", false, "do not ask for confirmation")
	downCmd.Flags().BoolVar(&downDeleteBucket, "delete-bucket", false, "also empty and delete the log bucket of the current cluster")
}

func runDown(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	chosen := 0
	for _, set := range []bool{downVPC != "", downAll, downBuild, downSelect} {
		if set {
			chosen++
		}
	}
	if chosen > 1 {
		return errors.New("--vpc, --all, --build and --select are mutually exclusive")
	}
	if downDeleteBucket && chosen > 0 {
		return errors.New("--delete-bucket only applies to the current cluster")
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	var target infra.Target = infra.CurrentCluster{}
	switch {
	case downVPC != "":
		target = infra.SpecificVPC{ID: downVPC}
	case downAll:
		target = infra.AllTagged{}
	case downBuild:
		target = infra.BuildInfrastructure{}
	case downSelect:
		vpcs, err := a.svc.VPC.FindVPCsByTag(ctx, types.TagOwner, types.OwnerValue)
		if err != nil {
			return err
		}
		if len(vpcs) == 0 {
			fmt.Println("No edl VPCs found")
			return nil
		}
		vpc, err := ui.SelectVPC(vpcs)
		if err != nil {
			return err
		}
		target = infra.SpecificVPC{ID: vpc.ID}
	}

	// Taken before the run, which forgets the cluster on success
	var record *types.ClusterRecord
	if _, ok := target.(infra.CurrentCluster); ok {
		if record, err = a.current(ctx); err != nil {
			return err
		}
	}

	td := infra.NewTeardown(a.svc.VPC, infraOptions(),
		infra.WithClusters(a.svc.EMR),
		infra.WithSearch(a.svc.Search),
		infra.WithState(a.state),
		infra.DryRun(downDryRun),
	)

	if downDryRun {
		result, err := td.Run(ctx, target)
		if err != nil {
			return err
		}
		fmt.Println()
		ui.PrintResourcesTable(os.Stdout, result.Deleted)
		return result.Err()
	}

	if !downYes {
		ok, err := confirmTeardown(ctx, td, target)
		if err != nil || !ok {
			return err
		}
	}

	result, err := td.Run(ctx, target)
	if err != nil {
		return err
	}
	if record != nil && result.Success {
		result.Fail(cleanupCluster(ctx, a, record))
	}

	fmt.Println()
	ui.PrintResourcesTable(os.Stdout, result.Deleted)
	if !result.Success {
		return fmt.Errorf("teardown finished with %d error(s): %w", len(result.Errors), result.Err())
	}
	return nil
}

// confirmTeardown lists what the target holds and asks before deleting it
func confirmTeardown(ctx context.Context, td *infra.Teardown, target infra.Target) (bool, error) {
	ids, err := td.Resolve(ctx, target)
	if err != nil {
		return false, err
	}
	if len(ids) == 0 {
		// Run reports that nothing matched
		return true, nil
	}

	var found []types.DiscoveredResources
	for _, id := range ids {
		res, err := td.Discover(ctx, id)
		if err != nil {
			return false, err
		}
		found = append(found, res)
	}
	fmt.Println()
	ui.PrintResourcesTable(os.Stdout, found)
	fmt.Println()

	ok := false
	prompt := &survey.Confirm{
		Message: fmt.Sprintf("Delete %d VPC(s) and everything in them?", len(ids)),
	}
	if err := survey.AskOne(prompt, &ok); err != nil {
		return false, err
	}
	if !ok {
		fmt.Println("Aborted")
	}
	return ok, nil
}

// cleanupCluster removes the per cluster resources living outside the VPC
func cleanupCluster(ctx context.Context, a *app, record *types.ClusterRecord) error {
	var err error
	if record.LogQueueURL != "" {
		err = multierr.Append(err, a.svc.SQS.DeleteQueue(ctx, record.LogQueueURL))
	}
	if record.OpenSearchDomain != "" {
		err = multierr.Append(err, a.svc.Credentials.DeleteCredentials(ctx, record.OpenSearchDomain))
	}
	if downDeleteBucket && record.Bucket != "" {
		err = multierr.Append(err, a.svc.S3.EmptyAndDeleteBucket(ctx, record.Bucket))
	}
	return err
}
