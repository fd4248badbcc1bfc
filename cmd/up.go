package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyrazorblade/edl/internal/aws"
	"github.com/rustyrazorblade/edl/internal/infra"
	"github.com/rustyrazorblade/edl/internal/ui"
	"github.com/rustyrazorblade/edl/pkg/provider"
	"github.com/rustyrazorblade/edl/pkg/types"
)

// logPrefix is where cluster services write their logs in the bucket
const logPrefix = "logs/"

var (
	upAZs      []string
	upSSHCIDRs []string
	upSSHPort  int32
)

var upCmd = &cobra.Command{
	Use:   "up <cluster>",
	Short: "Create or repair the infrastructure of a cluster",
	Long: `Create the VPC, subnets, internet gateway, routes and security group of a
cluster, plus its log bucket, log queue and instance role. Running it again
repairs anything missing and leaves existing resources alone.

The cluster becomes the current cluster.

Examples:
  edl up demo --az us-west-2a --az us-west-2b
  edl up demo --ssh-cidr 203.0.113.7/32 --ssh-port 2222`,
	Args: cobra.ExactArgs(1),
	RunE: runUp,
}

var buildInfraCmd = &cobra.Command{
	Use:   "build-infra",
	Short: "Create or repair the image build VPC",
	Long: `Create the shared VPC used to build machine images. It has one public
subnet and allows SSH from anywhere.

Examples:
  edl build-infra
  edl down --build          # Remove it again`,
	Args: cobra.NoArgs,
	RunE: runBuildInfra,
}

func init() {
	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(buildInfraCmd)

	upCmd.Flags().StringSliceVar(&upAZs, "az", nil, "availability zone for a subnet (repeatable, default availability_zones)")
	upCmd.Flags().StringSliceVar(&upSSHCIDRs, "ssh-cidr", nil, "CIDR allowed to SSH in (repeatable, default ssh_cidrs)")
	upCmd.Flags().Int32Var(&upSSHPort, "ssh-port", 0, "SSH port (default ssh_port)")
}

func runUp(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name := args[0]

	azs := upAZs
	if len(azs) == 0 {
		azs = settings.AvailabilityZones
	}
	if len(azs) == 0 {
		return errors.New("no availability zones: pass --az or set availability_zones")
	}
	cidrs := upSSHCIDRs
	if len(cidrs) == 0 {
		cidrs = settings.SSHCIDRs
	}
	if len(cidrs) == 0 {
		return errors.New("no SSH CIDRs: pass --ssh-cidr or set ssh_cidrs")
	}
	port := upSSHPort
	if port == 0 {
		port = settings.SSHPort
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	record, err := a.state.Load(ctx, name)
	switch {
	case errors.Is(err, provider.ErrNotFound):
		record = &types.ClusterRecord{Name: name, CreatedAt: time.Now().UTC()}
	case err != nil:
		return err
	}

	rec := infra.NewReconciler(a.svc.VPC, infraOptions()...)
	net, err := rec.ClusterInfrastructure(ctx, name, azs, cidrs, port, settings.Tags)
	if err != nil {
		return err
	}
	record.Region = a.client.Region()
	record.Infrastructure = *net

	tags := clusterTags(name)
	account, err := a.svc.Identity.AccountID(ctx)
	if err != nil {
		return err
	}
	bucket, err := a.svc.S3.FindOrCreateBucket(ctx, aws.BucketName(account, name), tags)
	if err != nil {
		return err
	}
	if err := a.svc.S3.PutBucketPolicy(ctx, bucket.Name, aws.AccountBucketPolicy(account, bucket.Name)); err != nil {
		return err
	}
	record.Bucket = bucket.Name

	queue, err := a.svc.SQS.FindOrCreateQueue(ctx, name+"-logs", tags)
	if err != nil {
		return err
	}
	if err := a.svc.SQS.AllowBucketNotifications(ctx, queue, bucket.Name); err != nil {
		return err
	}
	if err := a.svc.S3.NotifyQueue(ctx, bucket.Name, queue.ARN, logPrefix); err != nil {
		return err
	}
	record.LogQueueURL = queue.URL

	if err := a.svc.IAM.EnsureInstanceRole(ctx, bucket.Name, tags); err != nil {
		return err
	}

	if err := a.state.Save(ctx, record); err != nil {
		return err
	}

	subnets, err := a.svc.VPC.ListSubnets(ctx, net.VPCID)
	if err != nil {
		return err
	}
	fmt.Println()
	ui.PrintSubnetTable(os.Stdout, subnets)
	fmt.Printf("\nCluster %s is ready in %s (%s)\n", ui.NameStyle.Render(name), net.VPCID, record.Region)
	return nil
}

func runBuildInfra(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	rec := infra.NewReconciler(a.svc.VPC, infraOptions()...)
	net, err := rec.BuildInfrastructure(ctx, settings.Tags)
	if err != nil {
		return err
	}

	fmt.Printf("VPC:            %s\n", net.VPCID)
	if len(net.SubnetIDs) > 0 {
		fmt.Printf("Subnet:         %s\n", net.SubnetIDs[0])
	}
	fmt.Printf("Security group: %s\n", net.SecurityGroupID)
	return nil
}
