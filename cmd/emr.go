package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyrazorblade/edl/internal/aws"
	"github.com/rustyrazorblade/edl/internal/infra"
	"github.com/rustyrazorblade/edl/internal/ui"
	"github.com/rustyrazorblade/edl/pkg/types"
)

var (
	emrRelease    string
	emrMasterType string
	emrCoreType   string
	emrCoreCount  int32
	emrKeyName    string
	emrApps       []string
	emrNoWait     bool
)

var emrCmd = &cobra.Command{
	Use:   "emr",
	Short: "Manage the EMR cluster of the current cluster",
	Long:  `Start, inspect and stop the EMR cluster running inside the current cluster's VPC.`,
}

var emrStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Launch an EMR cluster",
	Long: `Launch an EMR cluster into the first subnet of the current cluster and wait
until it is ready. Cluster logs go to the cluster bucket.

Examples:
  edl emr start
  edl emr start --core-count 4 --core-type m5.2xlarge
  edl emr start --app Spark --app Hive --no-wait`,
	Args: cobra.NoArgs,
	RunE: runEMRStart,
}

var emrStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the EMR cluster state",
	Args:  cobra.NoArgs,
	RunE:  runEMRStatus,
}

var emrStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Terminate the EMR cluster",
	Long: `Terminate the EMR cluster of the current cluster and wait until it is gone.

Examples:
  edl emr stop`,
	Args: cobra.NoArgs,
	RunE: runEMRStop,
}

func init() {
	rootCmd.AddCommand(emrCmd)

	emrCmd.AddCommand(emrStartCmd)
	emrCmd.AddCommand(emrStatusCmd)
	emrCmd.AddCommand(emrStopCmd)

	emrStartCmd.Flags().StringVar(&emrRelease, "release", aws.DefaultReleaseLabel, "EMR release label")
	emrStartCmd.Flags().StringVar(&emrMasterType, "master-type", aws.DefaultEMRInstance, "master instance type")
	emrStartCmd.Flags().StringVar(&emrCoreType, "core-type", "", "core instance type (default master type)")
	emrStartCmd.Flags().Int32Var(&emrCoreCount, "core-count", 2, "number of core nodes")
	emrStartCmd.Flags().StringVar(&emrKeyName, "key-name", "", "EC2 key pair for SSH to the nodes")
	emrStartCmd.Flags().StringSliceVar(&emrApps, "app", nil, "application to install (repeatable, default Spark)")
	emrStartCmd.Flags().BoolVar(&emrNoWait, "no-wait", false, "return once the cluster is launched")
}

func runEMRStart(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	record, err := a.current(ctx)
	if err != nil {
		return err
	}
	if record.EMRClusterID != "" {
		state, err := a.svc.EMR.DescribeCluster(ctx, record.EMRClusterID)
		if err == nil && !infra.EMRFinished(state.State) {
			return fmt.Errorf("cluster %s already runs EMR cluster %s (%s)", record.Name, state.ID, state.State)
		}
	}
	if len(record.Infrastructure.SubnetIDs) == 0 {
		return fmt.Errorf("cluster %s has no subnets: run 'edl up %s' first", record.Name, record.Name)
	}

	tags := clusterTags(record.Name)
	roles, err := a.svc.IAM.EnsureEMRRoles(ctx, tags)
	if err != nil {
		return err
	}

	cfg := types.EMRClusterConfig{
		Name:            record.Name + "-emr",
		ReleaseLabel:    emrRelease,
		SubnetID:        record.Infrastructure.SubnetIDs[0],
		SecurityGroupID: record.Infrastructure.SecurityGroupID,
		KeyName:         emrKeyName,
		MasterType:      emrMasterType,
		CoreType:        emrCoreType,
		CoreCount:       emrCoreCount,
		ServiceRole:     roles.ServiceRole,
		JobFlowRole:     roles.JobFlowRole,
		Applications:    emrApps,
		Tags:            tags,
	}
	if record.Bucket != "" {
		cfg.LogURI = fmt.Sprintf("s3://%s/%semr/", record.Bucket, logPrefix)
	}

	lc := infra.NewEMRLifecycle(a.svc.EMR, infraOptions()...)
	id, err := lc.Create(ctx, cfg)
	if err != nil {
		return err
	}
	record.EMRClusterID = id
	if err := a.state.Save(ctx, record); err != nil {
		return err
	}
	if emrNoWait {
		fmt.Printf("Launched EMR cluster %s\n", ui.IDStyle.Render(id))
		return nil
	}

	_, err = lc.WaitForReady(ctx, id)
	return err
}

func runEMRStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	record, err := a.current(ctx)
	if err != nil {
		return err
	}
	if record.EMRClusterID == "" {
		fmt.Printf("Cluster %s has no EMR cluster\n", record.Name)
		return nil
	}

	state, err := a.svc.EMR.DescribeCluster(ctx, record.EMRClusterID)
	if err != nil {
		return err
	}
	fmt.Printf("EMR cluster: %s\n", ui.IDStyle.Render(state.ID))
	fmt.Printf("  State:     %s\n", stateText(state.State))
	if state.Master != "" {
		fmt.Printf("  Master:    %s\n", state.Master)
	}
	if state.Reason != "" {
		fmt.Printf("  Reason:    %s\n", ui.MutedStyle.Render(state.Reason))
	}
	return nil
}

func runEMRStop(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	record, err := a.current(ctx)
	if err != nil {
		return err
	}
	if record.EMRClusterID == "" {
		return errors.New("no EMR cluster recorded for the current cluster")
	}

	lc := infra.NewEMRLifecycle(a.svc.EMR, infraOptions()...)
	if err := lc.Terminate(ctx, record.EMRClusterID); err != nil {
		return err
	}
	if err := lc.WaitForTerminated(ctx, record.EMRClusterID); err != nil {
		return err
	}
	record.EMRClusterID = ""
	return a.state.Save(ctx, record)
}
