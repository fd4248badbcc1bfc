package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyrazorblade/edl/internal/aws"
)

var iamCmd = &cobra.Command{
	Use:   "iam",
	Short: "Manage the IAM roles edl runs with",
}

var iamSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create or repair the EMR and lab node roles",
	Long: `Create the EMR service role, the EMR EC2 role and the lab node role with
their instance profiles. When a cluster is current, the lab node role is
also granted access to its bucket. Safe to run repeatedly.

Examples:
  edl iam setup`,
	Args: cobra.NoArgs,
	RunE: runIAMSetup,
}

func init() {
	rootCmd.AddCommand(iamCmd)
	iamCmd.AddCommand(iamSetupCmd)
}

func runIAMSetup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	cluster, bucket := "", ""
	if record, err := a.state.Current(ctx); err == nil {
		cluster, bucket = record.Name, record.Bucket
	}
	tags := clusterTags(cluster)

	roles, err := a.svc.IAM.EnsureEMRRoles(ctx, tags)
	if err != nil {
		return err
	}
	if err := a.svc.IAM.EnsureInstanceRole(ctx, bucket, tags); err != nil {
		return err
	}

	fmt.Printf("EMR service role:  %s\n", roles.ServiceRole)
	fmt.Printf("EMR job flow role: %s\n", roles.JobFlowRole)
	fmt.Printf("Lab node role:     %s\n", aws.InstanceRoleName)
	return nil
}
