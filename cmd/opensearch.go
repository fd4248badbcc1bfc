package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyrazorblade/edl/internal/aws"
	"github.com/rustyrazorblade/edl/internal/infra"
	"github.com/rustyrazorblade/edl/internal/ui"
	"github.com/rustyrazorblade/edl/pkg/provider"
	"github.com/rustyrazorblade/edl/pkg/types"
)

var (
	searchName     string
	searchEngine   string
	searchType     string
	searchCount    int32
	searchVolumeGB int32
	searchNoWait   bool
)

var opensearchCmd = &cobra.Command{
	Use:     "opensearch",
	Aliases: []string{"os"},
	Short:   "Manage the OpenSearch domain of the current cluster",
	Long:    `Create, inspect and delete the VPC-only OpenSearch domain of the current cluster.`,
}

var opensearchCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an OpenSearch domain",
	Long: `Create an OpenSearch domain in the subnets of the current cluster and wait
until it has an endpoint. The master user password is generated once and kept
in Secrets Manager.

Examples:
  edl opensearch create
  edl opensearch create --count 2 --instance-type r6g.large.search
  edl opensearch create --name demo-search --no-wait`,
	Args: cobra.NoArgs,
	RunE: runOpenSearchCreate,
}

var opensearchStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the OpenSearch domain state",
	Args:  cobra.NoArgs,
	RunE:  runOpenSearchStatus,
}

var opensearchDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the OpenSearch domain and its credentials",
	Long: `Delete the OpenSearch domain of the current cluster, wait until it is gone
and remove its master user secret.

Examples:
  edl opensearch delete`,
	Args: cobra.NoArgs,
	RunE: runOpenSearchDelete,
}

var opensearchLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List OpenSearch domains inside the current cluster's VPC",
	Args:  cobra.NoArgs,
	RunE:  runOpenSearchList,
}

func init() {
	rootCmd.AddCommand(opensearchCmd)

	opensearchCmd.AddCommand(opensearchCreateCmd)
	opensearchCmd.AddCommand(opensearchStatusCmd)
	opensearchCmd.AddCommand(opensearchDeleteCmd)
	opensearchCmd.AddCommand(opensearchLsCmd)

	opensearchCreateCmd.Flags().StringVar(&searchName, "name", "", "domain name (default <cluster>-search)")
	opensearchCreateCmd.Flags().StringVar(&searchEngine, "engine", aws.DefaultEngineVersion, "engine version")
	opensearchCreateCmd.Flags().StringVar(&searchType, "instance-type", aws.DefaultSearchInstanceType, "data node instance type")
	opensearchCreateCmd.Flags().Int32Var(&searchCount, "count", 1, "number of data nodes")
	opensearchCreateCmd.Flags().Int32Var(&searchVolumeGB, "volume", aws.DefaultSearchVolumeGB, "EBS volume size per node in GB")
	opensearchCreateCmd.Flags().BoolVar(&searchNoWait, "no-wait", false, "return once creation has started")
}

func runOpenSearchCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	record, err := a.current(ctx)
	if err != nil {
		return err
	}

	name := searchName
	if name == "" {
		name = record.Name + "-search"
	}
	if record.OpenSearchDomain != "" && record.OpenSearchDomain != name {
		return fmt.Errorf("cluster %s already has OpenSearch domain %s", record.Name, record.OpenSearchDomain)
	}

	tags := clusterTags(record.Name)
	creds, err := a.svc.Credentials.EnsureMasterPassword(ctx, name, tags)
	if err != nil {
		return err
	}

	lc := infra.NewOpenSearchLifecycle(a.svc.Search, infraOptions()...)
	if _, err := lc.Create(ctx, types.OpenSearchConfig{
		DomainName:      name,
		EngineVersion:   searchEngine,
		InstanceType:    searchType,
		InstanceCount:   searchCount,
		VolumeSizeGB:    searchVolumeGB,
		SubnetIDs:       record.Infrastructure.SubnetIDs,
		SecurityGroupID: record.Infrastructure.SecurityGroupID,
		MasterUser:      creds.Username,
		MasterPassword:  creds.Password,
		Tags:            tags,
	}); err != nil {
		return err
	}
	record.OpenSearchDomain = name
	if err := a.state.Save(ctx, record); err != nil {
		return err
	}

	fmt.Printf("Master user %s, password in secret %s\n", creds.Username, aws.SecretName(name))
	if searchNoWait {
		return nil
	}
	_, err = lc.WaitForReady(ctx, name)
	return err
}

func runOpenSearchStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	record, err := a.current(ctx)
	if err != nil {
		return err
	}
	if record.OpenSearchDomain == "" {
		fmt.Printf("Cluster %s has no OpenSearch domain\n", record.Name)
		return nil
	}

	d, err := a.svc.Search.DescribeDomain(ctx, record.OpenSearchDomain)
	if errors.Is(err, provider.ErrNotFound) {
		fmt.Printf("OpenSearch domain %s no longer exists\n", record.OpenSearchDomain)
		return nil
	}
	if err != nil {
		return err
	}

	state := ui.PendingStyle.Render("creating")
	switch {
	case d.Deleted:
		state = ui.StoppedStyle.Render("deleting")
	case d.Processing:
		state = ui.PendingStyle.Render("processing")
	case d.Endpoint != "":
		state = ui.RunningStyle.Render("active")
	}
	fmt.Printf("Domain:     %s\n", ui.NameStyle.Render(d.Name))
	fmt.Printf("  State:    %s\n", state)
	if d.Endpoint != "" {
		fmt.Printf("  Endpoint: https://%s\n", d.Endpoint)
	}
	fmt.Printf("  ARN:      %s\n", ui.MutedStyle.Render(d.ARN))
	return nil
}

func runOpenSearchDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	record, err := a.current(ctx)
	if err != nil {
		return err
	}
	if record.OpenSearchDomain == "" {
		return errors.New("no OpenSearch domain recorded for the current cluster")
	}

	name := record.OpenSearchDomain
	lc := infra.NewOpenSearchLifecycle(a.svc.Search, infraOptions()...)
	if err := lc.Terminate(ctx, name); err != nil {
		return err
	}
	if err := lc.WaitForTerminated(ctx, name); err != nil {
		return err
	}
	if err := a.svc.Credentials.DeleteCredentials(ctx, name); err != nil {
		return err
	}
	record.OpenSearchDomain = ""
	return a.state.Save(ctx, record)
}

func runOpenSearchList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	record, err := a.current(ctx)
	if err != nil {
		return err
	}

	lc := infra.NewOpenSearchLifecycle(a.svc.Search, infraOptions()...)
	names, err := lc.FindDomainsInVPC(ctx, record.Infrastructure.SubnetIDs)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Printf("No OpenSearch domains in %s\n", record.Infrastructure.VPCID)
		return nil
	}
	for _, name := range names {
		marker := "  "
		if name == record.OpenSearchDomain {
			marker = "* "
		}
		fmt.Println(marker + name)
	}
	return nil
}
