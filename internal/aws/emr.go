package aws

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/emr"
	emrtypes "github.com/aws/aws-sdk-go-v2/service/emr/types"
	"github.com/sirupsen/logrus"

	"github.com/rustyrazorblade/edl/internal/retry"
	"github.com/rustyrazorblade/edl/pkg/provider"
	pkgtypes "github.com/rustyrazorblade/edl/pkg/types"
)

var _ provider.ClusterProvider = (*EMRService)(nil)

// Default EMR settings for lab Spark clusters
const (
	DefaultReleaseLabel = "emr-7.2.0"
	DefaultEMRInstance  = "m5.xlarge"
)

// activeClusterStates are the EMR states of clusters that still hold instances
var activeClusterStates = []emrtypes.ClusterState{
	emrtypes.ClusterStateStarting,
	emrtypes.ClusterStateBootstrapping,
	emrtypes.ClusterStateRunning,
	emrtypes.ClusterStateWaiting,
}

// EMRService launches and terminates Spark clusters
type EMRService struct {
	api EMRAPI
	service
}

// NewEMRService returns an EMRService using the EMR retry policy
func NewEMRService(api EMRAPI, opts ...ServiceOption) *EMRService {
	return &EMRService{api: api, service: newService(retry.ServiceEMR, opts)}
}

// CreateCluster launches a cluster and returns its id. The cluster stays up
// after its steps finish.
func (s *EMRService) CreateCluster(ctx context.Context, cfg pkgtypes.EMRClusterConfig) (string, error) {
	releaseLabel := cfg.ReleaseLabel
	if releaseLabel == "" {
		releaseLabel = DefaultReleaseLabel
	}
	masterType := cfg.MasterType
	if masterType == "" {
		masterType = DefaultEMRInstance
	}
	coreType := cfg.CoreType
	if coreType == "" {
		coreType = masterType
	}

	apps := cfg.Applications
	if len(apps) == 0 {
		apps = []string{"Spark"}
	}
	var applications []emrtypes.Application
	for _, a := range apps {
		applications = append(applications, emrtypes.Application{Name: aws.String(a)})
	}

	instances := &emrtypes.JobFlowInstancesConfig{
		Ec2SubnetId:                 aws.String(cfg.SubnetID),
		MasterInstanceType:          aws.String(masterType),
		SlaveInstanceType:           aws.String(coreType),
		InstanceCount:               aws.Int32(cfg.CoreCount + 1),
		KeepJobFlowAliveWhenNoSteps: aws.Bool(true),
	}
	if cfg.KeyName != "" {
		instances.Ec2KeyName = aws.String(cfg.KeyName)
	}
	if cfg.SecurityGroupID != "" {
		instances.AdditionalMasterSecurityGroups = []string{cfg.SecurityGroupID}
		instances.AdditionalSlaveSecurityGroups = []string{cfg.SecurityGroupID}
	}

	input := &emr.RunJobFlowInput{
		Name:              aws.String(cfg.Name),
		ReleaseLabel:      aws.String(releaseLabel),
		Applications:      applications,
		Instances:         instances,
		ServiceRole:       aws.String(cfg.ServiceRole),
		JobFlowRole:       aws.String(cfg.JobFlowRole),
		VisibleToAllUsers: aws.Bool(true),
		Tags:              emrTags(pkgtypes.NameTags(cfg.Name, cfg.Tags)),
	}
	if cfg.LogURI != "" {
		input.LogUri = aws.String(cfg.LogURI)
	}

	out, err := callWithData(ctx, &s.service, func() (*emr.RunJobFlowOutput, error) {
		return s.api.RunJobFlow(ctx, input)
	})
	if err != nil {
		return "", wrapErr("emr", "run-job-flow", cfg.Name, err)
	}
	id := deref(out.JobFlowId)
	s.log.WithFields(logrus.Fields{"cluster": id, "release": releaseLabel}).Info("Launched EMR cluster.")
	s.publish("Created EMR cluster %s (%s)", cfg.Name, id)
	return id, nil
}

// DescribeCluster returns the lifecycle state of a cluster
func (s *EMRService) DescribeCluster(ctx context.Context, id string) (*pkgtypes.ClusterState, error) {
	out, err := callWithData(ctx, &s.service, func() (*emr.DescribeClusterOutput, error) {
		return s.api.DescribeCluster(ctx, &emr.DescribeClusterInput{ClusterId: aws.String(id)})
	})
	if err != nil {
		if retry.IsNotFound(err) || retry.ErrorCode(err) == "InvalidRequestException" {
			return nil, fmt.Errorf("emr cluster %s: %w", id, provider.ErrNotFound)
		}
		return nil, wrapErr("emr", "describe-cluster", id, err)
	}
	c := out.Cluster
	if c == nil {
		return nil, fmt.Errorf("emr cluster %s: %w", id, provider.ErrNotFound)
	}

	state := &pkgtypes.ClusterState{
		ID:     deref(c.Id),
		Master: deref(c.MasterPublicDnsName),
	}
	if c.Status != nil {
		state.State = string(c.Status.State)
		if c.Status.StateChangeReason != nil {
			state.Reason = deref(c.Status.StateChangeReason.Message)
		}
	}
	return state, nil
}

// TerminateClusters terminates the given clusters with one call
func (s *EMRService) TerminateClusters(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.call(ctx, func() error {
		_, err := s.api.TerminateJobFlows(ctx, &emr.TerminateJobFlowsInput{JobFlowIds: ids})
		return err
	})
	if err != nil && !retry.IsNotFound(err) {
		return wrapErr("emr", "terminate-job-flows", fmt.Sprintf("%v", ids), err)
	}
	s.publish("Terminating EMR cluster(s) %v", ids)
	return nil
}

// ListClustersInSubnets returns the active clusters launched into one of
// subnetIDs, sorted by id
func (s *EMRService) ListClustersInSubnets(ctx context.Context, subnetIDs []string) ([]string, error) {
	if len(subnetIDs) == 0 {
		return nil, nil
	}
	inVPC := make(map[string]bool, len(subnetIDs))
	for _, id := range subnetIDs {
		inVPC[id] = true
	}

	var candidates []string
	paginator := emr.NewListClustersPaginator(s.api, &emr.ListClustersInput{ClusterStates: activeClusterStates})
	for paginator.HasMorePages() {
		page, err := callWithData(ctx, &s.service, func() (*emr.ListClustersOutput, error) {
			return paginator.NextPage(ctx)
		})
		if err != nil {
			return nil, wrapErr("emr", "list-clusters", "active", err)
		}
		for _, c := range page.Clusters {
			candidates = append(candidates, deref(c.Id))
		}
	}

	var ids []string
	for _, id := range candidates {
		out, err := callWithData(ctx, &s.service, func() (*emr.DescribeClusterOutput, error) {
			return s.api.DescribeCluster(ctx, &emr.DescribeClusterInput{ClusterId: aws.String(id)})
		})
		if err != nil {
			return nil, wrapErr("emr", "describe-cluster", id, err)
		}
		if out.Cluster == nil || out.Cluster.Ec2InstanceAttributes == nil {
			continue
		}
		attrs := out.Cluster.Ec2InstanceAttributes
		if inVPC[deref(attrs.Ec2SubnetId)] {
			ids = append(ids, id)
			continue
		}
		for _, sn := range attrs.RequestedEc2SubnetIds {
			if inVPC[sn] {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func emrTags(tags map[string]string) []emrtypes.Tag {
	var out []emrtypes.Tag
	for _, t := range ec2Tags(tags) {
		out = append(out, emrtypes.Tag{Key: t.Key, Value: t.Value})
	}
	return out
}
