package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyrazorblade/edl/internal/output"
	"github.com/rustyrazorblade/edl/pkg/provider"
	"github.com/rustyrazorblade/edl/pkg/types"
)

func newTestVPCService(api EC2API) (*VPCService, *output.Recorder) {
	rec := &output.Recorder{}
	return NewVPCService(api, testOpts(rec)...), rec
}

func TestFindOrCreateVPCIsIdempotent(t *testing.T) {
	ctx := context.Background()
	api := newFakeEC2()
	svc, rec := newTestVPCService(api)
	tags := map[string]string{types.TagOwner: types.OwnerValue}

	first, err := svc.FindOrCreateVPC(ctx, "demo", types.ClusterCIDR, tags)
	require.NoError(t, err)
	second, err := svc.FindOrCreateVPC(ctx, "demo", types.ClusterCIDR, tags)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, api.calls["CreateVpc"])
	assert.Equal(t, 1, api.calls["ModifyVpcAttribute"])
	assert.True(t, rec.Contains("Created VPC demo"))
	assert.True(t, rec.Contains("Found existing VPC demo"))

	vpc, err := svc.DescribeVPC(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "demo", vpc.Name)
	assert.Equal(t, types.OwnerValue, vpc.Tags[types.TagOwner])
}

func TestFindOrCreateVPCAmbiguous(t *testing.T) {
	api := newFakeEC2()
	nameTag := []ec2types.Tag{{Key: aws.String(types.TagName), Value: aws.String("demo")}}
	api.vpcs = []ec2types.Vpc{
		{VpcId: aws.String("vpc-a"), Tags: nameTag},
		{VpcId: aws.String("vpc-b"), Tags: nameTag},
	}
	svc, _ := newTestVPCService(api)

	_, err := svc.FindOrCreateVPC(context.Background(), "demo", types.ClusterCIDR, nil)
	assert.ErrorIs(t, err, provider.ErrAmbiguous)
	assert.Zero(t, api.calls["CreateVpc"])
}

func TestFindVPCByNameNotFound(t *testing.T) {
	svc, _ := newTestVPCService(newFakeEC2())

	_, err := svc.FindVPCByName(context.Background(), "missing")
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestInternetGatewayCreatedAndAttachedOnce(t *testing.T) {
	ctx := context.Background()
	api := newFakeEC2()
	svc, _ := newTestVPCService(api)

	vpcID, err := svc.FindOrCreateVPC(ctx, "demo", types.ClusterCIDR, nil)
	require.NoError(t, err)

	first, err := svc.FindOrCreateInternetGateway(ctx, "demo-igw", vpcID, nil)
	require.NoError(t, err)
	second, err := svc.FindOrCreateInternetGateway(ctx, "demo-igw", vpcID, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, api.calls["CreateInternetGateway"])
	assert.Equal(t, 1, api.calls["AttachInternetGateway"])

	found, err := svc.FindInternetGateway(ctx, vpcID)
	require.NoError(t, err)
	assert.Equal(t, first, found)
}

func TestDetachedInternetGatewayIsReused(t *testing.T) {
	ctx := context.Background()
	api := newFakeEC2()
	api.igws = []ec2types.InternetGateway{{
		InternetGatewayId: aws.String("igw-old"),
		Tags:              []ec2types.Tag{{Key: aws.String(types.TagName), Value: aws.String("demo-igw")}},
	}}
	svc, _ := newTestVPCService(api)

	id, err := svc.FindOrCreateInternetGateway(ctx, "demo-igw", "vpc-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "igw-old", id)
	assert.Zero(t, api.calls["CreateInternetGateway"])
	assert.Equal(t, 1, api.calls["AttachInternetGateway"])
}

func TestSubnetPublicIPAndDefaultRoute(t *testing.T) {
	ctx := context.Background()
	api := newFakeEC2()
	svc, _ := newTestVPCService(api)

	vpcID, err := svc.FindOrCreateVPC(ctx, "demo", types.ClusterCIDR, nil)
	require.NoError(t, err)
	igwID, err := svc.FindOrCreateInternetGateway(ctx, "demo-igw", vpcID, nil)
	require.NoError(t, err)

	spec := types.SubnetSpec{Name: "demo-subnet-a", CIDR: "10.0.1.0/24", AvailabilityZone: "us-west-2a"}
	subnetID, err := svc.FindOrCreateSubnet(ctx, vpcID, spec, nil)
	require.NoError(t, err)
	again, err := svc.FindOrCreateSubnet(ctx, vpcID, spec, nil)
	require.NoError(t, err)
	assert.Equal(t, subnetID, again)
	assert.Equal(t, 1, api.calls["CreateSubnet"])

	require.NoError(t, svc.EnsureAutoAssignPublicIP(ctx, subnetID))
	require.NoError(t, svc.EnsureAutoAssignPublicIP(ctx, subnetID))
	assert.Equal(t, 1, api.calls["ModifySubnetAttribute"])

	// no explicit association, so the main table gets the route
	require.NoError(t, svc.EnsureDefaultRoute(ctx, vpcID, subnetID, igwID))
	require.NoError(t, svc.EnsureDefaultRoute(ctx, vpcID, subnetID, igwID))
	assert.Equal(t, 1, api.calls["CreateRoute"])

	subnets, err := svc.ListSubnets(ctx, vpcID)
	require.NoError(t, err)
	require.Len(t, subnets, 1)
	assert.True(t, subnets[0].Public)
	assert.Equal(t, "us-west-2a", subnets[0].AZ)
}

func TestDefaultRouteWithoutMainTable(t *testing.T) {
	api := newFakeEC2()
	svc, _ := newTestVPCService(api)

	err := svc.EnsureDefaultRoute(context.Background(), "vpc-x", "subnet-x", "igw-x")
	assert.ErrorIs(t, err, provider.ErrMainRouteTableMissing)
}

func TestDefaultRouteToOldGatewayIsReplaced(t *testing.T) {
	ctx := context.Background()
	api := newFakeEC2()
	svc, rec := newTestVPCService(api)
	vpcID, err := svc.FindOrCreateVPC(ctx, "demo", types.ClusterCIDR, nil)
	require.NoError(t, err)

	// the gateway was deleted by an earlier partial teardown
	require.Len(t, api.tables, 1)
	api.tables[0].Routes = []ec2types.Route{{
		DestinationCidrBlock: aws.String(types.AnyIPv4),
		GatewayId:            aws.String("igw-old"),
		State:                ec2types.RouteStateBlackhole,
	}}

	require.NoError(t, svc.EnsureDefaultRoute(ctx, vpcID, "subnet-x", "igw-new"))
	assert.Equal(t, 0, api.calls["CreateRoute"])
	assert.Equal(t, 1, api.calls["ReplaceRoute"])
	require.Len(t, api.tables[0].Routes, 1)
	assert.Equal(t, "igw-new", deref(api.tables[0].Routes[0].GatewayId))
	assert.Equal(t, ec2types.RouteStateActive, api.tables[0].Routes[0].State)
	assert.True(t, rec.Contains("Replaced default route"))

	require.NoError(t, svc.EnsureDefaultRoute(ctx, vpcID, "subnet-x", "igw-new"))
	assert.Equal(t, 1, api.calls["ReplaceRoute"])
}

func TestBlackholeRouteToSameGatewayIsReplaced(t *testing.T) {
	ctx := context.Background()
	api := newFakeEC2()
	svc, _ := newTestVPCService(api)
	vpcID, err := svc.FindOrCreateVPC(ctx, "demo", types.ClusterCIDR, nil)
	require.NoError(t, err)

	api.tables[0].Routes = []ec2types.Route{{
		DestinationCidrBlock: aws.String(types.AnyIPv4),
		GatewayId:            aws.String("igw-1"),
		State:                ec2types.RouteStateBlackhole,
	}}
	require.NoError(t, svc.EnsureDefaultRoute(ctx, vpcID, "subnet-x", "igw-1"))
	assert.Equal(t, 1, api.calls["ReplaceRoute"])
}

func TestRouteAlreadyExistsIsSuccess(t *testing.T) {
	ctx := context.Background()
	api := newFakeEC2()
	svc, _ := newTestVPCService(api)
	vpcID, err := svc.FindOrCreateVPC(ctx, "demo", types.ClusterCIDR, nil)
	require.NoError(t, err)

	api.errs["CreateRoute"] = apiError(400, "RouteAlreadyExists")
	assert.NoError(t, svc.EnsureDefaultRoute(ctx, vpcID, "subnet-x", "igw-x"))
}

func TestAuthorizeIngressSkipsExistingRule(t *testing.T) {
	ctx := context.Background()
	api := newFakeEC2()
	svc, _ := newTestVPCService(api)

	spec := types.SecurityGroupSpec{Name: "demo-sg", Description: "demo"}
	sgID, err := svc.FindOrCreateSecurityGroup(ctx, "vpc-1", spec, nil)
	require.NoError(t, err)

	rule := types.IngressRule{Protocol: "tcp", FromPort: 22, ToPort: 22, CIDR: "203.0.113.0/24", Description: "SSH"}
	require.NoError(t, svc.AuthorizeIngress(ctx, sgID, rule))

	rule.Description = "a different description"
	require.NoError(t, svc.AuthorizeIngress(ctx, sgID, rule))
	assert.Equal(t, 1, api.calls["AuthorizeSecurityGroupIngress"])

	again, err := svc.FindOrCreateSecurityGroup(ctx, "vpc-1", spec, nil)
	require.NoError(t, err)
	assert.Equal(t, sgID, again)
	assert.Equal(t, 1, api.calls["CreateSecurityGroup"])
}

func TestAuthorizeIngressDuplicateIsSuccess(t *testing.T) {
	ctx := context.Background()
	api := newFakeEC2()
	svc, _ := newTestVPCService(api)
	sgID, err := svc.FindOrCreateSecurityGroup(ctx, "vpc-1", types.SecurityGroupSpec{Name: "demo-sg"}, nil)
	require.NoError(t, err)

	api.errs["AuthorizeSecurityGroupIngress"] = apiError(400, "InvalidPermission.Duplicate")
	rule := types.IngressRule{Protocol: "udp", FromPort: 0, ToPort: 65535, CIDR: types.ClusterCIDR}
	assert.NoError(t, svc.AuthorizeIngress(ctx, sgID, rule))
}

func TestListSecurityGroupsSkipsDefault(t *testing.T) {
	api := newFakeEC2()
	api.groups = []ec2types.SecurityGroup{
		{GroupId: aws.String("sg-default"), GroupName: aws.String("default"), VpcId: aws.String("vpc-1")},
		{GroupId: aws.String("sg-lab"), GroupName: aws.String("demo-sg"), VpcId: aws.String("vpc-1")},
		{GroupId: aws.String("sg-other"), GroupName: aws.String("other"), VpcId: aws.String("vpc-2")},
	}
	svc, _ := newTestVPCService(api)

	groups, err := svc.ListSecurityGroups(context.Background(), "vpc-1")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "sg-lab", groups[0].ID)
}

func TestRevokeAllRulesClearsBothDirections(t *testing.T) {
	ctx := context.Background()
	api := newFakeEC2()
	svc, _ := newTestVPCService(api)
	sgID, err := svc.FindOrCreateSecurityGroup(ctx, "vpc-1", types.SecurityGroupSpec{Name: "demo-sg"}, nil)
	require.NoError(t, err)
	require.NoError(t, svc.AuthorizeIngress(ctx, sgID, types.IngressRule{Protocol: "tcp", FromPort: 22, ToPort: 22, CIDR: types.AnyIPv4}))

	require.NoError(t, svc.RevokeAllRules(ctx, sgID))
	assert.Equal(t, 1, api.calls["RevokeSecurityGroupIngress"])
	assert.Equal(t, 1, api.calls["RevokeSecurityGroupEgress"])

	// nothing left to revoke
	require.NoError(t, svc.RevokeAllRules(ctx, sgID))
	assert.Equal(t, 1, api.calls["RevokeSecurityGroupIngress"])
}

func TestDeleteNotFoundIsSuccess(t *testing.T) {
	api := newFakeEC2()
	svc, _ := newTestVPCService(api)

	assert.NoError(t, svc.DeleteSubnet(context.Background(), "subnet-gone"))
	assert.NoError(t, svc.DetachAndDeleteInternetGateway(context.Background(), "igw-gone", "vpc-1"))
}

func TestDeleteErrorIsWrapped(t *testing.T) {
	api := newFakeEC2()
	api.errs["DeleteVpc"] = apiError(400, "DependencyViolation")
	svc, _ := newTestVPCService(api)

	err := svc.DeleteVPC(context.Background(), "vpc-1")
	require.Error(t, err)
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "delete-vpc", pe.Operation)
	assert.Equal(t, "vpc-1", pe.Resource)
	assert.Equal(t, 1, api.calls["DeleteVpc"])
}

func TestAccessDeniedMapsToPermissionDenied(t *testing.T) {
	api := newFakeEC2()
	api.errs["CreateVpc"] = apiError(403, "UnauthorizedOperation")
	svc, _ := newTestVPCService(api)

	_, err := svc.FindOrCreateVPC(context.Background(), "demo", types.ClusterCIDR, nil)
	assert.ErrorIs(t, err, provider.ErrPermissionDenied)
}

func TestDeleteRouteTableDisassociatesFirst(t *testing.T) {
	api := newFakeEC2()
	svc, _ := newTestVPCService(api)

	table := types.RouteTable{ID: "rtb-1", AssociationIDs: []string{"a-1", "a-2"}}
	require.NoError(t, svc.DeleteRouteTable(context.Background(), table))
	assert.Equal(t, 2, api.calls["DisassociateRouteTable"])
	assert.Equal(t, 1, api.calls["DeleteRouteTable"])
}

func TestInstanceStatesWithUnknownIDKeepsRealStates(t *testing.T) {
	api := newFakeEC2()
	api.instances = []ec2types.Instance{
		{InstanceId: aws.String("i-live"), State: &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning}},
		{InstanceId: aws.String("i-stopping"), State: &ec2types.InstanceState{Name: ec2types.InstanceStateNameShuttingDown}},
	}
	svc, _ := newTestVPCService(api)

	states, err := svc.InstanceStates(context.Background(), []string{"i-live", "i-gone", "i-stopping"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"i-live":     "running",
		"i-gone":     "terminated",
		"i-stopping": "shutting-down",
	}, states)
	assert.Equal(t, 4, api.calls["DescribeInstances"])
}

func TestInstanceStatesSingleBatchWhenAllKnown(t *testing.T) {
	api := newFakeEC2()
	api.instances = []ec2types.Instance{
		{InstanceId: aws.String("i-1"), State: &ec2types.InstanceState{Name: ec2types.InstanceStateNameTerminated}},
	}
	svc, _ := newTestVPCService(api)

	states, err := svc.InstanceStates(context.Background(), []string{"i-1"})
	require.NoError(t, err)
	assert.Equal(t, "terminated", states["i-1"])
	assert.Equal(t, 1, api.calls["DescribeInstances"])
}
