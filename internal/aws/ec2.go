package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/sirupsen/logrus"

	"github.com/rustyrazorblade/edl/internal/retry"
	"github.com/rustyrazorblade/edl/pkg/provider"
	pkgtypes "github.com/rustyrazorblade/edl/pkg/types"
)

var (
	_ provider.NetworkProvider  = (*VPCService)(nil)
	_ provider.NetworkInventory = (*VPCService)(nil)
)

// liveInstanceStates are the states an instance can leave by termination
var liveInstanceStates = []string{
	string(ec2types.InstanceStateNamePending),
	string(ec2types.InstanceStateNameRunning),
	string(ec2types.InstanceStateNameStopping),
	string(ec2types.InstanceStateNameStopped),
}

// FindOrCreateSecurityGroup returns the group tagged spec.Name inside vpcID.
// Ingress rules are applied separately with AuthorizeIngress.
func (s *VPCService) FindOrCreateSecurityGroup(ctx context.Context, vpcID string, spec pkgtypes.SecurityGroupSpec, tags map[string]string) (string, error) {
	groups, err := s.describeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []ec2types.Filter{
			filter("vpc-id", vpcID),
			tagFilter(pkgtypes.TagName, spec.Name),
		},
	})
	if err != nil {
		return "", wrapErr("ec2", "describe-security-groups", spec.Name, err)
	}

	switch len(groups) {
	case 0:
	case 1:
		id := deref(groups[0].GroupId)
		s.publish("Found existing security group %s (%s)", spec.Name, id)
		return id, nil
	default:
		return "", fmt.Errorf("security group %q: %w", spec.Name, provider.ErrAmbiguous)
	}

	description := spec.Description
	if description == "" {
		description = spec.Name
	}
	out, err := callWithData(ctx, &s.service, func() (*ec2.CreateSecurityGroupOutput, error) {
		return s.api.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
			GroupName:         aws.String(spec.Name),
			Description:       aws.String(description),
			VpcId:             aws.String(vpcID),
			TagSpecifications: tagSpec(ec2types.ResourceTypeSecurityGroup, pkgtypes.NameTags(spec.Name, tags)),
		})
	})
	if err != nil {
		return "", wrapErr("ec2", "create-security-group", spec.Name, err)
	}
	id := deref(out.GroupId)
	s.publish("Created security group %s (%s)", spec.Name, id)
	return id, nil
}

// AuthorizeIngress adds rule to the group unless an equivalent rule exists
func (s *VPCService) AuthorizeIngress(ctx context.Context, groupID string, rule pkgtypes.IngressRule) error {
	groups, err := s.describeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{GroupIds: []string{groupID}})
	if err != nil {
		return wrapErr("ec2", "describe-security-groups", groupID, err)
	}
	if len(groups) == 0 {
		return fmt.Errorf("security group %s: %w", groupID, provider.ErrNotFound)
	}
	if toSecurityGroup(groups[0]).HasRule(rule) {
		s.log.WithFields(logrus.Fields{"group": groupID, "rule": rule.String()}).Debug("Ingress rule already present.")
		return nil
	}

	perm := ec2types.IpPermission{
		IpProtocol: aws.String(rule.Protocol),
		FromPort:   aws.Int32(rule.FromPort),
		ToPort:     aws.Int32(rule.ToPort),
		IpRanges:   []ec2types.IpRange{{CidrIp: aws.String(rule.CIDR)}},
	}
	if rule.Description != "" {
		perm.IpRanges[0].Description = aws.String(rule.Description)
	}

	err = s.call(ctx, func() error {
		_, err := s.api.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       aws.String(groupID),
			IpPermissions: []ec2types.IpPermission{perm},
		})
		if retry.IsAlreadyExists(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return wrapErr("ec2", "authorize-security-group-ingress", groupID, err)
	}
	s.publish("Authorized %s on %s", rule, groupID)
	return nil
}

// ListSecurityGroups returns the non-default security groups of a VPC
func (s *VPCService) ListSecurityGroups(ctx context.Context, vpcID string) ([]pkgtypes.SecurityGroup, error) {
	groups, err := s.describeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []ec2types.Filter{filter("vpc-id", vpcID)},
	})
	if err != nil {
		return nil, wrapErr("ec2", "describe-security-groups", vpcID, err)
	}
	var out []pkgtypes.SecurityGroup
	for _, g := range groups {
		sg := toSecurityGroup(g)
		if sg.IsDefault {
			continue
		}
		out = append(out, sg)
	}
	return out, nil
}

// RevokeAllRules strips every ingress and egress permission from a group so
// groups referencing each other can be deleted in any order.
func (s *VPCService) RevokeAllRules(ctx context.Context, groupID string) error {
	groups, err := s.describeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{GroupIds: []string{groupID}})
	if err != nil {
		if retry.IsNotFound(err) {
			return nil
		}
		return wrapErr("ec2", "describe-security-groups", groupID, err)
	}
	if len(groups) == 0 {
		return nil
	}
	g := groups[0]

	if len(g.IpPermissions) > 0 {
		err := s.call(ctx, func() error {
			_, err := s.api.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
				GroupId:       aws.String(groupID),
				IpPermissions: g.IpPermissions,
			})
			return err
		})
		if err != nil && !retry.IsNotFound(err) {
			return wrapErr("ec2", "revoke-security-group-ingress", groupID, err)
		}
	}
	if len(g.IpPermissionsEgress) > 0 {
		err := s.call(ctx, func() error {
			_, err := s.api.RevokeSecurityGroupEgress(ctx, &ec2.RevokeSecurityGroupEgressInput{
				GroupId:       aws.String(groupID),
				IpPermissions: g.IpPermissionsEgress,
			})
			return err
		})
		if err != nil && !retry.IsNotFound(err) {
			return wrapErr("ec2", "revoke-security-group-egress", groupID, err)
		}
	}
	return nil
}

// DeleteSecurityGroup deletes a group. A missing group counts as deleted.
func (s *VPCService) DeleteSecurityGroup(ctx context.Context, groupID string) error {
	return s.deleteCall(ctx, "delete-security-group", groupID, func() error {
		_, err := s.api.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: aws.String(groupID)})
		return err
	})
}

func (s *VPCService) describeSecurityGroups(ctx context.Context, input *ec2.DescribeSecurityGroupsInput) ([]ec2types.SecurityGroup, error) {
	out, err := callWithData(ctx, &s.service, func() (*ec2.DescribeSecurityGroupsOutput, error) {
		return s.api.DescribeSecurityGroups(ctx, input)
	})
	if err != nil {
		return nil, err
	}
	return out.SecurityGroups, nil
}

// ListInstances returns the instances of a VPC that are not yet terminated
// or shutting down
func (s *VPCService) ListInstances(ctx context.Context, vpcID string) ([]pkgtypes.Instance, error) {
	input := &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			filter("vpc-id", vpcID),
			filter("instance-state-name", liveInstanceStates...),
		},
	}

	var instances []pkgtypes.Instance
	paginator := ec2.NewDescribeInstancesPaginator(s.api, input)
	for paginator.HasMorePages() {
		page, err := callWithData(ctx, &s.service, func() (*ec2.DescribeInstancesOutput, error) {
			return paginator.NextPage(ctx)
		})
		if err != nil {
			return nil, wrapErr("ec2", "describe-instances", vpcID, err)
		}
		for _, r := range page.Reservations {
			for _, i := range r.Instances {
				instances = append(instances, toInstance(i))
			}
		}
	}
	return instances, nil
}

// TerminateInstances terminates every instance in ids with a single call
func (s *VPCService) TerminateInstances(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.call(ctx, func() error {
		_, err := s.api.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: ids})
		return err
	})
	if err != nil && !retry.IsNotFound(err) {
		return wrapErr("ec2", "terminate-instances", fmt.Sprintf("%v", ids), err)
	}
	s.publish("Terminating %d instance(s)", len(ids))
	return nil
}

// InstanceStates returns the state name of each instance. Instances EC2 no
// longer knows about are reported as terminated.
func (s *VPCService) InstanceStates(ctx context.Context, ids []string) (map[string]string, error) {
	states := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return states, nil
	}

	err := s.describeStates(ctx, ids, states)
	if err == nil {
		return states, nil
	}
	if !retry.IsNotFound(err) {
		return nil, wrapErr("ec2", "describe-instances", fmt.Sprintf("%v", ids), err)
	}

	// one unknown id fails the whole batch
	for _, id := range ids {
		err := s.describeStates(ctx, []string{id}, states)
		switch {
		case retry.IsNotFound(err):
			states[id] = string(ec2types.InstanceStateNameTerminated)
		case err != nil:
			return nil, wrapErr("ec2", "describe-instances", id, err)
		}
	}
	return states, nil
}

func (s *VPCService) describeStates(ctx context.Context, ids []string, states map[string]string) error {
	out, err := callWithData(ctx, &s.service, func() (*ec2.DescribeInstancesOutput, error) {
		return s.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: ids})
	})
	if err != nil {
		return err
	}
	for _, id := range ids {
		states[id] = string(ec2types.InstanceStateNameTerminated)
	}
	for _, r := range out.Reservations {
		for _, i := range r.Instances {
			if i.State != nil {
				states[deref(i.InstanceId)] = string(i.State.Name)
			}
		}
	}
	return nil
}

// ListNatGateways returns the ids of available or pending NAT gateways
func (s *VPCService) ListNatGateways(ctx context.Context, vpcID string) ([]string, error) {
	out, err := callWithData(ctx, &s.service, func() (*ec2.DescribeNatGatewaysOutput, error) {
		return s.api.DescribeNatGateways(ctx, &ec2.DescribeNatGatewaysInput{
			Filter: []ec2types.Filter{
				filter("vpc-id", vpcID),
				filter("state", string(ec2types.NatGatewayStateAvailable), string(ec2types.NatGatewayStatePending)),
			},
		})
	})
	if err != nil {
		return nil, wrapErr("ec2", "describe-nat-gateways", vpcID, err)
	}
	var ids []string
	for _, n := range out.NatGateways {
		ids = append(ids, deref(n.NatGatewayId))
	}
	return ids, nil
}

// DeleteNatGateway starts deletion of a NAT gateway
func (s *VPCService) DeleteNatGateway(ctx context.Context, id string) error {
	return s.deleteCall(ctx, "delete-nat-gateway", id, func() error {
		_, err := s.api.DeleteNatGateway(ctx, &ec2.DeleteNatGatewayInput{NatGatewayId: aws.String(id)})
		return err
	})
}

// NatGatewayStates returns the state of each NAT gateway. Unknown gateways
// are reported as deleted.
func (s *VPCService) NatGatewayStates(ctx context.Context, ids []string) (map[string]string, error) {
	states := make(map[string]string, len(ids))
	for _, id := range ids {
		states[id] = string(ec2types.NatGatewayStateDeleted)
	}
	if len(ids) == 0 {
		return states, nil
	}

	out, err := callWithData(ctx, &s.service, func() (*ec2.DescribeNatGatewaysOutput, error) {
		return s.api.DescribeNatGateways(ctx, &ec2.DescribeNatGatewaysInput{NatGatewayIds: ids})
	})
	if err != nil {
		if retry.IsNotFound(err) {
			return states, nil
		}
		return nil, wrapErr("ec2", "describe-nat-gateways", fmt.Sprintf("%v", ids), err)
	}
	for _, n := range out.NatGateways {
		states[deref(n.NatGatewayId)] = string(n.State)
	}
	return states, nil
}

// DetachAndDeleteInternetGateway detaches the gateway from vpcID and deletes it
func (s *VPCService) DetachAndDeleteInternetGateway(ctx context.Context, igwID, vpcID string) error {
	err := s.deleteCall(ctx, "detach-internet-gateway", igwID, func() error {
		_, err := s.api.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
			InternetGatewayId: aws.String(igwID),
			VpcId:             aws.String(vpcID),
		})
		return err
	})
	if err != nil {
		return err
	}
	return s.deleteCall(ctx, "delete-internet-gateway", igwID, func() error {
		_, err := s.api.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{InternetGatewayId: aws.String(igwID)})
		return err
	})
}

// DeleteRouteTable disassociates the table from its subnets, then deletes it
func (s *VPCService) DeleteRouteTable(ctx context.Context, table pkgtypes.RouteTable) error {
	for _, assoc := range table.AssociationIDs {
		err := s.deleteCall(ctx, "disassociate-route-table", assoc, func() error {
			_, err := s.api.DisassociateRouteTable(ctx, &ec2.DisassociateRouteTableInput{AssociationId: aws.String(assoc)})
			return err
		})
		if err != nil {
			return err
		}
	}
	return s.deleteCall(ctx, "delete-route-table", table.ID, func() error {
		_, err := s.api.DeleteRouteTable(ctx, &ec2.DeleteRouteTableInput{RouteTableId: aws.String(table.ID)})
		return err
	})
}

// DeleteSubnet deletes a subnet
func (s *VPCService) DeleteSubnet(ctx context.Context, id string) error {
	return s.deleteCall(ctx, "delete-subnet", id, func() error {
		_, err := s.api.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: aws.String(id)})
		return err
	})
}

// DeleteVPC deletes the VPC itself
func (s *VPCService) DeleteVPC(ctx context.Context, id string) error {
	return s.deleteCall(ctx, "delete-vpc", id, func() error {
		_, err := s.api.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: aws.String(id)})
		return err
	})
}

// deleteCall runs a delete under the retry policy, treating NotFound as done
func (s *VPCService) deleteCall(ctx context.Context, op, id string, fn func() error) error {
	err := s.call(ctx, fn)
	if err == nil || retry.IsNotFound(err) {
		s.log.WithFields(logrus.Fields{"op": op, "resource": id}).Debug("Deleted.")
		return nil
	}
	return wrapErr("ec2", op, id, err)
}

func toSecurityGroup(g ec2types.SecurityGroup) pkgtypes.SecurityGroup {
	sg := pkgtypes.SecurityGroup{
		ID:        deref(g.GroupId),
		Name:      deref(g.GroupName),
		VPCID:     deref(g.VpcId),
		IsDefault: deref(g.GroupName) == "default",
	}
	for _, p := range g.IpPermissions {
		for _, r := range p.IpRanges {
			sg.Ingress = append(sg.Ingress, pkgtypes.IngressRule{
				Protocol:    deref(p.IpProtocol),
				FromPort:    derefInt32(p.FromPort),
				ToPort:      derefInt32(p.ToPort),
				CIDR:        deref(r.CidrIp),
				Description: deref(r.Description),
			})
		}
	}
	return sg
}

func toInstance(i ec2types.Instance) pkgtypes.Instance {
	inst := pkgtypes.Instance{
		ID:        deref(i.InstanceId),
		Name:      nameTag(i.Tags),
		PrivateIP: deref(i.PrivateIpAddress),
		PublicIP:  deref(i.PublicIpAddress),
		Type:      string(i.InstanceType),
	}
	if i.State != nil {
		inst.State = string(i.State.Name)
	}
	if i.Placement != nil {
		inst.AZ = deref(i.Placement.AvailabilityZone)
	}
	if i.LaunchTime != nil {
		inst.LaunchTime = *i.LaunchTime
	}
	return inst
}
