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

// VPCService finds, creates and deletes VPC networking resources. Lookups
// key off the Name tag, so each create is safe to repeat.
type VPCService struct {
	api EC2API
	service
}

// NewVPCService returns a VPCService using the EC2 retry policy
func NewVPCService(api EC2API, opts ...ServiceOption) *VPCService {
	return &VPCService{api: api, service: newService(retry.ServiceEC2, opts)}
}

// FindOrCreateVPC returns the VPC tagged name, creating it if absent
func (s *VPCService) FindOrCreateVPC(ctx context.Context, name, cidr string, tags map[string]string) (string, error) {
	vpcs, err := s.describeVPCs(ctx, &ec2.DescribeVpcsInput{
		Filters: []ec2types.Filter{tagFilter(pkgtypes.TagName, name)},
	})
	if err != nil {
		return "", wrapErr("ec2", "describe-vpcs", name, err)
	}

	switch len(vpcs) {
	case 0:
	case 1:
		id := deref(vpcs[0].VpcId)
		s.publish("Found existing VPC %s (%s)", name, id)
		return id, nil
	default:
		return "", fmt.Errorf("vpc %q: %w", name, provider.ErrAmbiguous)
	}

	out, err := callWithData(ctx, &s.service, func() (*ec2.CreateVpcOutput, error) {
		return s.api.CreateVpc(ctx, &ec2.CreateVpcInput{
			CidrBlock:         aws.String(cidr),
			TagSpecifications: tagSpec(ec2types.ResourceTypeVpc, pkgtypes.NameTags(name, tags)),
		})
	})
	if err != nil {
		return "", wrapErr("ec2", "create-vpc", name, err)
	}
	id := deref(out.Vpc.VpcId)

	// Instances need DNS hostnames to resolve each other by name
	err = s.call(ctx, func() error {
		_, err := s.api.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
			VpcId:              aws.String(id),
			EnableDnsHostnames: &ec2types.AttributeBooleanValue{Value: aws.Bool(true)},
		})
		return err
	})
	if err != nil {
		return "", wrapErr("ec2", "modify-vpc-attribute", id, err)
	}

	s.log.WithFields(logrus.Fields{"vpc": id, "cidr": cidr}).Info("Created VPC.")
	s.publish("Created VPC %s (%s, %s)", name, id, cidr)
	return id, nil
}

// FindVPCByName returns the VPC tagged name
func (s *VPCService) FindVPCByName(ctx context.Context, name string) (*pkgtypes.VPC, error) {
	vpcs, err := s.describeVPCs(ctx, &ec2.DescribeVpcsInput{
		Filters: []ec2types.Filter{tagFilter(pkgtypes.TagName, name)},
	})
	if err != nil {
		return nil, wrapErr("ec2", "describe-vpcs", name, err)
	}
	switch len(vpcs) {
	case 0:
		return nil, fmt.Errorf("vpc %q: %w", name, provider.ErrNotFound)
	case 1:
		vpc := toVPC(vpcs[0])
		return &vpc, nil
	}
	return nil, fmt.Errorf("vpc %q: %w", name, provider.ErrAmbiguous)
}

// FindVPCsByTag returns every VPC carrying key=value
func (s *VPCService) FindVPCsByTag(ctx context.Context, key, value string) ([]pkgtypes.VPC, error) {
	vpcs, err := s.describeVPCs(ctx, &ec2.DescribeVpcsInput{
		Filters: []ec2types.Filter{tagFilter(key, value)},
	})
	if err != nil {
		return nil, wrapErr("ec2", "describe-vpcs", key+"="+value, err)
	}
	out := make([]pkgtypes.VPC, 0, len(vpcs))
	for _, v := range vpcs {
		out = append(out, toVPC(v))
	}
	return out, nil
}

// DescribeVPC returns detailed information about a specific VPC
func (s *VPCService) DescribeVPC(ctx context.Context, vpcID string) (*pkgtypes.VPC, error) {
	vpcs, err := s.describeVPCs(ctx, &ec2.DescribeVpcsInput{VpcIds: []string{vpcID}})
	if err != nil {
		if retry.IsNotFound(err) {
			return nil, fmt.Errorf("vpc %s: %w", vpcID, provider.ErrNotFound)
		}
		return nil, wrapErr("ec2", "describe-vpcs", vpcID, err)
	}
	if len(vpcs) == 0 {
		return nil, fmt.Errorf("vpc %s: %w", vpcID, provider.ErrNotFound)
	}
	vpc := toVPC(vpcs[0])
	return &vpc, nil
}

func (s *VPCService) describeVPCs(ctx context.Context, input *ec2.DescribeVpcsInput) ([]ec2types.Vpc, error) {
	out, err := callWithData(ctx, &s.service, func() (*ec2.DescribeVpcsOutput, error) {
		return s.api.DescribeVpcs(ctx, input)
	})
	if err != nil {
		return nil, err
	}
	return out.Vpcs, nil
}

// FindOrCreateInternetGateway returns the gateway attached to vpcID. A
// detached gateway tagged name is reused and attached; otherwise a new one
// is created.
func (s *VPCService) FindOrCreateInternetGateway(ctx context.Context, name, vpcID string, tags map[string]string) (string, error) {
	attached, err := s.FindInternetGateway(ctx, vpcID)
	if err != nil {
		return "", err
	}
	if attached != "" {
		s.publish("Found existing internet gateway %s attached to %s", attached, vpcID)
		return attached, nil
	}

	igws, err := s.describeInternetGateways(ctx, &ec2.DescribeInternetGatewaysInput{
		Filters: []ec2types.Filter{tagFilter(pkgtypes.TagName, name)},
	})
	if err != nil {
		return "", wrapErr("ec2", "describe-internet-gateways", name, err)
	}

	var id string
	for _, igw := range igws {
		if len(igw.Attachments) == 0 {
			id = deref(igw.InternetGatewayId)
			s.publish("Found existing internet gateway %s (%s)", name, id)
			break
		}
	}

	if id == "" {
		out, err := callWithData(ctx, &s.service, func() (*ec2.CreateInternetGatewayOutput, error) {
			return s.api.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{
				TagSpecifications: tagSpec(ec2types.ResourceTypeInternetGateway, pkgtypes.NameTags(name, tags)),
			})
		})
		if err != nil {
			return "", wrapErr("ec2", "create-internet-gateway", name, err)
		}
		id = deref(out.InternetGateway.InternetGatewayId)
		s.publish("Created internet gateway %s (%s)", name, id)
	}

	err = s.call(ctx, func() error {
		_, err := s.api.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
			InternetGatewayId: aws.String(id),
			VpcId:             aws.String(vpcID),
		})
		if retry.IsAlreadyExists(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return "", wrapErr("ec2", "attach-internet-gateway", id, err)
	}
	s.log.WithFields(logrus.Fields{"igw": id, "vpc": vpcID}).Info("Attached internet gateway.")
	return id, nil
}

// FindInternetGateway returns the gateway attached to vpcID, or ""
func (s *VPCService) FindInternetGateway(ctx context.Context, vpcID string) (string, error) {
	igws, err := s.describeInternetGateways(ctx, &ec2.DescribeInternetGatewaysInput{
		Filters: []ec2types.Filter{filter("attachment.vpc-id", vpcID)},
	})
	if err != nil {
		return "", wrapErr("ec2", "describe-internet-gateways", vpcID, err)
	}
	if len(igws) == 0 {
		return "", nil
	}
	return deref(igws[0].InternetGatewayId), nil
}

func (s *VPCService) describeInternetGateways(ctx context.Context, input *ec2.DescribeInternetGatewaysInput) ([]ec2types.InternetGateway, error) {
	out, err := callWithData(ctx, &s.service, func() (*ec2.DescribeInternetGatewaysOutput, error) {
		return s.api.DescribeInternetGateways(ctx, input)
	})
	if err != nil {
		return nil, err
	}
	return out.InternetGateways, nil
}

// FindOrCreateSubnet returns the subnet tagged spec.Name inside vpcID
func (s *VPCService) FindOrCreateSubnet(ctx context.Context, vpcID string, spec pkgtypes.SubnetSpec, tags map[string]string) (string, error) {
	subnets, err := s.describeSubnets(ctx, &ec2.DescribeSubnetsInput{
		Filters: []ec2types.Filter{
			filter("vpc-id", vpcID),
			tagFilter(pkgtypes.TagName, spec.Name),
		},
	})
	if err != nil {
		return "", wrapErr("ec2", "describe-subnets", spec.Name, err)
	}

	switch len(subnets) {
	case 0:
	case 1:
		id := deref(subnets[0].SubnetId)
		s.publish("Found existing subnet %s (%s)", spec.Name, id)
		return id, nil
	default:
		return "", fmt.Errorf("subnet %q: %w", spec.Name, provider.ErrAmbiguous)
	}

	input := &ec2.CreateSubnetInput{
		VpcId:             aws.String(vpcID),
		CidrBlock:         aws.String(spec.CIDR),
		TagSpecifications: tagSpec(ec2types.ResourceTypeSubnet, pkgtypes.NameTags(spec.Name, tags)),
	}
	if spec.AvailabilityZone != "" {
		input.AvailabilityZone = aws.String(spec.AvailabilityZone)
	}

	out, err := callWithData(ctx, &s.service, func() (*ec2.CreateSubnetOutput, error) {
		return s.api.CreateSubnet(ctx, input)
	})
	if err != nil {
		return "", wrapErr("ec2", "create-subnet", spec.Name, err)
	}
	id := deref(out.Subnet.SubnetId)
	s.log.WithFields(logrus.Fields{"subnet": id, "vpc": vpcID, "az": spec.AvailabilityZone}).Info("Created subnet.")
	s.publish("Created subnet %s (%s, %s)", spec.Name, id, spec.CIDR)
	return id, nil
}

// ListSubnets returns all subnets of a VPC
func (s *VPCService) ListSubnets(ctx context.Context, vpcID string) ([]pkgtypes.Subnet, error) {
	subnets, err := s.describeSubnets(ctx, &ec2.DescribeSubnetsInput{
		Filters: []ec2types.Filter{filter("vpc-id", vpcID)},
	})
	if err != nil {
		return nil, wrapErr("ec2", "describe-subnets", vpcID, err)
	}
	out := make([]pkgtypes.Subnet, 0, len(subnets))
	for _, sn := range subnets {
		out = append(out, toSubnet(sn))
	}
	return out, nil
}

// EnsureAutoAssignPublicIP turns on public IP assignment for a subnet
func (s *VPCService) EnsureAutoAssignPublicIP(ctx context.Context, subnetID string) error {
	subnets, err := s.describeSubnets(ctx, &ec2.DescribeSubnetsInput{SubnetIds: []string{subnetID}})
	if err != nil {
		return wrapErr("ec2", "describe-subnets", subnetID, err)
	}
	if len(subnets) == 1 && derefBool(subnets[0].MapPublicIpOnLaunch) {
		return nil
	}

	err = s.call(ctx, func() error {
		_, err := s.api.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
			SubnetId:            aws.String(subnetID),
			MapPublicIpOnLaunch: &ec2types.AttributeBooleanValue{Value: aws.Bool(true)},
		})
		return err
	})
	if err != nil {
		return wrapErr("ec2", "modify-subnet-attribute", subnetID, err)
	}
	s.publish("Enabled public IP assignment on subnet %s", subnetID)
	return nil
}

func (s *VPCService) describeSubnets(ctx context.Context, input *ec2.DescribeSubnetsInput) ([]ec2types.Subnet, error) {
	out, err := callWithData(ctx, &s.service, func() (*ec2.DescribeSubnetsOutput, error) {
		return s.api.DescribeSubnets(ctx, input)
	})
	if err != nil {
		return nil, err
	}
	return out.Subnets, nil
}

// EnsureDefaultRoute makes sure the route table serving subnetID has a
// 0.0.0.0/0 route to igwID. Subnets without an explicit association use
// the VPC's main table.
func (s *VPCService) EnsureDefaultRoute(ctx context.Context, vpcID, subnetID, igwID string) error {
	tables, err := s.describeRouteTables(ctx, &ec2.DescribeRouteTablesInput{
		Filters: []ec2types.Filter{filter("association.subnet-id", subnetID)},
	})
	if err != nil {
		return wrapErr("ec2", "describe-route-tables", subnetID, err)
	}
	if len(tables) == 0 {
		tables, err = s.describeRouteTables(ctx, &ec2.DescribeRouteTablesInput{
			Filters: []ec2types.Filter{
				filter("vpc-id", vpcID),
				filter("association.main", "true"),
			},
		})
		if err != nil {
			return wrapErr("ec2", "describe-route-tables", vpcID, err)
		}
		if len(tables) == 0 {
			return fmt.Errorf("%s: %w", vpcID, provider.ErrMainRouteTableMissing)
		}
	}

	table := tables[0]
	tableID := deref(table.RouteTableId)
	for _, r := range table.Routes {
		if deref(r.DestinationCidrBlock) != pkgtypes.AnyIPv4 {
			continue
		}
		if deref(r.GatewayId) == igwID && r.State != ec2types.RouteStateBlackhole {
			s.publish("Found existing default route in %s", tableID)
			return nil
		}
		// left behind by a gateway that is gone or replaced
		return s.replaceDefaultRoute(ctx, tableID, deref(r.GatewayId), igwID)
	}

	err = s.call(ctx, func() error {
		_, err := s.api.CreateRoute(ctx, &ec2.CreateRouteInput{
			RouteTableId:         aws.String(tableID),
			DestinationCidrBlock: aws.String(pkgtypes.AnyIPv4),
			GatewayId:            aws.String(igwID),
		})
		if retry.IsAlreadyExists(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return wrapErr("ec2", "create-route", tableID, err)
	}
	s.publish("Created default route %s -> %s", tableID, igwID)
	return nil
}

func (s *VPCService) replaceDefaultRoute(ctx context.Context, tableID, oldGateway, igwID string) error {
	err := s.call(ctx, func() error {
		_, err := s.api.ReplaceRoute(ctx, &ec2.ReplaceRouteInput{
			RouteTableId:         aws.String(tableID),
			DestinationCidrBlock: aws.String(pkgtypes.AnyIPv4),
			GatewayId:            aws.String(igwID),
		})
		return err
	})
	if err != nil {
		return wrapErr("ec2", "replace-route", tableID, err)
	}
	s.log.WithFields(logrus.Fields{"route_table": tableID, "old": oldGateway, "igw": igwID}).Info("Replaced stale default route.")
	s.publish("Replaced default route %s -> %s", tableID, igwID)
	return nil
}

// ListRouteTables returns the non-main route tables of a VPC
func (s *VPCService) ListRouteTables(ctx context.Context, vpcID string) ([]pkgtypes.RouteTable, error) {
	tables, err := s.describeRouteTables(ctx, &ec2.DescribeRouteTablesInput{
		Filters: []ec2types.Filter{filter("vpc-id", vpcID)},
	})
	if err != nil {
		return nil, wrapErr("ec2", "describe-route-tables", vpcID, err)
	}

	var out []pkgtypes.RouteTable
	for _, t := range tables {
		rt := toRouteTable(t)
		if rt.Main {
			continue
		}
		out = append(out, rt)
	}
	return out, nil
}

func (s *VPCService) describeRouteTables(ctx context.Context, input *ec2.DescribeRouteTablesInput) ([]ec2types.RouteTable, error) {
	out, err := callWithData(ctx, &s.service, func() (*ec2.DescribeRouteTablesOutput, error) {
		return s.api.DescribeRouteTables(ctx, input)
	})
	if err != nil {
		return nil, err
	}
	return out.RouteTables, nil
}

// toVPC converts an EC2 VPC to our VPC type
func toVPC(v ec2types.Vpc) pkgtypes.VPC {
	return pkgtypes.VPC{
		ID:        deref(v.VpcId),
		Name:      nameTag(v.Tags),
		CIDR:      deref(v.CidrBlock),
		State:     string(v.State),
		IsDefault: derefBool(v.IsDefault),
		OwnerID:   deref(v.OwnerId),
		Tags:      tagMap(v.Tags),
	}
}

// toSubnet converts an EC2 Subnet to our Subnet type
func toSubnet(s ec2types.Subnet) pkgtypes.Subnet {
	return pkgtypes.Subnet{
		ID:           deref(s.SubnetId),
		Name:         nameTag(s.Tags),
		VPCID:        deref(s.VpcId),
		CIDR:         deref(s.CidrBlock),
		AZ:           deref(s.AvailabilityZone),
		AvailableIPs: int(derefInt32(s.AvailableIpAddressCount)),
		State:        string(s.State),
		Public:       derefBool(s.MapPublicIpOnLaunch),
	}
}

func toRouteTable(t ec2types.RouteTable) pkgtypes.RouteTable {
	rt := pkgtypes.RouteTable{
		ID:    deref(t.RouteTableId),
		VPCID: deref(t.VpcId),
	}
	for _, a := range t.Associations {
		if derefBool(a.Main) {
			rt.Main = true
			continue
		}
		rt.AssociationIDs = append(rt.AssociationIDs, deref(a.RouteTableAssociationId))
		if a.SubnetId != nil {
			rt.SubnetIDs = append(rt.SubnetIDs, deref(a.SubnetId))
		}
	}
	return rt
}
