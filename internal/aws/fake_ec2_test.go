package aws

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/sirupsen/logrus"

	"github.com/rustyrazorblade/edl/internal/output"
)

func apiError(status int, code string) error {
	return &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
		Err:      &smithy.GenericAPIError{Code: code, Message: code},
	}
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testOpts(rec *output.Recorder) []ServiceOption {
	return []ServiceOption{WithLogger(quietLogger()), WithPublisher(rec)}
}

// fakeEC2 is an in-memory EC2 that understands the filters edl sends.
// Calls not implemented here panic through the nil embedded interface.
type fakeEC2 struct {
	EC2API

	calls  map[string]int
	nextID int

	vpcs      []ec2types.Vpc
	igws      []ec2types.InternetGateway
	subnets   []ec2types.Subnet
	tables    []ec2types.RouteTable
	groups    []ec2types.SecurityGroup
	instances []ec2types.Instance

	// errs fails the named operation once with the given error
	errs map[string]error
}

func newFakeEC2() *fakeEC2 {
	return &fakeEC2{calls: map[string]int{}, errs: map[string]error{}}
}

func (f *fakeEC2) record(op string) error {
	f.calls[op]++
	if err, ok := f.errs[op]; ok {
		delete(f.errs, op)
		return err
	}
	return nil
}

func (f *fakeEC2) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%04d", prefix, f.nextID)
}

func tagsOf(specs []ec2types.TagSpecification) []ec2types.Tag {
	if len(specs) == 0 {
		return nil
	}
	return specs[0].Tags
}

// matches applies EC2 filter semantics: every filter must match, any value
// within a filter may match
func matches(filters []ec2types.Filter, attrs map[string][]string) bool {
	for _, f := range filters {
		found := false
		for _, want := range f.Values {
			for _, have := range attrs[deref(f.Name)] {
				if want == have {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func withTags(attrs map[string][]string, tags []ec2types.Tag) map[string][]string {
	for _, t := range tags {
		attrs["tag:"+deref(t.Key)] = append(attrs["tag:"+deref(t.Key)], deref(t.Value))
	}
	return attrs
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (f *fakeEC2) DescribeVpcs(_ context.Context, in *ec2.DescribeVpcsInput, _ ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error) {
	if err := f.record("DescribeVpcs"); err != nil {
		return nil, err
	}
	out := &ec2.DescribeVpcsOutput{}
	for _, v := range f.vpcs {
		if len(in.VpcIds) > 0 && !contains(in.VpcIds, deref(v.VpcId)) {
			continue
		}
		if matches(in.Filters, withTags(map[string][]string{}, v.Tags)) {
			out.Vpcs = append(out.Vpcs, v)
		}
	}
	return out, nil
}

func (f *fakeEC2) CreateVpc(_ context.Context, in *ec2.CreateVpcInput, _ ...func(*ec2.Options)) (*ec2.CreateVpcOutput, error) {
	if err := f.record("CreateVpc"); err != nil {
		return nil, err
	}
	vpcID := f.id("vpc")
	v := ec2types.Vpc{VpcId: aws.String(vpcID), CidrBlock: in.CidrBlock, Tags: tagsOf(in.TagSpecifications), State: ec2types.VpcStateAvailable}
	f.vpcs = append(f.vpcs, v)
	// every VPC comes with a main route table
	f.tables = append(f.tables, ec2types.RouteTable{
		RouteTableId: aws.String(f.id("rtb")),
		VpcId:        aws.String(vpcID),
		Associations: []ec2types.RouteTableAssociation{{Main: aws.Bool(true), RouteTableAssociationId: aws.String(f.id("rtbassoc"))}},
	})
	return &ec2.CreateVpcOutput{Vpc: &v}, nil
}

func (f *fakeEC2) ModifyVpcAttribute(context.Context, *ec2.ModifyVpcAttributeInput, ...func(*ec2.Options)) (*ec2.ModifyVpcAttributeOutput, error) {
	return &ec2.ModifyVpcAttributeOutput{}, f.record("ModifyVpcAttribute")
}

func (f *fakeEC2) DescribeInternetGateways(_ context.Context, in *ec2.DescribeInternetGatewaysInput, _ ...func(*ec2.Options)) (*ec2.DescribeInternetGatewaysOutput, error) {
	if err := f.record("DescribeInternetGateways"); err != nil {
		return nil, err
	}
	out := &ec2.DescribeInternetGatewaysOutput{}
	for _, g := range f.igws {
		attrs := withTags(map[string][]string{}, g.Tags)
		for _, a := range g.Attachments {
			attrs["attachment.vpc-id"] = append(attrs["attachment.vpc-id"], deref(a.VpcId))
		}
		if matches(in.Filters, attrs) {
			out.InternetGateways = append(out.InternetGateways, g)
		}
	}
	return out, nil
}

func (f *fakeEC2) CreateInternetGateway(_ context.Context, in *ec2.CreateInternetGatewayInput, _ ...func(*ec2.Options)) (*ec2.CreateInternetGatewayOutput, error) {
	if err := f.record("CreateInternetGateway"); err != nil {
		return nil, err
	}
	g := ec2types.InternetGateway{InternetGatewayId: aws.String(f.id("igw")), Tags: tagsOf(in.TagSpecifications)}
	f.igws = append(f.igws, g)
	return &ec2.CreateInternetGatewayOutput{InternetGateway: &g}, nil
}

func (f *fakeEC2) AttachInternetGateway(_ context.Context, in *ec2.AttachInternetGatewayInput, _ ...func(*ec2.Options)) (*ec2.AttachInternetGatewayOutput, error) {
	if err := f.record("AttachInternetGateway"); err != nil {
		return nil, err
	}
	for i, g := range f.igws {
		if deref(g.InternetGatewayId) == deref(in.InternetGatewayId) {
			if len(g.Attachments) > 0 {
				return nil, apiError(400, "Resource.AlreadyAssociated")
			}
			f.igws[i].Attachments = []ec2types.InternetGatewayAttachment{{VpcId: in.VpcId, State: ec2types.AttachmentStatusAttached}}
		}
	}
	return &ec2.AttachInternetGatewayOutput{}, nil
}

func (f *fakeEC2) DetachInternetGateway(_ context.Context, in *ec2.DetachInternetGatewayInput, _ ...func(*ec2.Options)) (*ec2.DetachInternetGatewayOutput, error) {
	if err := f.record("DetachInternetGateway"); err != nil {
		return nil, err
	}
	for i, g := range f.igws {
		if deref(g.InternetGatewayId) == deref(in.InternetGatewayId) {
			f.igws[i].Attachments = nil
			return &ec2.DetachInternetGatewayOutput{}, nil
		}
	}
	return nil, apiError(400, "InvalidInternetGatewayID.NotFound")
}

func (f *fakeEC2) DeleteInternetGateway(_ context.Context, in *ec2.DeleteInternetGatewayInput, _ ...func(*ec2.Options)) (*ec2.DeleteInternetGatewayOutput, error) {
	if err := f.record("DeleteInternetGateway"); err != nil {
		return nil, err
	}
	for i, g := range f.igws {
		if deref(g.InternetGatewayId) == deref(in.InternetGatewayId) {
			f.igws = append(f.igws[:i], f.igws[i+1:]...)
			return &ec2.DeleteInternetGatewayOutput{}, nil
		}
	}
	return nil, apiError(400, "InvalidInternetGatewayID.NotFound")
}

func (f *fakeEC2) DescribeSubnets(_ context.Context, in *ec2.DescribeSubnetsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error) {
	if err := f.record("DescribeSubnets"); err != nil {
		return nil, err
	}
	out := &ec2.DescribeSubnetsOutput{}
	for _, s := range f.subnets {
		if len(in.SubnetIds) > 0 && !contains(in.SubnetIds, deref(s.SubnetId)) {
			continue
		}
		attrs := withTags(map[string][]string{"vpc-id": {deref(s.VpcId)}}, s.Tags)
		if matches(in.Filters, attrs) {
			out.Subnets = append(out.Subnets, s)
		}
	}
	return out, nil
}

func (f *fakeEC2) CreateSubnet(_ context.Context, in *ec2.CreateSubnetInput, _ ...func(*ec2.Options)) (*ec2.CreateSubnetOutput, error) {
	if err := f.record("CreateSubnet"); err != nil {
		return nil, err
	}
	s := ec2types.Subnet{
		SubnetId:         aws.String(f.id("subnet")),
		VpcId:            in.VpcId,
		CidrBlock:        in.CidrBlock,
		AvailabilityZone: in.AvailabilityZone,
		Tags:             tagsOf(in.TagSpecifications),
	}
	f.subnets = append(f.subnets, s)
	return &ec2.CreateSubnetOutput{Subnet: &s}, nil
}

func (f *fakeEC2) ModifySubnetAttribute(_ context.Context, in *ec2.ModifySubnetAttributeInput, _ ...func(*ec2.Options)) (*ec2.ModifySubnetAttributeOutput, error) {
	if err := f.record("ModifySubnetAttribute"); err != nil {
		return nil, err
	}
	for i, s := range f.subnets {
		if deref(s.SubnetId) == deref(in.SubnetId) && in.MapPublicIpOnLaunch != nil {
			f.subnets[i].MapPublicIpOnLaunch = in.MapPublicIpOnLaunch.Value
		}
	}
	return &ec2.ModifySubnetAttributeOutput{}, nil
}

func (f *fakeEC2) DeleteSubnet(_ context.Context, in *ec2.DeleteSubnetInput, _ ...func(*ec2.Options)) (*ec2.DeleteSubnetOutput, error) {
	if err := f.record("DeleteSubnet"); err != nil {
		return nil, err
	}
	for i, s := range f.subnets {
		if deref(s.SubnetId) == deref(in.SubnetId) {
			f.subnets = append(f.subnets[:i], f.subnets[i+1:]...)
			return &ec2.DeleteSubnetOutput{}, nil
		}
	}
	return nil, apiError(400, "InvalidSubnetID.NotFound")
}

func (f *fakeEC2) DescribeRouteTables(_ context.Context, in *ec2.DescribeRouteTablesInput, _ ...func(*ec2.Options)) (*ec2.DescribeRouteTablesOutput, error) {
	if err := f.record("DescribeRouteTables"); err != nil {
		return nil, err
	}
	out := &ec2.DescribeRouteTablesOutput{}
	for _, t := range f.tables {
		attrs := map[string][]string{"vpc-id": {deref(t.VpcId)}}
		for _, a := range t.Associations {
			if derefBool(a.Main) {
				attrs["association.main"] = []string{"true"}
			}
			if a.SubnetId != nil {
				attrs["association.subnet-id"] = append(attrs["association.subnet-id"], deref(a.SubnetId))
			}
		}
		if matches(in.Filters, attrs) {
			out.RouteTables = append(out.RouteTables, t)
		}
	}
	return out, nil
}

func (f *fakeEC2) CreateRoute(_ context.Context, in *ec2.CreateRouteInput, _ ...func(*ec2.Options)) (*ec2.CreateRouteOutput, error) {
	if err := f.record("CreateRoute"); err != nil {
		return nil, err
	}
	for i, t := range f.tables {
		if deref(t.RouteTableId) == deref(in.RouteTableId) {
			f.tables[i].Routes = append(f.tables[i].Routes, ec2types.Route{
				DestinationCidrBlock: in.DestinationCidrBlock,
				GatewayId:            in.GatewayId,
			})
		}
	}
	return &ec2.CreateRouteOutput{Return: aws.Bool(true)}, nil
}

func (f *fakeEC2) ReplaceRoute(_ context.Context, in *ec2.ReplaceRouteInput, _ ...func(*ec2.Options)) (*ec2.ReplaceRouteOutput, error) {
	if err := f.record("ReplaceRoute"); err != nil {
		return nil, err
	}
	for i, t := range f.tables {
		if deref(t.RouteTableId) != deref(in.RouteTableId) {
			continue
		}
		for j, r := range t.Routes {
			if deref(r.DestinationCidrBlock) == deref(in.DestinationCidrBlock) {
				f.tables[i].Routes[j] = ec2types.Route{
					DestinationCidrBlock: in.DestinationCidrBlock,
					GatewayId:            in.GatewayId,
					State:                ec2types.RouteStateActive,
				}
				return &ec2.ReplaceRouteOutput{}, nil
			}
		}
	}
	return nil, apiError(400, "InvalidRoute.NotFound")
}

func (f *fakeEC2) DisassociateRouteTable(context.Context, *ec2.DisassociateRouteTableInput, ...func(*ec2.Options)) (*ec2.DisassociateRouteTableOutput, error) {
	return &ec2.DisassociateRouteTableOutput{}, f.record("DisassociateRouteTable")
}

func (f *fakeEC2) DeleteRouteTable(context.Context, *ec2.DeleteRouteTableInput, ...func(*ec2.Options)) (*ec2.DeleteRouteTableOutput, error) {
	return &ec2.DeleteRouteTableOutput{}, f.record("DeleteRouteTable")
}

func (f *fakeEC2) DescribeSecurityGroups(_ context.Context, in *ec2.DescribeSecurityGroupsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
	if err := f.record("DescribeSecurityGroups"); err != nil {
		return nil, err
	}
	out := &ec2.DescribeSecurityGroupsOutput{}
	for _, g := range f.groups {
		if len(in.GroupIds) > 0 && !contains(in.GroupIds, deref(g.GroupId)) {
			continue
		}
		attrs := withTags(map[string][]string{"vpc-id": {deref(g.VpcId)}}, g.Tags)
		if matches(in.Filters, attrs) {
			out.SecurityGroups = append(out.SecurityGroups, g)
		}
	}
	return out, nil
}

func (f *fakeEC2) CreateSecurityGroup(_ context.Context, in *ec2.CreateSecurityGroupInput, _ ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error) {
	if err := f.record("CreateSecurityGroup"); err != nil {
		return nil, err
	}
	g := ec2types.SecurityGroup{
		GroupId:   aws.String(f.id("sg")),
		GroupName: in.GroupName,
		VpcId:     in.VpcId,
		Tags:      tagsOf(in.TagSpecifications),
		IpPermissionsEgress: []ec2types.IpPermission{{
			IpProtocol: aws.String("-1"),
			IpRanges:   []ec2types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
		}},
	}
	f.groups = append(f.groups, g)
	return &ec2.CreateSecurityGroupOutput{GroupId: g.GroupId}, nil
}

func (f *fakeEC2) AuthorizeSecurityGroupIngress(_ context.Context, in *ec2.AuthorizeSecurityGroupIngressInput, _ ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error) {
	if err := f.record("AuthorizeSecurityGroupIngress"); err != nil {
		return nil, err
	}
	for i, g := range f.groups {
		if deref(g.GroupId) == deref(in.GroupId) {
			f.groups[i].IpPermissions = append(f.groups[i].IpPermissions, in.IpPermissions...)
		}
	}
	return &ec2.AuthorizeSecurityGroupIngressOutput{}, nil
}

func (f *fakeEC2) RevokeSecurityGroupIngress(_ context.Context, in *ec2.RevokeSecurityGroupIngressInput, _ ...func(*ec2.Options)) (*ec2.RevokeSecurityGroupIngressOutput, error) {
	if err := f.record("RevokeSecurityGroupIngress"); err != nil {
		return nil, err
	}
	for i, g := range f.groups {
		if deref(g.GroupId) == deref(in.GroupId) {
			f.groups[i].IpPermissions = nil
		}
	}
	return &ec2.RevokeSecurityGroupIngressOutput{}, nil
}

func (f *fakeEC2) RevokeSecurityGroupEgress(_ context.Context, in *ec2.RevokeSecurityGroupEgressInput, _ ...func(*ec2.Options)) (*ec2.RevokeSecurityGroupEgressOutput, error) {
	if err := f.record("RevokeSecurityGroupEgress"); err != nil {
		return nil, err
	}
	for i, g := range f.groups {
		if deref(g.GroupId) == deref(in.GroupId) {
			f.groups[i].IpPermissionsEgress = nil
		}
	}
	return &ec2.RevokeSecurityGroupEgressOutput{}, nil
}

func (f *fakeEC2) DeleteSecurityGroup(context.Context, *ec2.DeleteSecurityGroupInput, ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error) {
	return &ec2.DeleteSecurityGroupOutput{}, f.record("DeleteSecurityGroup")
}

// DescribeInstances fails the whole call when any requested id is unknown,
// as EC2 does
func (f *fakeEC2) DescribeInstances(_ context.Context, in *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if err := f.record("DescribeInstances"); err != nil {
		return nil, err
	}
	known := map[string]bool{}
	for _, i := range f.instances {
		known[deref(i.InstanceId)] = true
	}
	for _, id := range in.InstanceIds {
		if !known[id] {
			return nil, apiError(400, "InvalidInstanceID.NotFound")
		}
	}
	var matched []ec2types.Instance
	for _, i := range f.instances {
		if len(in.InstanceIds) > 0 && !contains(in.InstanceIds, deref(i.InstanceId)) {
			continue
		}
		attrs := map[string][]string{
			"vpc-id":              {deref(i.VpcId)},
			"instance-state-name": {string(i.State.Name)},
		}
		if matches(in.Filters, attrs) {
			matched = append(matched, i)
		}
	}
	return &ec2.DescribeInstancesOutput{Reservations: []ec2types.Reservation{{Instances: matched}}}, nil
}

func (f *fakeEC2) DeleteVpc(context.Context, *ec2.DeleteVpcInput, ...func(*ec2.Options)) (*ec2.DeleteVpcOutput, error) {
	return &ec2.DeleteVpcOutput{}, f.record("DeleteVpc")
}
