package provider

import (
	"context"
	"errors"

	"github.com/rustyrazorblade/edl/pkg/types"
)

// Common errors
var (
	ErrNotFound              = errors.New("resource not found")
	ErrAmbiguous             = errors.New("more than one resource matches")
	ErrPermissionDenied      = errors.New("permission denied")
	ErrTimeout               = errors.New("timed out")
	ErrMainRouteTableMissing = errors.New("vpc has no main route table")
	ErrNoCurrentCluster      = errors.New("no current cluster")
)

// NetworkProvider creates VPC resources idempotently. Every FindOrCreate
// call looks the resource up by its Name tag before creating it.
type NetworkProvider interface {
	// FindOrCreateVPC returns the id of the VPC tagged name, creating it with cidr if absent
	FindOrCreateVPC(ctx context.Context, name, cidr string, tags map[string]string) (string, error)

	// FindVPCByName returns the VPC tagged name, or ErrNotFound
	FindVPCByName(ctx context.Context, name string) (*types.VPC, error)

	// FindOrCreateInternetGateway returns a gateway attached to vpcID
	FindOrCreateInternetGateway(ctx context.Context, name, vpcID string, tags map[string]string) (string, error)

	// FindOrCreateSubnet returns the id of the subnet described by spec inside vpcID
	FindOrCreateSubnet(ctx context.Context, vpcID string, spec types.SubnetSpec, tags map[string]string) (string, error)

	// EnsureAutoAssignPublicIP enables public IP assignment on launch for a subnet
	EnsureAutoAssignPublicIP(ctx context.Context, subnetID string) error

	// EnsureDefaultRoute makes sure the route table serving subnetID routes 0.0.0.0/0 to igwID
	EnsureDefaultRoute(ctx context.Context, vpcID, subnetID, igwID string) error

	// FindOrCreateSecurityGroup returns the id of the security group described by spec
	FindOrCreateSecurityGroup(ctx context.Context, vpcID string, spec types.SecurityGroupSpec, tags map[string]string) (string, error)

	// AuthorizeIngress adds rule to the group unless an identical rule exists
	AuthorizeIngress(ctx context.Context, groupID string, rule types.IngressRule) error
}

// NetworkInventory lists and deletes the resources living inside a VPC
type NetworkInventory interface {
	DescribeVPC(ctx context.Context, vpcID string) (*types.VPC, error)
	FindVPCsByTag(ctx context.Context, key, value string) ([]types.VPC, error)

	// ListInstances returns instances in pending, running, stopping or stopped state
	ListInstances(ctx context.Context, vpcID string) ([]types.Instance, error)
	ListNatGateways(ctx context.Context, vpcID string) ([]string, error)
	// ListSecurityGroups returns the non-default security groups
	ListSecurityGroups(ctx context.Context, vpcID string) ([]types.SecurityGroup, error)
	ListSubnets(ctx context.Context, vpcID string) ([]types.Subnet, error)
	// ListRouteTables returns the non-main route tables
	ListRouteTables(ctx context.Context, vpcID string) ([]types.RouteTable, error)
	// FindInternetGateway returns the gateway attached to vpcID, or "" if none
	FindInternetGateway(ctx context.Context, vpcID string) (string, error)

	TerminateInstances(ctx context.Context, ids []string) error
	InstanceStates(ctx context.Context, ids []string) (map[string]string, error)
	DeleteNatGateway(ctx context.Context, id string) error
	NatGatewayStates(ctx context.Context, ids []string) (map[string]string, error)
	RevokeAllRules(ctx context.Context, groupID string) error
	DeleteSecurityGroup(ctx context.Context, groupID string) error
	DetachAndDeleteInternetGateway(ctx context.Context, igwID, vpcID string) error
	// DeleteRouteTable removes subnet associations before deleting the table
	DeleteRouteTable(ctx context.Context, table types.RouteTable) error
	DeleteSubnet(ctx context.Context, id string) error
	DeleteVPC(ctx context.Context, id string) error
}

// ClusterProvider manages EMR clusters
type ClusterProvider interface {
	CreateCluster(ctx context.Context, cfg types.EMRClusterConfig) (string, error)
	DescribeCluster(ctx context.Context, id string) (*types.ClusterState, error)
	TerminateClusters(ctx context.Context, ids ...string) error
	// ListClustersInSubnets returns active clusters launched into any of subnetIDs
	ListClustersInSubnets(ctx context.Context, subnetIDs []string) ([]string, error)
}

// SearchProvider manages OpenSearch domains
type SearchProvider interface {
	CreateDomain(ctx context.Context, cfg types.OpenSearchConfig) (*types.DomainState, error)
	// DescribeDomain returns ErrNotFound once the domain is gone
	DescribeDomain(ctx context.Context, name string) (*types.DomainState, error)
	DeleteDomain(ctx context.Context, name string) error
	ListDomainNames(ctx context.Context) ([]string, error)
}

// StateStore persists the descriptor of provisioned clusters
type StateStore interface {
	Load(ctx context.Context, cluster string) (*types.ClusterRecord, error)
	Save(ctx context.Context, record *types.ClusterRecord) error
	Delete(ctx context.Context, cluster string) error
}
