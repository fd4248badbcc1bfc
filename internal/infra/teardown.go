package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/rustyrazorblade/edl/internal/output"
	"github.com/rustyrazorblade/edl/internal/wait"
	"github.com/rustyrazorblade/edl/pkg/provider"
	"github.com/rustyrazorblade/edl/pkg/types"
)

// Target selects which VPCs a teardown removes
type Target interface {
	target()
}

// CurrentCluster tears down the cluster recorded in the local state cache
type CurrentCluster struct{}

// SpecificVPC tears down one VPC by id
type SpecificVPC struct{ ID string }

// AllTagged tears down every VPC carrying the edl owner tag
type AllTagged struct{}

// BuildInfrastructure tears down the transient image build VPC
type BuildInfrastructure struct{}

func (CurrentCluster) target()      {}
func (SpecificVPC) target()         {}
func (AllTagged) target()           {}
func (BuildInfrastructure) target() {}

// ClusterState is the local record of the cluster being worked on
type ClusterState interface {
	Current(ctx context.Context) (*types.ClusterRecord, error)
	Forget(ctx context.Context, cluster string) error
}

// Teardown removes VPCs and everything inside them in dependency order.
// Deletion is best effort: a failing step is recorded and the remaining
// steps still run.
type Teardown struct {
	net    provider.NetworkInventory
	emr    *EMRLifecycle
	search *OpenSearchLifecycle
	state  ClusterState
	dryRun bool
	options
}

// TeardownOption customizes a Teardown
type TeardownOption func(*Teardown)

// WithClusters also terminates EMR clusters launched into the VPC
func WithClusters(c provider.ClusterProvider) TeardownOption {
	return func(t *Teardown) {
		t.emr = &EMRLifecycle{clusters: c, options: t.options}
	}
}

// WithSearch also deletes OpenSearch domains placed in the VPC
func WithSearch(s provider.SearchProvider) TeardownOption {
	return func(t *Teardown) {
		t.search = &OpenSearchLifecycle{search: s, options: t.options}
	}
}

// WithState lets CurrentCluster resolve and forget the cached cluster
func WithState(s ClusterState) TeardownOption {
	return func(t *Teardown) {
		t.state = s
	}
}

// DryRun makes Run discover and report without deleting
func DryRun(enabled bool) TeardownOption {
	return func(t *Teardown) {
		t.dryRun = enabled
	}
}

// NewTeardown returns a Teardown over net. Options are applied after the
// common options, so WithClusters and WithSearch see the same clock and sink.
func NewTeardown(net provider.NetworkInventory, opts []Option, topts ...TeardownOption) *Teardown {
	t := &Teardown{net: net, options: newOptions(opts)}
	for _, opt := range topts {
		opt(t)
	}
	return t
}

// Resolve returns the VPC ids a target refers to
func (t *Teardown) Resolve(ctx context.Context, target Target) ([]string, error) {
	switch tg := target.(type) {
	case CurrentCluster:
		if t.state == nil {
			return nil, provider.ErrNoCurrentCluster
		}
		record, err := t.state.Current(ctx)
		if err != nil {
			return nil, err
		}
		if record.Infrastructure.VPCID == "" {
			return nil, fmt.Errorf("cluster %s has no VPC recorded: %w", record.Name, provider.ErrNoCurrentCluster)
		}
		return []string{record.Infrastructure.VPCID}, nil
	case SpecificVPC:
		if tg.ID == "" {
			return nil, fmt.Errorf("vpc id is required")
		}
		return []string{tg.ID}, nil
	case AllTagged:
		return t.vpcIDsByTag(ctx, types.TagOwner, types.OwnerValue)
	case BuildInfrastructure:
		return t.vpcIDsByTag(ctx, types.TagName, types.BuildVPCName)
	}
	return nil, fmt.Errorf("unknown teardown target %T", target)
}

func (t *Teardown) vpcIDsByTag(ctx context.Context, key, value string) ([]string, error) {
	vpcs, err := t.net.FindVPCsByTag(ctx, key, value)
	if err != nil {
		return nil, fmt.Errorf("failed to find VPCs tagged %s=%s: %w", key, value, err)
	}
	ids := make([]string, 0, len(vpcs))
	for _, v := range vpcs {
		ids = append(ids, v.ID)
	}
	return ids, nil
}

// Run tears down every VPC the target resolves to. In dry run mode the
// result lists what would be deleted. Tearing down the current cluster
// forgets it once everything is gone.
func (t *Teardown) Run(ctx context.Context, target Target) (*types.TeardownResult, error) {
	ids, err := t.Resolve(ctx, target)
	if err != nil {
		return nil, err
	}
	result := types.NewTeardownResult()
	if len(ids) == 0 {
		output.Publishf(t.out, "Found nothing to tear down")
		return result, nil
	}

	for _, id := range ids {
		if t.dryRun {
			res, err := t.Discover(ctx, id)
			if err != nil {
				result.Fail(err)
				continue
			}
			t.report(res)
			result.Deleted = append(result.Deleted, res)
			continue
		}
		result.Merge(t.TeardownVPC(ctx, id))
	}

	if _, ok := target.(CurrentCluster); ok && result.Success && !t.dryRun {
		record, err := t.state.Current(ctx)
		if err == nil {
			if err := t.state.Forget(ctx, record.Name); err != nil {
				result.Fail(fmt.Errorf("failed to clear state of %s: %w", record.Name, err))
			}
		}
	}
	return result, nil
}

// inventory is everything found in one VPC, with the route table
// associations needed to delete the tables
type inventory struct {
	types.DiscoveredResources
	routeTables []types.RouteTable
}

// Discover lists the resources living in a VPC
func (t *Teardown) Discover(ctx context.Context, vpcID string) (types.DiscoveredResources, error) {
	inv, err := t.discover(ctx, vpcID)
	if err != nil {
		return types.DiscoveredResources{VPCID: vpcID}, err
	}
	return inv.DiscoveredResources, nil
}

func (t *Teardown) discover(ctx context.Context, vpcID string) (*inventory, error) {
	vpc, err := t.net.DescribeVPC(ctx, vpcID)
	if err != nil {
		return nil, fmt.Errorf("failed to describe VPC %s: %w", vpcID, err)
	}
	inv := &inventory{DiscoveredResources: types.DiscoveredResources{VPCID: vpcID, VPCName: vpc.Name}}

	instances, err := t.net.ListInstances(ctx, vpcID)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances in %s: %w", vpcID, err)
	}
	for _, i := range instances {
		inv.InstanceIDs = append(inv.InstanceIDs, i.ID)
	}

	if inv.NatGatewayIDs, err = t.net.ListNatGateways(ctx, vpcID); err != nil {
		return nil, fmt.Errorf("failed to list NAT gateways in %s: %w", vpcID, err)
	}

	groups, err := t.net.ListSecurityGroups(ctx, vpcID)
	if err != nil {
		return nil, fmt.Errorf("failed to list security groups in %s: %w", vpcID, err)
	}
	for _, g := range groups {
		inv.SecurityGroupIDs = append(inv.SecurityGroupIDs, g.ID)
	}

	subnets, err := t.net.ListSubnets(ctx, vpcID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subnets in %s: %w", vpcID, err)
	}
	for _, s := range subnets {
		inv.SubnetIDs = append(inv.SubnetIDs, s.ID)
	}

	if inv.routeTables, err = t.net.ListRouteTables(ctx, vpcID); err != nil {
		return nil, fmt.Errorf("failed to list route tables in %s: %w", vpcID, err)
	}
	for _, rt := range inv.routeTables {
		inv.RouteTableIDs = append(inv.RouteTableIDs, rt.ID)
	}

	if inv.InternetGatewayID, err = t.net.FindInternetGateway(ctx, vpcID); err != nil {
		return nil, fmt.Errorf("failed to find internet gateway of %s: %w", vpcID, err)
	}

	if t.emr != nil {
		if inv.EMRClusterIDs, err = t.emr.clusters.ListClustersInSubnets(ctx, inv.SubnetIDs); err != nil {
			return nil, fmt.Errorf("failed to list EMR clusters in %s: %w", vpcID, err)
		}
	}
	if t.search != nil {
		if inv.SearchDomains, err = t.search.FindDomainsInVPC(ctx, inv.SubnetIDs); err != nil {
			return nil, fmt.Errorf("failed to list OpenSearch domains in %s: %w", vpcID, err)
		}
	}

	t.log.WithFields(logrus.Fields{"vpc": vpcID, "resources": inv.Count()}).Debug("Discovered VPC resources.")
	return inv, nil
}

// step is one stage of a VPC teardown
type step struct {
	name string
	run  func(ctx context.Context, inv *inventory) error
}

func (t *Teardown) steps() []step {
	return []step{
		{"emr clusters", t.deleteClusters},
		{"opensearch domains", t.deleteDomains},
		{"instances", t.terminateInstances},
		{"nat gateways", t.deleteNatGateways},
		{"security groups", t.deleteSecurityGroups},
		{"internet gateway", t.deleteInternetGateway},
		{"route tables", t.deleteRouteTables},
		{"subnets", t.deleteSubnets},
		{"vpc", t.deleteVPC},
	}
}

// TeardownVPC deletes everything in a VPC and then the VPC. Every step runs
// even when an earlier one failed; all failures end up in the result.
func (t *Teardown) TeardownVPC(ctx context.Context, vpcID string) *types.TeardownResult {
	result := types.NewTeardownResult()
	inv, err := t.discover(ctx, vpcID)
	if err != nil {
		result.Fail(err)
		return result
	}
	t.report(inv.DiscoveredResources)

	for _, s := range t.steps() {
		if ctx.Err() != nil {
			result.Fail(fmt.Errorf("teardown of %s interrupted before %s: %w", vpcID, s.name, ctx.Err()))
			break
		}
		if err := s.run(ctx, inv); err != nil {
			t.log.WithFields(logrus.Fields{"vpc": vpcID, "step": s.name}).WithError(err).Warn("Teardown step failed.")
			output.Publishf(t.out, "Failed to delete %s in %s: %v", s.name, vpcID, err)
			result.Fail(err)
		}
	}

	if result.Success {
		output.Publishf(t.out, "Deleted VPC %s (%s)", inv.VPCName, vpcID)
	}
	result.Deleted = append(result.Deleted, inv.DiscoveredResources)
	return result
}

func (t *Teardown) deleteClusters(ctx context.Context, inv *inventory) error {
	if t.emr == nil || len(inv.EMRClusterIDs) == 0 {
		return nil
	}
	if err := t.emr.Terminate(ctx, inv.EMRClusterIDs...); err != nil {
		return err
	}
	return t.emr.WaitForTerminated(ctx, inv.EMRClusterIDs...)
}

func (t *Teardown) deleteDomains(ctx context.Context, inv *inventory) error {
	if t.search == nil || len(inv.SearchDomains) == 0 {
		return nil
	}
	if err := t.search.Terminate(ctx, inv.SearchDomains...); err != nil {
		return err
	}
	return t.search.WaitForTerminated(ctx, inv.SearchDomains...)
}

func (t *Teardown) terminateInstances(ctx context.Context, inv *inventory) error {
	ids := inv.InstanceIDs
	if len(ids) == 0 {
		return nil
	}
	if err := t.net.TerminateInstances(ctx, ids); err != nil {
		return fmt.Errorf("failed to terminate instances: %w", err)
	}
	output.Publishf(t.out, "Waiting for %d instance(s) to terminate", len(ids))
	err := t.waitAll(ctx, "instances in "+inv.VPCID, t.settings.InstanceTimeout, ids, "terminated",
		func(ctx context.Context) (map[string]string, error) {
			return t.net.InstanceStates(ctx, ids)
		})
	if err != nil {
		return err
	}
	output.Publishf(t.out, "Terminated %d instance(s)", len(ids))
	return nil
}

func (t *Teardown) deleteNatGateways(ctx context.Context, inv *inventory) error {
	ids := inv.NatGatewayIDs
	if len(ids) == 0 {
		return nil
	}
	var errs error
	for _, id := range ids {
		errs = multierr.Append(errs, t.net.DeleteNatGateway(ctx, id))
	}
	if errs != nil {
		return errs
	}
	output.Publishf(t.out, "Waiting for %d NAT gateway(s) to be deleted", len(ids))
	err := t.waitAll(ctx, "nat gateways in "+inv.VPCID, t.settings.NatTimeout, ids, "deleted",
		func(ctx context.Context) (map[string]string, error) {
			states, err := t.net.NatGatewayStates(ctx, ids)
			if err != nil {
				return nil, err
			}
			// a failed gateway never came up and needs no deletion
			for id, s := range states {
				if s == "failed" {
					states[id] = "deleted"
				}
			}
			return states, nil
		})
	if err != nil {
		return err
	}
	output.Publishf(t.out, "Deleted %d NAT gateway(s)", len(ids))
	return nil
}

// deleteSecurityGroups revokes every rule first so groups that reference
// each other can be deleted in any order
func (t *Teardown) deleteSecurityGroups(ctx context.Context, inv *inventory) error {
	var errs error
	for _, id := range inv.SecurityGroupIDs {
		errs = multierr.Append(errs, t.net.RevokeAllRules(ctx, id))
	}
	for _, id := range inv.SecurityGroupIDs {
		if err := t.net.DeleteSecurityGroup(ctx, id); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		output.Publishf(t.out, "Deleted security group %s", id)
	}
	return errs
}

func (t *Teardown) deleteInternetGateway(ctx context.Context, inv *inventory) error {
	if inv.InternetGatewayID == "" {
		return nil
	}
	if err := t.net.DetachAndDeleteInternetGateway(ctx, inv.InternetGatewayID, inv.VPCID); err != nil {
		return err
	}
	output.Publishf(t.out, "Deleted internet gateway %s", inv.InternetGatewayID)
	return nil
}

func (t *Teardown) deleteRouteTables(ctx context.Context, inv *inventory) error {
	var errs error
	for _, rt := range inv.routeTables {
		if err := t.net.DeleteRouteTable(ctx, rt); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		output.Publishf(t.out, "Deleted route table %s", rt.ID)
	}
	return errs
}

func (t *Teardown) deleteSubnets(ctx context.Context, inv *inventory) error {
	var errs error
	for _, id := range inv.SubnetIDs {
		if err := t.net.DeleteSubnet(ctx, id); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		output.Publishf(t.out, "Deleted subnet %s", id)
	}
	return errs
}

func (t *Teardown) deleteVPC(ctx context.Context, inv *inventory) error {
	return t.net.DeleteVPC(ctx, inv.VPCID)
}

// waitAll polls states until every id reports goal
func (t *Teardown) waitAll(ctx context.Context, resource string, timeout time.Duration, ids []string, goal string,
	states func(context.Context) (map[string]string, error)) error {
	_, err := t.driver(t.settings.PollInterval, timeout).Until(ctx, resource, wait.PhaseTerminated,
		func(ctx context.Context) (wait.Observation, error) {
			current, err := states(ctx)
			if err != nil {
				return wait.Observation{}, err
			}
			done := 0
			for _, id := range ids {
				if current[id] == goal {
					done++
				}
			}
			return countObservation(done, len(ids), goal), nil
		})
	return err
}

func (t *Teardown) report(res types.DiscoveredResources) {
	name := res.VPCName
	if name == "" {
		name = res.VPCID
	}
	var parts []string
	add := func(label string, ids []string) {
		if len(ids) > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", len(ids), label))
		}
	}
	add("EMR cluster(s)", res.EMRClusterIDs)
	add("OpenSearch domain(s)", res.SearchDomains)
	add("instance(s)", res.InstanceIDs)
	add("NAT gateway(s)", res.NatGatewayIDs)
	add("security group(s)", res.SecurityGroupIDs)
	add("route table(s)", res.RouteTableIDs)
	add("subnet(s)", res.SubnetIDs)
	if res.InternetGatewayID != "" {
		parts = append(parts, "1 internet gateway")
	}
	if len(parts) == 0 {
		output.Publishf(t.out, "Found VPC %s (%s) with nothing inside", name, res.VPCID)
		return
	}
	output.Publishf(t.out, "Found VPC %s (%s): %s", name, res.VPCID, strings.Join(parts, ", "))
}

// IsNoCurrentCluster reports whether err means no cluster is selected
func IsNoCurrentCluster(err error) bool {
	return errors.Is(err, provider.ErrNoCurrentCluster)
}
