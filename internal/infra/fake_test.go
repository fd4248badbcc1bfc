package infra

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rustyrazorblade/edl/internal/output"
	"github.com/rustyrazorblade/edl/internal/wait/waittest"
	"github.com/rustyrazorblade/edl/pkg/provider"
	"github.com/rustyrazorblade/edl/pkg/types"
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testOptions(clock *waittest.StepClock, rec *output.Recorder) []Option {
	return []Option{WithLogger(quietLogger()), WithPublisher(rec), WithClock(clock)}
}

// fakeNet is an in-memory network that records every call in order
type fakeNet struct {
	calls []string
	seq   int

	// reconciler side, keyed by Name tag
	vpcs     map[string]string
	igws     map[string]string
	attached map[string]string
	subnets  map[string]string
	groups   map[string]string
	rules    map[string][]types.IngressRule
	routes   map[string]string
	tagged   []types.VPC

	// teardown side
	vpc             types.VPC
	instances       []types.Instance
	nats            []string
	securityGroups  []types.SecurityGroup
	subnetList      []types.Subnet
	routeTables     []types.RouteTable
	igw             string
	terminatedAfter int // InstanceStates polls before instances report terminated, -1 never
	deletedAfter    int // NatGatewayStates polls before gateways report deleted
	instancePolls   int
	natPolls        int

	fail map[string]error
}

func newFakeNet() *fakeNet {
	return &fakeNet{
		vpcs:     map[string]string{},
		igws:     map[string]string{},
		attached: map[string]string{},
		subnets:  map[string]string{},
		groups:   map[string]string{},
		rules:    map[string][]types.IngressRule{},
		routes:   map[string]string{},
		fail:     map[string]error{},
	}
}

func (f *fakeNet) record(op string, args ...string) error {
	call := op
	if len(args) > 0 {
		call += ":" + strings.Join(args, ",")
	}
	f.calls = append(f.calls, call)
	return f.fail[op]
}

func (f *fakeNet) count(op string) int {
	n := 0
	for _, c := range f.calls {
		if c == op || strings.HasPrefix(c, op+":") {
			n++
		}
	}
	return n
}

func (f *fakeNet) index(call string) int {
	for i, c := range f.calls {
		if c == call {
			return i
		}
	}
	return -1
}

func (f *fakeNet) id(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeNet) FindOrCreateVPC(_ context.Context, name, _ string, _ map[string]string) (string, error) {
	if err := f.record("FindOrCreateVPC", name); err != nil {
		return "", err
	}
	if _, ok := f.vpcs[name]; !ok {
		f.vpcs[name] = f.id("vpc")
	}
	return f.vpcs[name], nil
}

func (f *fakeNet) FindVPCByName(_ context.Context, name string) (*types.VPC, error) {
	if err := f.record("FindVPCByName", name); err != nil {
		return nil, err
	}
	id, ok := f.vpcs[name]
	if !ok {
		return nil, provider.ErrNotFound
	}
	return &types.VPC{ID: id, Name: name}, nil
}

func (f *fakeNet) FindOrCreateInternetGateway(_ context.Context, name, vpcID string, _ map[string]string) (string, error) {
	if err := f.record("FindOrCreateInternetGateway", name); err != nil {
		return "", err
	}
	if _, ok := f.igws[name]; !ok {
		f.igws[name] = f.id("igw")
	}
	f.attached[f.igws[name]] = vpcID
	return f.igws[name], nil
}

func (f *fakeNet) FindOrCreateSubnet(_ context.Context, _ string, spec types.SubnetSpec, _ map[string]string) (string, error) {
	if err := f.record("FindOrCreateSubnet", spec.Name); err != nil {
		return "", err
	}
	if _, ok := f.subnets[spec.Name]; !ok {
		f.subnets[spec.Name] = f.id("subnet")
	}
	return f.subnets[spec.Name], nil
}

func (f *fakeNet) EnsureAutoAssignPublicIP(_ context.Context, subnetID string) error {
	return f.record("EnsureAutoAssignPublicIP", subnetID)
}

func (f *fakeNet) EnsureDefaultRoute(_ context.Context, _, subnetID, igwID string) error {
	if err := f.record("EnsureDefaultRoute", subnetID); err != nil {
		return err
	}
	f.routes[subnetID] = igwID
	return nil
}

func (f *fakeNet) FindOrCreateSecurityGroup(_ context.Context, _ string, spec types.SecurityGroupSpec, _ map[string]string) (string, error) {
	if err := f.record("FindOrCreateSecurityGroup", spec.Name); err != nil {
		return "", err
	}
	if _, ok := f.groups[spec.Name]; !ok {
		f.groups[spec.Name] = f.id("sg")
	}
	return f.groups[spec.Name], nil
}

func (f *fakeNet) AuthorizeIngress(_ context.Context, groupID string, rule types.IngressRule) error {
	if err := f.record("AuthorizeIngress", rule.String()); err != nil {
		return err
	}
	for _, r := range f.rules[groupID] {
		if r.Matches(rule) {
			return nil
		}
	}
	f.rules[groupID] = append(f.rules[groupID], rule)
	return nil
}

func (f *fakeNet) DescribeVPC(_ context.Context, vpcID string) (*types.VPC, error) {
	if err := f.record("DescribeVPC", vpcID); err != nil {
		return nil, err
	}
	v := f.vpc
	v.ID = vpcID
	return &v, nil
}

func (f *fakeNet) FindVPCsByTag(_ context.Context, key, value string) ([]types.VPC, error) {
	if err := f.record("FindVPCsByTag", key+"="+value); err != nil {
		return nil, err
	}
	var out []types.VPC
	for _, v := range f.tagged {
		if v.Tags[key] == value {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeNet) ListInstances(context.Context, string) ([]types.Instance, error) {
	return f.instances, f.record("ListInstances")
}

func (f *fakeNet) ListNatGateways(context.Context, string) ([]string, error) {
	return f.nats, f.record("ListNatGateways")
}

func (f *fakeNet) ListSecurityGroups(context.Context, string) ([]types.SecurityGroup, error) {
	return f.securityGroups, f.record("ListSecurityGroups")
}

func (f *fakeNet) ListSubnets(context.Context, string) ([]types.Subnet, error) {
	return f.subnetList, f.record("ListSubnets")
}

func (f *fakeNet) ListRouteTables(context.Context, string) ([]types.RouteTable, error) {
	return f.routeTables, f.record("ListRouteTables")
}

func (f *fakeNet) FindInternetGateway(context.Context, string) (string, error) {
	return f.igw, f.record("FindInternetGateway")
}

func (f *fakeNet) TerminateInstances(_ context.Context, ids []string) error {
	return f.record("TerminateInstances", ids...)
}

func (f *fakeNet) InstanceStates(_ context.Context, ids []string) (map[string]string, error) {
	f.instancePolls++
	if err := f.record("InstanceStates"); err != nil {
		return nil, err
	}
	state := "shutting-down"
	if f.terminatedAfter >= 0 && f.instancePolls > f.terminatedAfter {
		state = "terminated"
	}
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		out[id] = state
	}
	return out, nil
}

func (f *fakeNet) DeleteNatGateway(_ context.Context, id string) error {
	return f.record("DeleteNatGateway", id)
}

func (f *fakeNet) NatGatewayStates(_ context.Context, ids []string) (map[string]string, error) {
	f.natPolls++
	if err := f.record("NatGatewayStates"); err != nil {
		return nil, err
	}
	state := "deleting"
	if f.natPolls > f.deletedAfter {
		state = "deleted"
	}
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		out[id] = state
	}
	return out, nil
}

func (f *fakeNet) RevokeAllRules(_ context.Context, groupID string) error {
	return f.record("RevokeAllRules", groupID)
}

func (f *fakeNet) DeleteSecurityGroup(_ context.Context, groupID string) error {
	return f.record("DeleteSecurityGroup", groupID)
}

func (f *fakeNet) DetachAndDeleteInternetGateway(_ context.Context, igwID, _ string) error {
	return f.record("DetachAndDeleteInternetGateway", igwID)
}

func (f *fakeNet) DeleteRouteTable(_ context.Context, table types.RouteTable) error {
	return f.record("DeleteRouteTable", table.ID)
}

func (f *fakeNet) DeleteSubnet(_ context.Context, id string) error {
	return f.record("DeleteSubnet", id)
}

func (f *fakeNet) DeleteVPC(_ context.Context, id string) error {
	return f.record("DeleteVPC", id)
}

// fakeClusters is an EMR stand-in whose clusters step through states
type fakeClusters struct {
	states     map[string][]string
	inSubnets  []string
	terminated []string
	created    []types.EMRClusterConfig
}

func (f *fakeClusters) CreateCluster(_ context.Context, cfg types.EMRClusterConfig) (string, error) {
	f.created = append(f.created, cfg)
	return "j-NEW", nil
}

func (f *fakeClusters) DescribeCluster(_ context.Context, id string) (*types.ClusterState, error) {
	seq, ok := f.states[id]
	if !ok || len(seq) == 0 {
		return nil, provider.ErrNotFound
	}
	state := seq[0]
	if len(seq) > 1 {
		f.states[id] = seq[1:]
	}
	return &types.ClusterState{ID: id, State: state, Master: "master.example", Reason: "bootstrap failure"}, nil
}

func (f *fakeClusters) TerminateClusters(_ context.Context, ids ...string) error {
	f.terminated = append(f.terminated, ids...)
	return nil
}

func (f *fakeClusters) ListClustersInSubnets(context.Context, []string) ([]string, error) {
	return f.inSubnets, nil
}

// fakeSearch is an OpenSearch stand-in whose domains step through states
type fakeSearch struct {
	domains map[string][]*types.DomainState // nil entry means gone
	deleted []string
}

func (f *fakeSearch) CreateDomain(_ context.Context, cfg types.OpenSearchConfig) (*types.DomainState, error) {
	return &types.DomainState{Name: cfg.DomainName, Processing: true}, nil
}

func (f *fakeSearch) DescribeDomain(_ context.Context, name string) (*types.DomainState, error) {
	seq, ok := f.domains[name]
	if !ok || len(seq) == 0 || seq[0] == nil {
		return nil, provider.ErrNotFound
	}
	d := seq[0]
	if len(seq) > 1 {
		f.domains[name] = seq[1:]
	}
	return d, nil
}

func (f *fakeSearch) DeleteDomain(_ context.Context, name string) error {
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeSearch) ListDomainNames(context.Context) ([]string, error) {
	var names []string
	for n := range f.domains {
		names = append(names, n)
	}
	return names, nil
}

// memoryState is an in-memory ClusterState
type memoryState struct {
	record    *types.ClusterRecord
	forgotten []string
}

func (m *memoryState) Current(context.Context) (*types.ClusterRecord, error) {
	if m.record == nil {
		return nil, provider.ErrNoCurrentCluster
	}
	return m.record, nil
}

func (m *memoryState) Forget(_ context.Context, cluster string) error {
	m.forgotten = append(m.forgotten, cluster)
	return nil
}
