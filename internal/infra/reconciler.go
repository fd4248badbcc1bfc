package infra

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rustyrazorblade/edl/internal/output"
	"github.com/rustyrazorblade/edl/pkg/provider"
	"github.com/rustyrazorblade/edl/pkg/types"
)

// Reconciler converges a VPC onto an InfrastructureConfig using only
// find-or-create calls, so running it twice is harmless.
type Reconciler struct {
	net provider.NetworkProvider
	options
}

// NewReconciler returns a Reconciler over net
func NewReconciler(net provider.NetworkProvider, opts ...Option) *Reconciler {
	return &Reconciler{net: net, options: newOptions(opts)}
}

// Reconcile creates or finds, in order, the VPC, its internet gateway, each
// subnet with public addressing and a default route, and the security group
// with its ingress rules. The first failure aborts.
func (r *Reconciler) Reconcile(ctx context.Context, cfg types.InfrastructureConfig) (*types.VpcInfrastructure, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid infrastructure config: %w", err)
	}
	log := r.log.WithField("vpc", cfg.VPCName)

	vpcID, err := r.net.FindOrCreateVPC(ctx, cfg.VPCName, cfg.VPCCIDR, cfg.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to create VPC %s: %w", cfg.VPCName, err)
	}
	infra := &types.VpcInfrastructure{VPCID: vpcID}

	igwName := cfg.InternetGatewayName
	if igwName == "" {
		igwName = cfg.VPCName + "-igw"
	}
	infra.InternetGatewayID, err = r.net.FindOrCreateInternetGateway(ctx, igwName, vpcID, cfg.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to create internet gateway for %s: %w", cfg.VPCName, err)
	}

	for _, spec := range cfg.Subnets {
		subnetID, err := r.net.FindOrCreateSubnet(ctx, vpcID, spec, cfg.Tags)
		if err != nil {
			return nil, fmt.Errorf("failed to create subnet %s: %w", spec.Name, err)
		}
		if err := r.net.EnsureAutoAssignPublicIP(ctx, subnetID); err != nil {
			return nil, fmt.Errorf("failed to enable public IPs on %s: %w", subnetID, err)
		}
		if err := r.net.EnsureDefaultRoute(ctx, vpcID, subnetID, infra.InternetGatewayID); err != nil {
			return nil, fmt.Errorf("failed to route %s to the internet: %w", subnetID, err)
		}
		infra.SubnetIDs = append(infra.SubnetIDs, subnetID)
	}

	infra.SecurityGroupID, err = r.net.FindOrCreateSecurityGroup(ctx, vpcID, cfg.SecurityGroup, cfg.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to create security group %s: %w", cfg.SecurityGroup.Name, err)
	}
	for _, rule := range cfg.SecurityGroup.Ingress {
		if err := r.net.AuthorizeIngress(ctx, infra.SecurityGroupID, rule); err != nil {
			return nil, fmt.Errorf("failed to authorize %s: %w", rule, err)
		}
	}

	log.WithFields(logrus.Fields{
		"vpc_id":  vpcID,
		"subnets": len(infra.SubnetIDs),
		"sg":      infra.SecurityGroupID,
	}).Info("Infrastructure ready.")
	output.Publishf(r.out, "Ready: VPC %s (%s) with %d subnet(s)", cfg.VPCName, vpcID, len(infra.SubnetIDs))
	return infra, nil
}

// BuildInfrastructure provisions the transient image build network. An
// existing build VPC is reused and converged through the same steps.
func (r *Reconciler) BuildInfrastructure(ctx context.Context, tags map[string]string) (*types.VpcInfrastructure, error) {
	existing, err := r.net.FindVPCByName(ctx, types.BuildVPCName)
	switch {
	case err == nil:
		output.Publishf(r.out, "Found existing build VPC %s, reusing it", existing.ID)
	case errors.Is(err, provider.ErrNotFound):
		r.log.Debug("No build VPC yet, creating one.")
	default:
		return nil, fmt.Errorf("failed to look up build VPC: %w", err)
	}
	return r.Reconcile(ctx, types.ForBuild(tags))
}

// ClusterInfrastructure provisions the network of a lab cluster with one
// subnet per availability zone
func (r *Reconciler) ClusterInfrastructure(ctx context.Context, name string, azs, sshCIDRs []string, sshPort int32, tags map[string]string) (*types.VpcInfrastructure, error) {
	if len(azs) == 0 {
		return nil, fmt.Errorf("cluster %s needs at least one availability zone", name)
	}
	if len(sshCIDRs) == 0 {
		return nil, fmt.Errorf("cluster %s needs at least one SSH CIDR", name)
	}
	cfg := types.ForCluster(name, azs, sshCIDRs, sshPort).WithTags(tags)
	return r.Reconcile(ctx, cfg)
}
