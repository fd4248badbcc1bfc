package types

import (
	"fmt"
	"maps"
)

// Well-known tag keys and names used by edl
const (
	TagName    = "Name"
	TagOwner   = "edl:owner"
	TagCluster = "edl:cluster"
	OwnerValue = "easy-db-lab"

	BuildVPCName = "edl-build-infrastructure"
	ClusterCIDR  = "10.0.0.0/16"
	BuildCIDR    = "10.1.0.0/16"
	AnyIPv4      = "0.0.0.0/0"
)

// SubnetSpec describes one subnet to find or create
type SubnetSpec struct {
	Name             string
	CIDR             string
	AvailabilityZone string // optional
}

// IngressRule is a single security group ingress permission
type IngressRule struct {
	Protocol    string // tcp, udp, -1
	FromPort    int32
	ToPort      int32
	CIDR        string
	Description string
}

// Matches reports whether two rules grant the same permission.
// Descriptions are ignored.
func (r IngressRule) Matches(o IngressRule) bool {
	return r.Protocol == o.Protocol &&
		r.FromPort == o.FromPort &&
		r.ToPort == o.ToPort &&
		r.CIDR == o.CIDR
}

func (r IngressRule) String() string {
	return fmt.Sprintf("%s %d-%d from %s", r.Protocol, r.FromPort, r.ToPort, r.CIDR)
}

// SecurityGroupSpec describes the security group to find or create
type SecurityGroupSpec struct {
	Name        string
	Description string
	Ingress     []IngressRule
}

// InfrastructureConfig enumerates the desired network topology for one
// provisioning call. Build it with ForBuild or ForCluster.
type InfrastructureConfig struct {
	VPCName             string
	VPCCIDR             string
	Subnets             []SubnetSpec
	SecurityGroup       SecurityGroupSpec
	InternetGatewayName string
	Tags                map[string]string
}

// ForBuild returns the configuration of the transient infrastructure used
// for machine-image builds: one subnet with SSH open to the world.
func ForBuild(tags map[string]string) InfrastructureConfig {
	return InfrastructureConfig{
		VPCName: BuildVPCName,
		VPCCIDR: BuildCIDR,
		Subnets: []SubnetSpec{
			{Name: BuildVPCName + "-subnet", CIDR: "10.1.1.0/24"},
		},
		SecurityGroup: SecurityGroupSpec{
			Name:        BuildVPCName + "-sg",
			Description: "edl image build access",
			Ingress: []IngressRule{
				{Protocol: "tcp", FromPort: 22, ToPort: 22, CIDR: AnyIPv4, Description: "SSH"},
			},
		},
		InternetGatewayName: BuildVPCName + "-igw",
		Tags:                withOwner(tags, ""),
	}
}

// ForCluster returns the configuration of a persistent lab cluster: one
// subnet per availability zone, SSH restricted to sshCIDRs and all TCP/UDP
// traffic open inside the VPC.
func ForCluster(name string, azs []string, sshCIDRs []string, sshPort int32) InfrastructureConfig {
	cfg := InfrastructureConfig{
		VPCName:             name,
		VPCCIDR:             ClusterCIDR,
		InternetGatewayName: name + "-igw",
		Tags:                withOwner(nil, name),
		SecurityGroup: SecurityGroupSpec{
			Name:        name + "-sg",
			Description: fmt.Sprintf("edl cluster %s", name),
		},
	}

	for i, az := range azs {
		cfg.Subnets = append(cfg.Subnets, SubnetSpec{
			Name:             fmt.Sprintf("%s-subnet-%s", name, az),
			CIDR:             fmt.Sprintf("10.0.%d.0/24", i+1),
			AvailabilityZone: az,
		})
	}

	for _, cidr := range sshCIDRs {
		cfg.SecurityGroup.Ingress = append(cfg.SecurityGroup.Ingress, IngressRule{
			Protocol: "tcp", FromPort: sshPort, ToPort: sshPort, CIDR: cidr, Description: "SSH",
		})
	}
	cfg.SecurityGroup.Ingress = append(cfg.SecurityGroup.Ingress,
		IngressRule{Protocol: "tcp", FromPort: 0, ToPort: 65535, CIDR: ClusterCIDR, Description: "VPC internal TCP"},
		IngressRule{Protocol: "udp", FromPort: 0, ToPort: 65535, CIDR: ClusterCIDR, Description: "VPC internal UDP"},
	)

	return cfg
}

// WithTags returns a copy of the configuration with extra tags merged in
func (c InfrastructureConfig) WithTags(tags map[string]string) InfrastructureConfig {
	merged := maps.Clone(c.Tags)
	if merged == nil {
		merged = make(map[string]string, len(tags))
	}
	maps.Copy(merged, tags)
	c.Tags = merged
	return c
}

// Validate checks that the configuration is complete enough to reconcile
func (c InfrastructureConfig) Validate() error {
	if c.VPCName == "" {
		return fmt.Errorf("vpc name is required")
	}
	if c.VPCCIDR == "" {
		return fmt.Errorf("vpc cidr is required")
	}
	if len(c.Subnets) == 0 {
		return fmt.Errorf("at least one subnet is required")
	}
	for _, s := range c.Subnets {
		if s.Name == "" || s.CIDR == "" {
			return fmt.Errorf("subnet name and cidr are required")
		}
	}
	if c.SecurityGroup.Name == "" {
		return fmt.Errorf("security group name is required")
	}
	return nil
}

// TagsWithName merges the Name tag into the configured tags
func (c InfrastructureConfig) TagsWithName(name string) map[string]string {
	return NameTags(name, c.Tags)
}

// NameTags returns tags plus Name=name. The input map is not modified.
func NameTags(name string, tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags)+1)
	maps.Copy(out, tags)
	out[TagName] = name
	return out
}

func withOwner(tags map[string]string, cluster string) map[string]string {
	out := map[string]string{TagOwner: OwnerValue}
	maps.Copy(out, tags)
	if cluster != "" {
		out[TagCluster] = cluster
	}
	return out
}

// VpcInfrastructure is the result of a reconciliation
type VpcInfrastructure struct {
	VPCID             string   `yaml:"vpc_id" json:"vpc_id"`
	SubnetIDs         []string `yaml:"subnet_ids" json:"subnet_ids"`
	SecurityGroupID   string   `yaml:"security_group_id" json:"security_group_id"`
	InternetGatewayID string   `yaml:"internet_gateway_id" json:"internet_gateway_id"`
}
