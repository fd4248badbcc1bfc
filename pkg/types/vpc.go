package types

// VPC represents an AWS VPC
type VPC struct {
	ID        string
	Name      string
	CIDR      string
	State     string
	IsDefault bool
	OwnerID   string
	Tags      map[string]string
}

// Subnet represents an AWS VPC Subnet
type Subnet struct {
	ID           string
	Name         string
	VPCID        string
	CIDR         string
	AZ           string
	AvailableIPs int
	State        string
	Public       bool // MapPublicIpOnLaunch
}

// SecurityGroup represents an EC2 security group with its ingress rules
type SecurityGroup struct {
	ID        string
	Name      string
	VPCID     string
	IsDefault bool
	Ingress   []IngressRule
}

// HasRule reports whether an equivalent ingress rule is already present
func (sg SecurityGroup) HasRule(rule IngressRule) bool {
	for _, r := range sg.Ingress {
		if r.Matches(rule) {
			return true
		}
	}
	return false
}

// RouteTable represents a VPC route table
type RouteTable struct {
	ID             string
	VPCID          string
	Main           bool
	AssociationIDs []string // non-main subnet associations
	SubnetIDs      []string
}
