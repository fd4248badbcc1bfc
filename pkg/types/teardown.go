package types

import (
	"errors"

	"go.uber.org/multierr"
)

// DiscoveredResources is the inventory of everything living in one VPC
type DiscoveredResources struct {
	VPCID             string
	VPCName           string
	InstanceIDs       []string
	EMRClusterIDs     []string
	SearchDomains     []string
	SecurityGroupIDs  []string
	SubnetIDs         []string
	NatGatewayIDs     []string
	RouteTableIDs     []string
	InternetGatewayID string
}

// Count returns the number of resources found, the VPC included
func (d DiscoveredResources) Count() int {
	n := len(d.InstanceIDs) + len(d.EMRClusterIDs) + len(d.SearchDomains) + len(d.SecurityGroupIDs) +
		len(d.SubnetIDs) + len(d.NatGatewayIDs) + len(d.RouteTableIDs)
	if d.InternetGatewayID != "" {
		n++
	}
	if d.VPCID != "" {
		n++
	}
	return n
}

// IsEmpty reports whether nothing besides the VPC itself was found
func (d DiscoveredResources) IsEmpty() bool {
	return d.Count() <= 1
}

// TeardownResult accumulates the outcome of a (possibly multi-VPC) teardown
type TeardownResult struct {
	Success bool
	Deleted []DiscoveredResources
	Errors  []string
}

// NewTeardownResult returns an empty successful result
func NewTeardownResult() *TeardownResult {
	return &TeardownResult{Success: true}
}

// Fail records an error and marks the result failed. Combined errors are
// recorded one by one.
func (r *TeardownResult) Fail(err error) {
	for _, e := range multierr.Errors(err) {
		r.Success = false
		r.Errors = append(r.Errors, e.Error())
	}
}

// Merge folds another result into r
func (r *TeardownResult) Merge(o *TeardownResult) {
	if o == nil {
		return
	}
	r.Success = r.Success && o.Success
	r.Deleted = append(r.Deleted, o.Deleted...)
	r.Errors = append(r.Errors, o.Errors...)
}

// Err combines all recorded errors, or returns nil on success
func (r *TeardownResult) Err() error {
	var err error
	for _, msg := range r.Errors {
		err = multierr.Append(err, errors.New(msg))
	}
	return err
}
