package aws

import (
	"errors"
	"fmt"

	"github.com/rustyrazorblade/edl/internal/retry"
	"github.com/rustyrazorblade/edl/pkg/provider"
)

// ProviderError represents a failed AWS operation on one resource
type ProviderError struct {
	Service   string // "ec2", "emr", "iam", ...
	Operation string // "create-vpc", "delete-subnet", ...
	Resource  string // resource id or name
	Cause     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s on '%s': %v", e.Service, e.Operation, e.Resource, e.Cause)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Is maps AWS permission failures onto provider.ErrPermissionDenied
func (e *ProviderError) Is(target error) bool {
	return target == provider.ErrPermissionDenied && retry.IsAccessDenied(e.Cause)
}

func wrapErr(service, operation, resource string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Service: service, Operation: operation, Resource: resource, Cause: err}
}
