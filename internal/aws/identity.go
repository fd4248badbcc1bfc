package aws

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/rustyrazorblade/edl/internal/retry"
)

// CallerIdentity represents AWS caller identity information
type CallerIdentity struct {
	Account string
	Arn     string
	UserID  string
}

// IdentityService resolves the caller identity once and remembers it.
// Bucket names and IAM policy ARNs embed the account id.
type IdentityService struct {
	api STSAPI
	service

	mu       sync.Mutex
	identity *CallerIdentity
}

// NewIdentityService returns an IdentityService backed by STS
func NewIdentityService(api STSAPI, opts ...ServiceOption) *IdentityService {
	return &IdentityService{api: api, service: newService(retry.ServiceSTS, opts)}
}

// CallerIdentity returns the current AWS caller identity. Failures are not
// remembered so a later call can succeed.
func (s *IdentityService) CallerIdentity(ctx context.Context) (*CallerIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity != nil {
		return s.identity, nil
	}

	out, err := callWithData(ctx, &s.service, func() (*sts.GetCallerIdentityOutput, error) {
		return s.api.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	})
	if err != nil {
		return nil, wrapErr("sts", "get-caller-identity", "caller", err)
	}
	s.identity = &CallerIdentity{
		Account: deref(out.Account),
		Arn:     deref(out.Arn),
		UserID:  deref(out.UserId),
	}
	return s.identity, nil
}

// AccountID returns the account id of the caller
func (s *IdentityService) AccountID(ctx context.Context) (string, error) {
	id, err := s.CallerIdentity(ctx)
	if err != nil {
		return "", err
	}
	return id.Account, nil
}
