package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmTypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"gopkg.in/yaml.v3"

	"github.com/rustyrazorblade/edl/internal/retry"
	"github.com/rustyrazorblade/edl/pkg/provider"
	"github.com/rustyrazorblade/edl/pkg/types"
)

var _ provider.StateStore = (*ParameterStateStore)(nil)

// ParameterStateStore keeps cluster records in SSM Parameter Store so a lab
// can be torn down from another machine
type ParameterStateStore struct {
	api SSMAPI
	service
}

// NewParameterStateStore returns a state store backed by Parameter Store
func NewParameterStateStore(api SSMAPI, opts ...ServiceOption) *ParameterStateStore {
	return &ParameterStateStore{api: api, service: newService(retry.ServiceSSM, opts)}
}

// ParameterName returns the parameter holding the record of cluster
func ParameterName(cluster string) string {
	return fmt.Sprintf("/edl/%s/state", cluster)
}

// Load returns the stored record, or provider.ErrNotFound
func (s *ParameterStateStore) Load(ctx context.Context, cluster string) (*types.ClusterRecord, error) {
	name := ParameterName(cluster)
	out, err := callWithData(ctx, &s.service, func() (*ssm.GetParameterOutput, error) {
		return s.api.GetParameter(ctx, &ssm.GetParameterInput{Name: aws.String(name)})
	})
	if err != nil {
		if isMissingParameter(err) {
			return nil, fmt.Errorf("cluster %s: %w", cluster, provider.ErrNotFound)
		}
		return nil, wrapErr("ssm", "get-parameter", name, err)
	}
	if out.Parameter == nil {
		return nil, fmt.Errorf("cluster %s: %w", cluster, provider.ErrNotFound)
	}

	var record types.ClusterRecord
	if err := yaml.Unmarshal([]byte(deref(out.Parameter.Value)), &record); err != nil {
		return nil, fmt.Errorf("failed to parse state of cluster %s: %w", cluster, err)
	}
	return &record, nil
}

// Save writes the record, replacing any previous value
func (s *ParameterStateStore) Save(ctx context.Context, record *types.ClusterRecord) error {
	data, err := yaml.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	name := ParameterName(record.Name)
	err = s.call(ctx, func() error {
		_, err := s.api.PutParameter(ctx, &ssm.PutParameterInput{
			Name:      aws.String(name),
			Value:     aws.String(string(data)),
			Type:      ssmTypes.ParameterTypeString,
			Overwrite: aws.Bool(true),
		})
		return err
	})
	if err != nil {
		return wrapErr("ssm", "put-parameter", name, err)
	}
	s.log.WithField("parameter", name).Debug("Saved cluster state.")
	return nil
}

// Delete removes the record. A missing record counts as deleted.
func (s *ParameterStateStore) Delete(ctx context.Context, cluster string) error {
	name := ParameterName(cluster)
	err := s.call(ctx, func() error {
		_, err := s.api.DeleteParameter(ctx, &ssm.DeleteParameterInput{Name: aws.String(name)})
		return err
	})
	if err != nil && !isMissingParameter(err) {
		return wrapErr("ssm", "delete-parameter", name, err)
	}
	return nil
}

func isMissingParameter(err error) bool {
	return retry.ErrorCode(err) == "ParameterNotFound" || retry.IsNotFound(err)
}
