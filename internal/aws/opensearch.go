package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/opensearch"
	ostypes "github.com/aws/aws-sdk-go-v2/service/opensearch/types"
	"github.com/sirupsen/logrus"

	"github.com/rustyrazorblade/edl/internal/retry"
	"github.com/rustyrazorblade/edl/pkg/provider"
	pkgtypes "github.com/rustyrazorblade/edl/pkg/types"
)

var _ provider.SearchProvider = (*SearchService)(nil)

// Default OpenSearch domain settings
const (
	DefaultEngineVersion      = "OpenSearch_2.11"
	DefaultSearchInstanceType = "t3.small.search"
	DefaultSearchVolumeGB     = 10
)

// SearchService manages OpenSearch domains
type SearchService struct {
	api OpenSearchAPI
	service
}

// NewSearchService returns a SearchService using the OpenSearch retry policy
func NewSearchService(api OpenSearchAPI, opts ...ServiceOption) *SearchService {
	return &SearchService{api: api, service: newService(retry.ServiceOpenSearch, opts)}
}

// CreateDomain creates a VPC-only domain with fine grained access control
// backed by the internal user database
func (s *SearchService) CreateDomain(ctx context.Context, cfg pkgtypes.OpenSearchConfig) (*pkgtypes.DomainState, error) {
	version := cfg.EngineVersion
	if version == "" {
		version = DefaultEngineVersion
	}
	instanceType := cfg.InstanceType
	if instanceType == "" {
		instanceType = DefaultSearchInstanceType
	}
	count := cfg.InstanceCount
	if count == 0 {
		count = 1
	}
	volume := cfg.VolumeSizeGB
	if volume == 0 {
		volume = DefaultSearchVolumeGB
	}

	// A single-AZ domain only accepts one subnet
	subnets := cfg.SubnetIDs
	if count == 1 && len(subnets) > 1 {
		subnets = subnets[:1]
	}

	input := &opensearch.CreateDomainInput{
		DomainName:    aws.String(cfg.DomainName),
		EngineVersion: aws.String(version),
		ClusterConfig: &ostypes.ClusterConfig{
			InstanceType:  ostypes.OpenSearchPartitionInstanceType(instanceType),
			InstanceCount: aws.Int32(count),
		},
		EBSOptions: &ostypes.EBSOptions{
			EBSEnabled: aws.Bool(true),
			VolumeSize: aws.Int32(volume),
			VolumeType: ostypes.VolumeTypeGp3,
		},
		VPCOptions: &ostypes.VPCOptions{
			SubnetIds:        subnets,
			SecurityGroupIds: []string{cfg.SecurityGroupID},
		},
		NodeToNodeEncryptionOptions: &ostypes.NodeToNodeEncryptionOptions{Enabled: aws.Bool(true)},
		EncryptionAtRestOptions:     &ostypes.EncryptionAtRestOptions{Enabled: aws.Bool(true)},
		DomainEndpointOptions:       &ostypes.DomainEndpointOptions{EnforceHTTPS: aws.Bool(true)},
		TagList:                     searchTags(pkgtypes.NameTags(cfg.DomainName, cfg.Tags)),
	}
	if cfg.MasterUser != "" {
		input.AdvancedSecurityOptions = &ostypes.AdvancedSecurityOptionsInput{
			Enabled:                     aws.Bool(true),
			InternalUserDatabaseEnabled: aws.Bool(true),
			MasterUserOptions: &ostypes.MasterUserOptions{
				MasterUserName:     aws.String(cfg.MasterUser),
				MasterUserPassword: aws.String(cfg.MasterPassword),
			},
		}
	}

	out, err := callWithData(ctx, &s.service, func() (*opensearch.CreateDomainOutput, error) {
		return s.api.CreateDomain(ctx, input)
	})
	if err != nil {
		if retry.IsAlreadyExists(err) {
			s.publish("Found existing OpenSearch domain %s", cfg.DomainName)
			return s.DescribeDomain(ctx, cfg.DomainName)
		}
		return nil, wrapErr("opensearch", "create-domain", cfg.DomainName, err)
	}
	s.log.WithFields(logrus.Fields{"domain": cfg.DomainName, "version": version}).Info("Creating OpenSearch domain.")
	s.publish("Created OpenSearch domain %s", cfg.DomainName)
	return toDomainState(out.DomainStatus), nil
}

// DescribeDomain returns the current state of a domain, or ErrNotFound
func (s *SearchService) DescribeDomain(ctx context.Context, name string) (*pkgtypes.DomainState, error) {
	out, err := callWithData(ctx, &s.service, func() (*opensearch.DescribeDomainOutput, error) {
		return s.api.DescribeDomain(ctx, &opensearch.DescribeDomainInput{DomainName: aws.String(name)})
	})
	if err != nil {
		if retry.IsNotFound(err) {
			return nil, fmt.Errorf("opensearch domain %s: %w", name, provider.ErrNotFound)
		}
		return nil, wrapErr("opensearch", "describe-domain", name, err)
	}
	if out.DomainStatus == nil {
		return nil, fmt.Errorf("opensearch domain %s: %w", name, provider.ErrNotFound)
	}
	return toDomainState(out.DomainStatus), nil
}

// DeleteDomain starts deletion of a domain. A missing domain counts as deleted.
func (s *SearchService) DeleteDomain(ctx context.Context, name string) error {
	err := s.call(ctx, func() error {
		_, err := s.api.DeleteDomain(ctx, &opensearch.DeleteDomainInput{DomainName: aws.String(name)})
		return err
	})
	if err != nil && !retry.IsNotFound(err) {
		return wrapErr("opensearch", "delete-domain", name, err)
	}
	s.publish("Deleting OpenSearch domain %s", name)
	return nil
}

// ListDomainNames returns the names of every domain in the account
func (s *SearchService) ListDomainNames(ctx context.Context) ([]string, error) {
	out, err := callWithData(ctx, &s.service, func() (*opensearch.ListDomainNamesOutput, error) {
		return s.api.ListDomainNames(ctx, &opensearch.ListDomainNamesInput{})
	})
	if err != nil {
		return nil, wrapErr("opensearch", "list-domain-names", "account", err)
	}
	names := make([]string, 0, len(out.DomainNames))
	for _, d := range out.DomainNames {
		names = append(names, deref(d.DomainName))
	}
	return names, nil
}

func toDomainState(d *ostypes.DomainStatus) *pkgtypes.DomainState {
	if d == nil {
		return nil
	}
	state := &pkgtypes.DomainState{
		Name:       deref(d.DomainName),
		ARN:        deref(d.ARN),
		Endpoint:   deref(d.Endpoint),
		Created:    derefBool(d.Created),
		Deleted:    derefBool(d.Deleted),
		Processing: derefBool(d.Processing),
	}
	if state.Endpoint == "" && d.Endpoints != nil {
		state.Endpoint = d.Endpoints["vpc"]
	}
	if d.VPCOptions != nil {
		state.SubnetIDs = d.VPCOptions.SubnetIds
	}
	return state
}

func searchTags(tags map[string]string) []ostypes.Tag {
	var out []ostypes.Tag
	for _, t := range ec2Tags(tags) {
		out = append(out, ostypes.Tag{Key: t.Key, Value: t.Value})
	}
	return out
}
