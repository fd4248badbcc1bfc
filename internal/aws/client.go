package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/emr"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/opensearch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Client wraps AWS SDK clients
type Client struct {
	EC2        *ec2.Client
	EMR        *emr.Client
	OpenSearch *opensearch.Client
	IAM        *iam.Client
	S3         *s3.Client
	SQS        *sqs.Client
	SSM        *ssm.Client
	Secrets    *secretsmanager.Client
	STS        *sts.Client

	Config  aws.Config
	ctx     context.Context
	profile string
	region  string
}

// ClientOption allows customizing the AWS Client
type ClientOption func(*Client)

// WithProfile sets the AWS profile for the client
func WithProfile(profile string) ClientOption {
	return func(c *Client) {
		c.profile = profile
	}
}

// WithRegion sets the AWS region for the client
func WithRegion(region string) ClientOption {
	return func(c *Client) {
		c.region = region
	}
}

// NewClient creates a new AWS Client with the given options
func NewClient(ctx context.Context, opts ...ClientOption) (*Client, error) {
	c := &Client{
		ctx: ctx,
	}

	// Apply options
	for _, opt := range opts {
		opt(c)
	}

	// Build config options. retry.Do is the only retry layer.
	configOpts := []func(*config.LoadOptions) error{
		config.WithRetryMaxAttempts(1),
	}

	if c.profile != "" {
		configOpts = append(configOpts, config.WithSharedConfigProfile(c.profile))
	}

	if c.region != "" {
		configOpts = append(configOpts, config.WithRegion(c.region))
	}

	// Load AWS config
	cfg, err := config.LoadDefaultConfig(c.ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS SDK config: %w", err)
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("no AWS region configured: pass --region or set AWS_REGION")
	}

	c.Config = cfg
	c.region = cfg.Region
	c.EC2 = ec2.NewFromConfig(cfg)
	c.EMR = emr.NewFromConfig(cfg)
	c.OpenSearch = opensearch.NewFromConfig(cfg)
	c.IAM = iam.NewFromConfig(cfg)
	c.S3 = s3.NewFromConfig(cfg)
	c.SQS = sqs.NewFromConfig(cfg)
	c.SSM = ssm.NewFromConfig(cfg)
	c.Secrets = secretsmanager.NewFromConfig(cfg)
	c.STS = sts.NewFromConfig(cfg)

	return c, nil
}

// Region returns the resolved AWS region
func (c *Client) Region() string {
	return c.region
}

// Services groups the resource services built on one client
type Services struct {
	VPC         *VPCService
	EMR         *EMRService
	Search      *SearchService
	IAM         *IAMService
	S3          *S3Service
	SQS         *SQSService
	AMI         *AMIService
	Identity    *IdentityService
	Credentials *CredentialsService
	State       *ParameterStateStore
}

// Services returns the resource services sharing opts
func (c *Client) Services(opts ...ServiceOption) *Services {
	return &Services{
		VPC:         NewVPCService(c.EC2, opts...),
		EMR:         NewEMRService(c.EMR, opts...),
		Search:      NewSearchService(c.OpenSearch, opts...),
		IAM:         NewIAMService(c.IAM, opts...),
		S3:          NewS3Service(c.S3, c.region, opts...),
		SQS:         NewSQSService(c.SQS, opts...),
		AMI:         NewAMIService(c.EC2, opts...),
		Identity:    NewIdentityService(c.STS, opts...),
		Credentials: NewCredentialsService(c.Secrets, opts...),
		State:       NewParameterStateStore(c.SSM, opts...),
	}
}
