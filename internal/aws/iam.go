package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/sirupsen/logrus"

	"github.com/rustyrazorblade/edl/internal/retry"
	pkgtypes "github.com/rustyrazorblade/edl/pkg/types"
)

// Well-known AWS managed policies and the role names edl creates
const (
	EMRServicePolicyARN = "arn:aws:iam::aws:policy/service-role/AmazonElasticMapReduceRole"
	EMREC2PolicyARN     = "arn:aws:iam::aws:policy/service-role/AmazonElasticMapReduceforEC2Role"

	EMRServiceRoleName = "EasyDBLabEMRServiceRole"
	EMREC2RoleName     = "EasyDBLabEMREC2Role"
	InstanceRoleName   = "EasyDBLabEC2Role"

	policyVersion = "2012-10-17"
)

// PolicyDocument is an IAM policy in its JSON wire form
type PolicyDocument struct {
	Version   string            `json:"Version"`
	Statement []PolicyStatement `json:"Statement"`
}

// PolicyStatement is one statement of a PolicyDocument
type PolicyStatement struct {
	Sid       string           `json:"Sid,omitempty"`
	Effect    string           `json:"Effect"`
	Principal *PolicyPrincipal `json:"Principal,omitempty"`
	Action    []string         `json:"Action"`
	Resource  []string         `json:"Resource,omitempty"`
}

// PolicyPrincipal names who a trust or resource policy applies to
type PolicyPrincipal struct {
	Service []string `json:"Service,omitempty"`
	AWS     []string `json:"AWS,omitempty"`
}

// JSON renders the document
func (d PolicyDocument) JSON() (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal policy document: %w", err)
	}
	return string(b), nil
}

// TrustPolicy allows the given services to assume a role
func TrustPolicy(services ...string) PolicyDocument {
	return PolicyDocument{
		Version: policyVersion,
		Statement: []PolicyStatement{{
			Effect:    "Allow",
			Principal: &PolicyPrincipal{Service: services},
			Action:    []string{"sts:AssumeRole"},
		}},
	}
}

// BucketAccessPolicy grants full object access to one bucket
func BucketAccessPolicy(bucket string) PolicyDocument {
	return PolicyDocument{
		Version: policyVersion,
		Statement: []PolicyStatement{
			{
				Effect:   "Allow",
				Action:   []string{"s3:ListBucket", "s3:GetBucketLocation"},
				Resource: []string{"arn:aws:s3:::" + bucket},
			},
			{
				Effect:   "Allow",
				Action:   []string{"s3:GetObject", "s3:PutObject", "s3:DeleteObject"},
				Resource: []string{"arn:aws:s3:::" + bucket + "/*"},
			},
		},
	}
}

// AccountBucketPolicy is a bucket policy letting every principal of
// accountID use the bucket, so EMR and lab node roles created later need no
// bucket change
func AccountBucketPolicy(accountID, bucket string) PolicyDocument {
	doc := BucketAccessPolicy(bucket)
	for i := range doc.Statement {
		doc.Statement[i].Principal = &PolicyPrincipal{AWS: []string{"arn:aws:iam::" + accountID + ":root"}}
	}
	return doc
}

// EMRRoles are the roles a Spark cluster launches with
type EMRRoles struct {
	ServiceRole string
	JobFlowRole string // instance profile name
}

// IAMService manages roles and instance profiles. Lookups of entities that
// do not exist fail fast; everything else uses the IAM retry policy so
// freshly created entities have time to propagate.
type IAMService struct {
	api IAMAPI
	service
}

// NewIAMService returns an IAMService using the IAM retry policy
func NewIAMService(api IAMAPI, opts ...ServiceOption) *IAMService {
	return &IAMService{api: api, service: newService(retry.ServiceIAM, opts)}
}

// EnsureRole creates the role if missing and attaches each managed policy
// that is not attached yet. It returns the role ARN.
func (s *IAMService) EnsureRole(ctx context.Context, name string, trust PolicyDocument, managedARNs []string, tags map[string]string) (string, error) {
	arn, err := s.findRole(ctx, name)
	if err != nil {
		return "", err
	}

	if arn == "" {
		doc, err := trust.JSON()
		if err != nil {
			return "", err
		}
		out, err := callWithData(ctx, &s.service, func() (*iam.CreateRoleOutput, error) {
			return s.api.CreateRole(ctx, &iam.CreateRoleInput{
				RoleName:                 aws.String(name),
				AssumeRolePolicyDocument: aws.String(doc),
				Description:              aws.String("Managed by edl"),
				Tags:                     iamTags(tags),
			})
		})
		switch {
		case retry.IsAlreadyExists(err):
			// created concurrently since the lookup above
			if arn, err = s.findRole(ctx, name); err != nil {
				return "", err
			}
			s.publish("Found existing IAM role %s", name)
		case err != nil:
			return "", wrapErr("iam", "create-role", name, err)
		default:
			arn = deref(out.Role.Arn)
			s.publish("Created IAM role %s", name)
		}
	} else {
		s.publish("Found existing IAM role %s", name)
	}

	attached, err := s.attachedPolicies(ctx, name)
	if err != nil {
		return "", err
	}
	for _, policyARN := range managedARNs {
		if attached[policyARN] {
			continue
		}
		err := s.call(ctx, func() error {
			_, err := s.api.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
				RoleName:  aws.String(name),
				PolicyArn: aws.String(policyARN),
			})
			return err
		})
		if err != nil {
			return "", wrapErr("iam", "attach-role-policy", name, err)
		}
		s.log.WithFields(logrus.Fields{"role": name, "policy": policyARN}).Info("Attached policy.")
	}
	return arn, nil
}

// PutInlinePolicy sets an inline policy on a role, replacing any previous
// document with the same name
func (s *IAMService) PutInlinePolicy(ctx context.Context, role, name string, doc PolicyDocument) error {
	body, err := doc.JSON()
	if err != nil {
		return err
	}
	err = s.call(ctx, func() error {
		_, err := s.api.PutRolePolicy(ctx, &iam.PutRolePolicyInput{
			RoleName:       aws.String(role),
			PolicyName:     aws.String(name),
			PolicyDocument: aws.String(body),
		})
		return err
	})
	if err != nil {
		return wrapErr("iam", "put-role-policy", role, err)
	}
	s.publish("Updated inline policy %s on %s", name, role)
	return nil
}

// EnsureInstanceProfile creates the instance profile if missing and adds
// role to it
func (s *IAMService) EnsureInstanceProfile(ctx context.Context, name, role string) error {
	var profile *iamtypes.InstanceProfile
	err := s.callWithPolicy(ctx, retry.Generic(retry.ServiceIAM), func() error {
		out, err := s.api.GetInstanceProfile(ctx, &iam.GetInstanceProfileInput{InstanceProfileName: aws.String(name)})
		if err != nil {
			return err
		}
		profile = out.InstanceProfile
		return nil
	})
	if err != nil && !retry.IsNotFound(err) {
		return wrapErr("iam", "get-instance-profile", name, err)
	}

	if profile == nil {
		err := s.call(ctx, func() error {
			_, err := s.api.CreateInstanceProfile(ctx, &iam.CreateInstanceProfileInput{InstanceProfileName: aws.String(name)})
			if retry.IsAlreadyExists(err) {
				return nil
			}
			return err
		})
		if err != nil {
			return wrapErr("iam", "create-instance-profile", name, err)
		}
		s.publish("Created instance profile %s", name)
	} else {
		for _, r := range profile.Roles {
			if deref(r.RoleName) == role {
				return nil
			}
		}
	}

	err = s.call(ctx, func() error {
		_, err := s.api.AddRoleToInstanceProfile(ctx, &iam.AddRoleToInstanceProfileInput{
			InstanceProfileName: aws.String(name),
			RoleName:            aws.String(role),
		})
		// an instance profile holds a single role
		if retry.ErrorCode(err) == "LimitExceeded" {
			return nil
		}
		return err
	})
	if err != nil {
		return wrapErr("iam", "add-role-to-instance-profile", name, err)
	}
	return nil
}

// EnsureEMRRoles sets up the EMR service role and the EC2 job flow role with
// its instance profile
func (s *IAMService) EnsureEMRRoles(ctx context.Context, tags map[string]string) (EMRRoles, error) {
	if _, err := s.EnsureRole(ctx, EMRServiceRoleName,
		TrustPolicy("elasticmapreduce.amazonaws.com"),
		[]string{EMRServicePolicyARN}, tags); err != nil {
		return EMRRoles{}, err
	}
	if _, err := s.EnsureRole(ctx, EMREC2RoleName,
		TrustPolicy("ec2.amazonaws.com"),
		[]string{EMREC2PolicyARN}, tags); err != nil {
		return EMRRoles{}, err
	}
	if err := s.EnsureInstanceProfile(ctx, EMREC2RoleName, EMREC2RoleName); err != nil {
		return EMRRoles{}, err
	}
	return EMRRoles{ServiceRole: EMRServiceRoleName, JobFlowRole: EMREC2RoleName}, nil
}

// EnsureInstanceRole sets up the role lab nodes run with and grants it
// access to the cluster bucket
func (s *IAMService) EnsureInstanceRole(ctx context.Context, bucket string, tags map[string]string) error {
	if _, err := s.EnsureRole(ctx, InstanceRoleName, TrustPolicy("ec2.amazonaws.com"), nil, tags); err != nil {
		return err
	}
	if bucket != "" {
		if err := s.PutInlinePolicy(ctx, InstanceRoleName, "edl-bucket-access", BucketAccessPolicy(bucket)); err != nil {
			return err
		}
	}
	return s.EnsureInstanceProfile(ctx, InstanceRoleName, InstanceRoleName)
}

func (s *IAMService) findRole(ctx context.Context, name string) (string, error) {
	var arn string
	err := s.callWithPolicy(ctx, retry.Generic(retry.ServiceIAM), func() error {
		out, err := s.api.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
		if err != nil {
			return err
		}
		arn = deref(out.Role.Arn)
		return nil
	})
	if err != nil {
		if retry.IsNotFound(err) {
			return "", nil
		}
		return "", wrapErr("iam", "get-role", name, err)
	}
	return arn, nil
}

func (s *IAMService) attachedPolicies(ctx context.Context, role string) (map[string]bool, error) {
	attached := make(map[string]bool)
	paginator := iam.NewListAttachedRolePoliciesPaginator(s.api, &iam.ListAttachedRolePoliciesInput{RoleName: aws.String(role)})
	for paginator.HasMorePages() {
		page, err := callWithData(ctx, &s.service, func() (*iam.ListAttachedRolePoliciesOutput, error) {
			return paginator.NextPage(ctx)
		})
		if err != nil {
			return nil, wrapErr("iam", "list-attached-role-policies", role, err)
		}
		for _, p := range page.AttachedPolicies {
			attached[deref(p.PolicyArn)] = true
		}
	}
	return attached, nil
}

func iamTags(tags map[string]string) []iamtypes.Tag {
	var out []iamtypes.Tag
	for _, t := range ec2Tags(withOwnerTag(tags)) {
		out = append(out, iamtypes.Tag{Key: t.Key, Value: t.Value})
	}
	return out
}

func withOwnerTag(tags map[string]string) map[string]string {
	out := map[string]string{pkgtypes.TagOwner: pkgtypes.OwnerValue}
	for k, v := range tags {
		out[k] = v
	}
	return out
}
