package aws

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"github.com/rustyrazorblade/edl/internal/retry"
	pkgtypes "github.com/rustyrazorblade/edl/pkg/types"
)

// maxDeleteBatch is the most keys DeleteObjects accepts per call
const maxDeleteBatch = 1000

// S3Service manages lab buckets and fetches logs written to them
type S3Service struct {
	api    S3API
	region string
	logs   retry.Policy
	service
}

// NewS3Service returns an S3Service creating buckets in region
func NewS3Service(api S3API, region string, opts ...ServiceOption) *S3Service {
	return &S3Service{
		api:     api,
		region:  region,
		logs:    retry.LogRetrieval(),
		service: newService(retry.ServiceS3, opts),
	}
}

// BucketName returns the lab bucket name for an account and cluster
func BucketName(accountID, cluster string) string {
	return fmt.Sprintf("edl-%s-%s", cluster, accountID)
}

// FindOrCreateBucket creates the bucket unless this account already owns it
func (s *S3Service) FindOrCreateBucket(ctx context.Context, name string, tags map[string]string) (*pkgtypes.Bucket, error) {
	bucket := &pkgtypes.Bucket{Name: name, Region: s.region}

	err := s.call(ctx, func() error {
		_, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)})
		return err
	})
	if err == nil {
		s.publish("Found existing bucket %s", name)
		return bucket, nil
	}
	if !retry.IsNotFound(err) {
		return nil, wrapErr("s3", "head-bucket", name, err)
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(name)}
	// us-east-1 rejects an explicit location constraint
	if s.region != "" && s.region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(s.region),
		}
	}
	err = s.call(ctx, func() error {
		_, err := s.api.CreateBucket(ctx, input)
		if retry.IsAlreadyExists(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, wrapErr("s3", "create-bucket", name, err)
	}

	if len(tags) > 0 {
		var tagSet []s3types.Tag
		for _, t := range ec2Tags(tags) {
			tagSet = append(tagSet, s3types.Tag{Key: t.Key, Value: t.Value})
		}
		err = s.call(ctx, func() error {
			_, err := s.api.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
				Bucket:  aws.String(name),
				Tagging: &s3types.Tagging{TagSet: tagSet},
			})
			return err
		})
		if err != nil {
			return nil, wrapErr("s3", "put-bucket-tagging", name, err)
		}
	}

	s.log.WithFields(logrus.Fields{"bucket": name, "region": s.region}).Info("Created bucket.")
	s.publish("Created bucket %s", name)
	return bucket, nil
}

// PutBucketPolicy replaces the bucket policy
func (s *S3Service) PutBucketPolicy(ctx context.Context, bucket string, doc PolicyDocument) error {
	body, err := doc.JSON()
	if err != nil {
		return err
	}
	err = s.call(ctx, func() error {
		_, err := s.api.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{
			Bucket: aws.String(bucket),
			Policy: aws.String(body),
		})
		return err
	})
	if err != nil {
		return wrapErr("s3", "put-bucket-policy", bucket, err)
	}
	return nil
}

// NotifyQueue sends an event to the queue for every object created under
// prefix
func (s *S3Service) NotifyQueue(ctx context.Context, bucket, queueARN, prefix string) error {
	cfg := &s3types.NotificationConfiguration{
		QueueConfigurations: []s3types.QueueConfiguration{{
			Id:       aws.String("edl-logs"),
			QueueArn: aws.String(queueARN),
			Events:   []s3types.Event{"s3:ObjectCreated:*"},
		}},
	}
	if prefix != "" {
		cfg.QueueConfigurations[0].Filter = &s3types.NotificationConfigurationFilter{
			Key: &s3types.S3KeyFilter{FilterRules: []s3types.FilterRule{{
				Name:  s3types.FilterRuleNamePrefix,
				Value: aws.String(prefix),
			}}},
		}
	}
	err := s.call(ctx, func() error {
		_, err := s.api.PutBucketNotificationConfiguration(ctx, &s3.PutBucketNotificationConfigurationInput{
			Bucket:                    aws.String(bucket),
			NotificationConfiguration: cfg,
		})
		return err
	})
	if err != nil {
		return wrapErr("s3", "put-bucket-notification-configuration", bucket, err)
	}
	s.log.WithFields(logrus.Fields{"bucket": bucket, "prefix": prefix}).Debug("Bucket notifies queue.")
	return nil
}

// ListKeys returns every key under prefix
func (s *S3Service) ListKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := callWithData(ctx, &s.service, func() (*s3.ListObjectsV2Output, error) {
			return paginator.NextPage(ctx)
		})
		if err != nil {
			return nil, wrapErr("s3", "list-objects", bucket+"/"+prefix, err)
		}
		for _, o := range page.Contents {
			keys = append(keys, deref(o.Key))
		}
	}
	return keys, nil
}

// DownloadLog copies an object to w. Logs land in S3 some time after they
// are written, so a missing key is retried for up to half a minute.
func (s *S3Service) DownloadLog(ctx context.Context, bucket, key string, w io.Writer) (int64, error) {
	var body io.ReadCloser
	err := s.callWithPolicy(ctx, s.logs, func() error {
		out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		body = out.Body
		return nil
	})
	if err != nil {
		return 0, wrapErr("s3", "get-object", bucket+"/"+key, err)
	}
	defer body.Close()

	n, err := io.Copy(w, body)
	if err != nil {
		return n, fmt.Errorf("failed to read s3://%s/%s: %w", bucket, key, err)
	}
	return n, nil
}

// EmptyAndDeleteBucket deletes every object and then the bucket. A missing
// bucket counts as deleted.
func (s *S3Service) EmptyAndDeleteBucket(ctx context.Context, bucket string) error {
	keys, err := s.ListKeys(ctx, bucket, "")
	if err != nil {
		if retry.IsNotFound(err) {
			return nil
		}
		return err
	}

	for start := 0; start < len(keys); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(keys))
		objects := make([]s3types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			objects = append(objects, s3types.ObjectIdentifier{Key: aws.String(k)})
		}
		err := s.call(ctx, func() error {
			_, err := s.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(bucket),
				Delete: &s3types.Delete{Objects: objects, Quiet: aws.Bool(true)},
			})
			return err
		})
		if err != nil {
			return wrapErr("s3", "delete-objects", bucket, err)
		}
	}

	err = s.call(ctx, func() error {
		_, err := s.api.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)})
		return err
	})
	if err != nil && !retry.IsNotFound(err) {
		return wrapErr("s3", "delete-bucket", bucket, err)
	}
	s.publish("Deleted bucket %s (%d objects)", bucket, len(keys))
	return nil
}
