package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/rustyrazorblade/edl/internal/retry"
	pkgtypes "github.com/rustyrazorblade/edl/pkg/types"
)

// SQSService manages the queue that receives log delivery notifications
type SQSService struct {
	api SQSAPI
	service
}

// NewSQSService returns an SQSService using the SQS retry policy
func NewSQSService(api SQSAPI, opts ...ServiceOption) *SQSService {
	return &SQSService{api: api, service: newService(retry.ServiceSQS, opts)}
}

// FindOrCreateQueue returns the queue called name, creating it if absent
func (s *SQSService) FindOrCreateQueue(ctx context.Context, name string, tags map[string]string) (*pkgtypes.Queue, error) {
	var url string
	err := s.call(ctx, func() error {
		out, err := s.api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
		if err != nil {
			return err
		}
		url = deref(out.QueueUrl)
		return nil
	})

	switch {
	case err == nil:
		s.publish("Found existing queue %s", name)
	case isMissingQueue(err):
		out, err := callWithData(ctx, &s.service, func() (*sqs.CreateQueueOutput, error) {
			return s.api.CreateQueue(ctx, &sqs.CreateQueueInput{
				QueueName: aws.String(name),
				Tags:      tags,
			})
		})
		if err != nil {
			return nil, wrapErr("sqs", "create-queue", name, err)
		}
		url = deref(out.QueueUrl)
		s.publish("Created queue %s", name)
	default:
		return nil, wrapErr("sqs", "get-queue-url", name, err)
	}

	arn, err := s.QueueARN(ctx, url)
	if err != nil {
		return nil, err
	}
	return &pkgtypes.Queue{Name: name, URL: url, ARN: arn}, nil
}

// QueueARN returns the ARN of the queue at url
func (s *SQSService) QueueARN(ctx context.Context, url string) (string, error) {
	out, err := callWithData(ctx, &s.service, func() (*sqs.GetQueueAttributesOutput, error) {
		return s.api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
			QueueUrl:       aws.String(url),
			AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameQueueArn},
		})
	})
	if err != nil {
		return "", wrapErr("sqs", "get-queue-attributes", url, err)
	}
	return out.Attributes[string(sqstypes.QueueAttributeNameQueueArn)], nil
}

// AllowBucketNotifications lets the bucket send event notifications to the queue
func (s *SQSService) AllowBucketNotifications(ctx context.Context, queue *pkgtypes.Queue, bucket string) error {
	doc := PolicyDocument{
		Version: policyVersion,
		Statement: []PolicyStatement{{
			Effect:    "Allow",
			Principal: &PolicyPrincipal{Service: []string{"s3.amazonaws.com"}},
			Action:    []string{"sqs:SendMessage"},
			Resource:  []string{queue.ARN},
		}},
	}
	body, err := doc.JSON()
	if err != nil {
		return err
	}
	err = s.call(ctx, func() error {
		_, err := s.api.SetQueueAttributes(ctx, &sqs.SetQueueAttributesInput{
			QueueUrl: aws.String(queue.URL),
			Attributes: map[string]string{
				string(sqstypes.QueueAttributeNamePolicy): body,
			},
		})
		return err
	})
	if err != nil {
		return wrapErr("sqs", "set-queue-attributes", queue.Name, err)
	}
	s.log.WithField("bucket", bucket).Debug("Queue accepts bucket notifications.")
	return nil
}

// DeleteQueue deletes the queue at url. A missing queue counts as deleted.
func (s *SQSService) DeleteQueue(ctx context.Context, url string) error {
	err := s.call(ctx, func() error {
		_, err := s.api.DeleteQueue(ctx, &sqs.DeleteQueueInput{QueueUrl: aws.String(url)})
		return err
	})
	if err != nil && !isMissingQueue(err) {
		return wrapErr("sqs", "delete-queue", url, err)
	}
	s.publish("Deleted queue %s", url)
	return nil
}

func isMissingQueue(err error) bool {
	switch retry.ErrorCode(err) {
	case "QueueDoesNotExist", "AWS.SimpleQueueService.NonExistentQueue":
		return true
	}
	return retry.IsNotFound(err)
}
