// Package retry builds the per-service retry policies used around every
// AWS call and drives them with exponential or fixed backoff.
package retry

import (
	"time"
)

// Service identifies the API family a policy is tuned for
type Service string

const (
	ServiceIAM        Service = "iam"
	ServiceS3         Service = "s3"
	ServiceEC2        Service = "ec2"
	ServiceEMR        Service = "emr"
	ServiceOpenSearch Service = "opensearch"
	ServiceSQS        Service = "sqs"
	ServiceSSM        Service = "ssm"
	ServiceSecrets    Service = "secretsmanager"
	ServiceSTS        Service = "sts"
)

const (
	// DefaultBaseDelay is the first retry delay of exponential policies
	DefaultBaseDelay = time.Second
	// LogRetrievalDelay is the fixed delay between log download attempts
	LogRetrievalDelay = 3 * time.Second

	iamMaxAttempts          = 5
	genericMaxAttempts      = 3
	logRetrievalMaxAttempts = 10
)

// Policy describes how many times an operation is attempted, how long to
// wait before each retry and which errors are worth retrying.
type Policy struct {
	Name        string
	MaxAttempts int
	// Backoff returns the delay before retry number attempt (1-based)
	Backoff func(attempt int) time.Duration
	// Retryable decides whether err may succeed on a later attempt
	Retryable func(err error) bool
}

// Exponential returns base * 2^(attempt-1)
func Exponential(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		return base << (attempt - 1)
	}
}

// Fixed returns the same delay for every attempt
func Fixed(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// ForService returns the policy tuned for the given API family
func ForService(s Service) Policy {
	if s == ServiceIAM {
		return IAM()
	}
	return Generic(s)
}

// IAM retries server errors and 404s, which IAM returns for entities that
// were just created and have not propagated yet. Permission failures and
// "already exists" conflicts are final.
func IAM() Policy {
	return Policy{
		Name:        string(ServiceIAM),
		MaxAttempts: iamMaxAttempts,
		Backoff:     Exponential(DefaultBaseDelay),
		Retryable: func(err error) bool {
			if IsAccessDenied(err) || IsAlreadyExists(err) {
				return false
			}
			return IsServerError(err) || IsNotFound(err)
		},
	}
}

// Generic retries 5xx service errors only. Client errors fail immediately.
func Generic(s Service) Policy {
	return Policy{
		Name:        string(s),
		MaxAttempts: genericMaxAttempts,
		Backoff:     Exponential(DefaultBaseDelay),
		Retryable:   IsServerError,
	}
}

// LogRetrieval retries "not found" while waiting for logs to land in S3
func LogRetrieval() Policy {
	return Policy{
		Name:        "s3-logs",
		MaxAttempts: logRetrievalMaxAttempts,
		Backoff:     Fixed(LogRetrievalDelay),
		Retryable:   IsNotFound,
	}
}
