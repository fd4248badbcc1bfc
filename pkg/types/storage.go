package types

// Bucket represents an S3 bucket owned by a lab
type Bucket struct {
	Name   string `json:"name"`
	Region string `json:"region"`
}

// Queue represents an SQS queue owned by a lab
type Queue struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	ARN  string `json:"arn"`
}
