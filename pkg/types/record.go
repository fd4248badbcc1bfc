package types

import "time"

// ClusterRecord is the locally cached descriptor of a provisioned lab
type ClusterRecord struct {
	Name             string            `yaml:"name" json:"name"`
	Region           string            `yaml:"region,omitempty" json:"region,omitempty"`
	Infrastructure   VpcInfrastructure `yaml:"infrastructure" json:"infrastructure"`
	EMRClusterID     string            `yaml:"emr_cluster_id,omitempty" json:"emr_cluster_id,omitempty"`
	OpenSearchDomain string            `yaml:"opensearch_domain,omitempty" json:"opensearch_domain,omitempty"`
	Bucket           string            `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	LogQueueURL      string            `yaml:"log_queue_url,omitempty" json:"log_queue_url,omitempty"`
	CreatedAt        time.Time         `yaml:"created_at" json:"created_at"`
}
