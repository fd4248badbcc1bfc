package types

// EMRClusterConfig describes the Spark cluster to launch
type EMRClusterConfig struct {
	Name            string
	ReleaseLabel    string
	SubnetID        string
	SecurityGroupID string
	KeyName         string
	MasterType      string
	CoreType        string
	CoreCount       int32
	LogURI          string
	ServiceRole     string
	JobFlowRole     string
	Applications    []string
	Tags            map[string]string
}

// ClusterState is the lifecycle state reported for an EMR cluster
type ClusterState struct {
	ID     string
	State  string // STARTING, BOOTSTRAPPING, RUNNING, WAITING, TERMINATING, TERMINATED, TERMINATED_WITH_ERRORS
	Reason string
	Master string // master public DNS
}

// OpenSearchConfig describes the OpenSearch domain to create
type OpenSearchConfig struct {
	DomainName      string
	EngineVersion   string
	InstanceType    string
	InstanceCount   int32
	VolumeSizeGB    int32
	SubnetIDs       []string
	SecurityGroupID string
	MasterUser      string
	MasterPassword  string
	Tags            map[string]string
}

// DomainState is the lifecycle state reported for an OpenSearch domain
type DomainState struct {
	Name       string
	ARN        string
	Endpoint   string
	Created    bool
	Deleted    bool
	Processing bool
	SubnetIDs  []string
}
