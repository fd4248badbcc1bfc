package types

import "time"

// Instance represents an EC2 instance found during discovery
type Instance struct {
	ID         string
	Name       string
	PrivateIP  string
	PublicIP   string
	State      string
	Type       string
	AZ         string
	LaunchTime time.Time
}

// Image represents a machine image built for lab nodes
type Image struct {
	ID          string
	Name        string
	State       string
	SnapshotIDs []string
	CreatedAt   time.Time
}
