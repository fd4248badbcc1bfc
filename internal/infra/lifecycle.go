package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rustyrazorblade/edl/internal/output"
	"github.com/rustyrazorblade/edl/internal/wait"
	"github.com/rustyrazorblade/edl/pkg/provider"
	"github.com/rustyrazorblade/edl/pkg/types"
)

// EMR cluster states
const (
	emrStarting             = "STARTING"
	emrBootstrapping        = "BOOTSTRAPPING"
	emrRunning              = "RUNNING"
	emrWaiting              = "WAITING"
	emrTerminating          = "TERMINATING"
	emrTerminated           = "TERMINATED"
	emrTerminatedWithErrors = "TERMINATED_WITH_ERRORS"
)

// clusterPhase maps an EMR state onto the wait phases
func clusterPhase(state string) wait.Phase {
	switch state {
	case emrRunning, emrWaiting:
		return wait.PhaseReady
	case emrTerminating:
		return wait.PhaseTerminating
	case emrTerminated:
		return wait.PhaseTerminated
	case emrTerminatedWithErrors:
		return wait.PhaseFailed
	}
	return wait.PhaseStarting
}

// EMRFinished reports whether an EMR cluster state is final
func EMRFinished(state string) bool {
	return state == emrTerminated || state == emrTerminatedWithErrors
}

// EMRLifecycle launches a Spark cluster and waits on it
type EMRLifecycle struct {
	clusters provider.ClusterProvider
	options
}

// NewEMRLifecycle returns an EMRLifecycle over clusters
func NewEMRLifecycle(clusters provider.ClusterProvider, opts ...Option) *EMRLifecycle {
	return &EMRLifecycle{clusters: clusters, options: newOptions(opts)}
}

// Create launches the cluster and returns its id without waiting
func (l *EMRLifecycle) Create(ctx context.Context, cfg types.EMRClusterConfig) (string, error) {
	id, err := l.clusters.CreateCluster(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("failed to start EMR cluster %s: %w", cfg.Name, err)
	}
	return id, nil
}

// WaitForReady blocks until the cluster is RUNNING or WAITING. A cluster
// that terminates first is an error.
func (l *EMRLifecycle) WaitForReady(ctx context.Context, id string) (*types.ClusterState, error) {
	output.Publishf(l.out, "Waiting for EMR cluster %s to start", id)
	var last *types.ClusterState
	_, err := l.driver(l.settings.EMRPollInterval, l.settings.EMRTimeout).Until(ctx, "emr cluster "+id, wait.PhaseReady,
		func(ctx context.Context) (wait.Observation, error) {
			state, err := l.clusters.DescribeCluster(ctx, id)
			if err != nil {
				return wait.Observation{}, err
			}
			last = state
			return wait.Observation{Phase: clusterPhase(state.State), Status: state.State, Reason: state.Reason}, nil
		})
	if err != nil {
		return last, err
	}
	output.Publishf(l.out, "Ready: EMR cluster %s (%s)", id, last.Master)
	return last, nil
}

// Terminate asks EMR to shut the cluster down
func (l *EMRLifecycle) Terminate(ctx context.Context, ids ...string) error {
	if err := l.clusters.TerminateClusters(ctx, ids...); err != nil {
		return fmt.Errorf("failed to terminate EMR cluster(s) %v: %w", ids, err)
	}
	return nil
}

// WaitForTerminated blocks until every cluster is gone. Clusters that end
// with errors count as gone.
func (l *EMRLifecycle) WaitForTerminated(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	resource := "emr cluster(s) " + strings.Join(ids, ",")
	_, err := l.driver(l.settings.EMRPollInterval, l.settings.EMRTimeout).Until(ctx, resource, wait.PhaseTerminated,
		func(ctx context.Context) (wait.Observation, error) {
			done := 0
			for _, id := range ids {
				state, err := l.clusters.DescribeCluster(ctx, id)
				if errors.Is(err, provider.ErrNotFound) {
					done++
					continue
				}
				if err != nil {
					return wait.Observation{}, err
				}
				if EMRFinished(state.State) {
					done++
				}
			}
			return countObservation(done, len(ids), "terminated"), nil
		})
	if err != nil {
		return err
	}
	output.Publishf(l.out, "Terminated EMR cluster(s) %s", strings.Join(ids, ", "))
	return nil
}

// OpenSearchLifecycle creates a search domain and waits on it
type OpenSearchLifecycle struct {
	search provider.SearchProvider
	options
}

// NewOpenSearchLifecycle returns an OpenSearchLifecycle over search
func NewOpenSearchLifecycle(search provider.SearchProvider, opts ...Option) *OpenSearchLifecycle {
	return &OpenSearchLifecycle{search: search, options: newOptions(opts)}
}

// domainPhase maps a domain status onto the wait phases
func domainPhase(d *types.DomainState) (wait.Phase, string) {
	switch {
	case d.Deleted:
		return wait.PhaseTerminating, "deleting"
	case d.Created && !d.Processing && d.Endpoint != "":
		return wait.PhaseReady, "active"
	case d.Processing:
		return wait.PhaseStarting, "processing"
	}
	return wait.PhaseStarting, "creating"
}

// Create starts creating the domain without waiting
func (l *OpenSearchLifecycle) Create(ctx context.Context, cfg types.OpenSearchConfig) (*types.DomainState, error) {
	d, err := l.search.CreateDomain(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenSearch domain %s: %w", cfg.DomainName, err)
	}
	return d, nil
}

// WaitForReady blocks until the domain has an endpoint and no pending
// changes. A domain that is deleted meanwhile is an error.
func (l *OpenSearchLifecycle) WaitForReady(ctx context.Context, name string) (*types.DomainState, error) {
	output.Publishf(l.out, "Waiting for OpenSearch domain %s, this usually takes 15 to 30 minutes", name)
	var last *types.DomainState
	_, err := l.driver(l.settings.SearchPollInterval, l.settings.SearchTimeout).Until(ctx, "opensearch domain "+name, wait.PhaseReady,
		func(ctx context.Context) (wait.Observation, error) {
			d, err := l.search.DescribeDomain(ctx, name)
			if errors.Is(err, provider.ErrNotFound) {
				return wait.Observation{Phase: wait.PhaseTerminated, Status: "deleted"}, nil
			}
			if err != nil {
				return wait.Observation{}, err
			}
			last = d
			phase, status := domainPhase(d)
			return wait.Observation{Phase: phase, Status: status}, nil
		})
	if err != nil {
		return last, err
	}
	output.Publishf(l.out, "Ready: OpenSearch domain %s at https://%s", name, last.Endpoint)
	return last, nil
}

// Terminate starts deleting the domains
func (l *OpenSearchLifecycle) Terminate(ctx context.Context, names ...string) error {
	for _, name := range names {
		if err := l.search.DeleteDomain(ctx, name); err != nil {
			return fmt.Errorf("failed to delete OpenSearch domain %s: %w", name, err)
		}
	}
	return nil
}

// WaitForTerminated blocks until DescribeDomain no longer finds any of names
func (l *OpenSearchLifecycle) WaitForTerminated(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	resource := "opensearch domain(s) " + strings.Join(names, ",")
	_, err := l.driver(l.settings.SearchPollInterval, l.settings.SearchTimeout).Until(ctx, resource, wait.PhaseTerminated,
		func(ctx context.Context) (wait.Observation, error) {
			done := 0
			for _, name := range names {
				_, err := l.search.DescribeDomain(ctx, name)
				if errors.Is(err, provider.ErrNotFound) {
					done++
					continue
				}
				if err != nil {
					return wait.Observation{}, err
				}
			}
			return countObservation(done, len(names), "deleted"), nil
		})
	if err != nil {
		return err
	}
	output.Publishf(l.out, "Deleted OpenSearch domain(s) %s", strings.Join(names, ", "))
	return nil
}

// FindDomainsInVPC returns the domains placed in any of subnetIDs
func (l *OpenSearchLifecycle) FindDomainsInVPC(ctx context.Context, subnetIDs []string) ([]string, error) {
	return findDomainsInSubnets(ctx, l.search, subnetIDs)
}

// ImageStater reports the state of a machine image
type ImageStater interface {
	ImageState(ctx context.Context, imageID string) (string, error)
}

// WaitForImage blocks until an image is available. Failed images are an error.
func WaitForImage(ctx context.Context, images ImageStater, imageID string, opts ...Option) error {
	o := newOptions(opts)
	_, err := o.driver(o.settings.ImagePollInterval, o.settings.ImageTimeout).Until(ctx, "image "+imageID, wait.PhaseReady,
		func(ctx context.Context) (wait.Observation, error) {
			state, err := images.ImageState(ctx, imageID)
			if err != nil {
				return wait.Observation{}, err
			}
			switch state {
			case "available":
				return wait.Observation{Phase: wait.PhaseReady, Status: state}, nil
			case "pending":
				return wait.Observation{Phase: wait.PhaseStarting, Status: state}, nil
			case "deregistered", "disabled":
				return wait.Observation{Phase: wait.PhaseTerminated, Status: state}, nil
			}
			return wait.Observation{Phase: wait.PhaseFailed, Status: state}, nil
		})
	return err
}

// findDomainsInSubnets describes every domain of the account and keeps the
// ones placed in subnetIDs. Domains that vanish between the two calls are
// skipped.
func findDomainsInSubnets(ctx context.Context, search provider.SearchProvider, subnetIDs []string) ([]string, error) {
	if len(subnetIDs) == 0 {
		return nil, nil
	}
	inVPC := make(map[string]bool, len(subnetIDs))
	for _, id := range subnetIDs {
		inVPC[id] = true
	}

	names, err := search.ListDomainNames(ctx)
	if err != nil {
		return nil, err
	}
	var found []string
	for _, name := range names {
		d, err := search.DescribeDomain(ctx, name)
		if errors.Is(err, provider.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if d.Deleted {
			continue
		}
		for _, sn := range d.SubnetIDs {
			if inVPC[sn] {
				found = append(found, name)
				break
			}
		}
	}
	return found, nil
}

func countObservation(done, total int, verb string) wait.Observation {
	phase := wait.PhaseTerminating
	if done == total {
		phase = wait.PhaseTerminated
	}
	return wait.Observation{Phase: phase, Status: fmt.Sprintf("%d/%d %s", done, total, verb)}
}
