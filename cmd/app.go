package cmd

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/rustyrazorblade/edl/internal/aws"
	"github.com/rustyrazorblade/edl/internal/config"
	"github.com/rustyrazorblade/edl/internal/infra"
	"github.com/rustyrazorblade/edl/pkg/types"
)

// app bundles what a command needs to talk to AWS
type app struct {
	client *aws.Client
	svc    *aws.Services
	state  *config.FileStore
}

func newApp(ctx context.Context) (*app, error) {
	client, err := aws.NewClient(ctx,
		aws.WithProfile(settings.Profile),
		aws.WithRegion(settings.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS client: %w", err)
	}

	svc := client.Services(aws.WithLogger(log), aws.WithPublisher(console))
	opts := []config.StoreOption{config.WithStoreLogger(log)}
	if settings.StateBackend == config.BackendSSM {
		opts = append(opts, config.WithMirror(svc.State))
	}
	return &app{
		client: client,
		svc:    svc,
		state:  config.NewFileStore(config.GetStateDir(), opts...),
	}, nil
}

// localState opens the state cache without touching AWS
func localState() *config.FileStore {
	return config.NewFileStore(config.GetStateDir(), config.WithStoreLogger(log))
}

func infraOptions() []infra.Option {
	return []infra.Option{
		infra.WithLogger(log),
		infra.WithPublisher(console),
		infra.WithSettings(settings.Waits()),
	}
}

// clusterTags returns the configured tags plus the edl ownership tags of
// cluster
func clusterTags(cluster string) map[string]string {
	tags := make(map[string]string, len(settings.Tags)+2)
	maps.Copy(tags, settings.Tags)
	tags[types.TagOwner] = types.OwnerValue
	if cluster != "" {
		tags[types.TagCluster] = cluster
	}
	return tags
}

// current returns the record of the current cluster
func (a *app) current(ctx context.Context) (*types.ClusterRecord, error) {
	record, err := a.state.Current(ctx)
	if infra.IsNoCurrentCluster(err) {
		return nil, errors.New("no current cluster: create one with 'edl up <name>' or pick one with 'edl use'")
	}
	return record, err
}
