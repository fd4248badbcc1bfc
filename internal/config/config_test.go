package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyrazorblade/edl/pkg/provider"
	"github.com/rustyrazorblade/edl/pkg/types"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	require.NoError(t, Init(v, filepath.Join(t.TempDir(), "missing.yaml")))

	s, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, int32(22), s.SSHPort)
	assert.Equal(t, BackendFile, s.StateBackend)
	assert.Equal(t, 10*time.Minute, s.InstanceTimeout)

	w := s.Waits()
	assert.Equal(t, 5*time.Second, w.PollInterval)
	assert.Equal(t, 45*time.Minute, w.SearchTimeout)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
profile: lab
region: us-west-2
ssh_port: 2222
ssh_cidrs: [1.2.3.4/32]
availability_zones: [us-west-2a, us-west-2b]
instance_timeout: 2m
state_backend: SSM
tags:
  team: db
`), 0644))

	v := viper.New()
	require.NoError(t, Init(v, path))
	s, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "lab", s.Profile)
	assert.Equal(t, "us-west-2", s.Region)
	assert.Equal(t, int32(2222), s.SSHPort)
	assert.Equal(t, []string{"1.2.3.4/32"}, s.SSHCIDRs)
	assert.Equal(t, []string{"us-west-2a", "us-west-2b"}, s.AvailabilityZones)
	assert.Equal(t, 2*time.Minute, s.Waits().InstanceTimeout)
	assert.Equal(t, BackendSSM, s.StateBackend)
	assert.Equal(t, map[string]string{"team": "db"}, s.Tags)
}

func TestLoadRejectsBadValues(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set(KeyStateBackend, "dynamo")
	_, err := Load(v)
	assert.Error(t, err)

	v = viper.New()
	SetDefaults(v)
	v.Set(KeySSHPort, 70000)
	_, err = Load(v)
	assert.Error(t, err)

	v = viper.New()
	SetDefaults(v)
	v.Set(KeyNatTimeout, "0s")
	_, err = Load(v)
	assert.Error(t, err)
}

func TestInitRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profile: [unclosed"), 0644))
	assert.Error(t, Init(viper.New(), path))
}

func TestSaveProfileKeepsOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edl", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("ssh_port: 2222\nprofile: old\n"), 0644))

	require.NoError(t, SaveProfile(path, "lab", "eu-west-1"))

	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "lab", f.Profile)
	assert.Equal(t, "eu-west-1", f.Region)

	v := viper.New()
	require.NoError(t, Init(v, path))
	assert.Equal(t, 2222, v.GetInt(KeySSHPort))
}

func TestLoadFileMissing(t *testing.T) {
	f, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Empty(t, f.Profile)
}

func record(name string) *types.ClusterRecord {
	return &types.ClusterRecord{
		Name:   name,
		Region: "us-west-2",
		Infrastructure: types.VpcInfrastructure{
			VPCID:     "vpc-" + name,
			SubnetIDs: []string{"subnet-1", "subnet-2"},
		},
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())

	_, err := store.Current(ctx)
	assert.ErrorIs(t, err, provider.ErrNoCurrentCluster)

	require.NoError(t, store.Save(ctx, record("demo")))
	got, err := store.Load(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, record("demo"), got)

	current, err := store.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "demo", current.Name)

	require.NoError(t, store.Save(ctx, record("other")))
	names, cur, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"demo", "other"}, names)
	assert.Equal(t, "other", cur)

	require.NoError(t, store.Use(ctx, "demo"))
	_, cur, err = store.List()
	require.NoError(t, err)
	assert.Equal(t, "demo", cur)

	assert.ErrorIs(t, store.Use(ctx, "ghost"), provider.ErrNotFound)
}

func TestFileStoreForgetClearsCurrent(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())
	require.NoError(t, store.Save(ctx, record("demo")))

	require.NoError(t, store.Forget(ctx, "demo"))
	_, err := store.Load(ctx, "demo")
	assert.ErrorIs(t, err, provider.ErrNotFound)
	_, err = store.Current(ctx)
	assert.ErrorIs(t, err, provider.ErrNoCurrentCluster)

	require.NoError(t, store.Delete(ctx, "demo"))
}

func TestFileStoreRejectsPathNames(t *testing.T) {
	store := NewFileStore(t.TempDir())
	_, err := store.Load(context.Background(), "../etc/passwd")
	assert.Error(t, err)
	assert.Error(t, store.Save(context.Background(), &types.ClusterRecord{Name: ""}))
}

// memoryStore is an in-memory StateStore standing in for Parameter Store
type memoryStore struct {
	records map[string]*types.ClusterRecord
	err     error
}

func (m *memoryStore) Load(_ context.Context, cluster string) (*types.ClusterRecord, error) {
	r, ok := m.records[cluster]
	if !ok {
		return nil, provider.ErrNotFound
	}
	return r, nil
}

func (m *memoryStore) Save(_ context.Context, r *types.ClusterRecord) error {
	if m.err != nil {
		return m.err
	}
	m.records[r.Name] = r
	return nil
}

func (m *memoryStore) Delete(_ context.Context, cluster string) error {
	if _, ok := m.records[cluster]; !ok {
		return provider.ErrNotFound
	}
	delete(m.records, cluster)
	return nil
}

func TestFileStoreMirror(t *testing.T) {
	ctx := context.Background()
	remote := &memoryStore{records: map[string]*types.ClusterRecord{"shared": record("shared")}}
	dir := t.TempDir()
	store := NewFileStore(dir, WithMirror(remote))

	require.NoError(t, store.Save(ctx, record("demo")))
	assert.Contains(t, remote.records, "demo")

	got, err := store.Load(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, "vpc-shared", got.Infrastructure.VPCID)
	assert.FileExists(t, filepath.Join(dir, "shared.yaml"))

	require.NoError(t, store.Forget(ctx, "demo"))
	assert.NotContains(t, remote.records, "demo")
	require.NoError(t, store.Forget(ctx, "never-saved"))

	remote.err = errors.New("throttled")
	assert.Error(t, store.Save(ctx, record("late")))
}
