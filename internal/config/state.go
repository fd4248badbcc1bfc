package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/rustyrazorblade/edl/pkg/provider"
	"github.com/rustyrazorblade/edl/pkg/types"
)

const currentFile = "current"

// FileStore caches cluster records as yaml files, one per cluster, and
// remembers which cluster commands act on by default. With a mirror set,
// every write is copied to it and records missing locally are read from it.
type FileStore struct {
	dir    string
	mirror provider.StateStore
	log    logrus.FieldLogger
}

// StoreOption customizes a FileStore
type StoreOption func(*FileStore)

// WithMirror copies records to a remote store
func WithMirror(remote provider.StateStore) StoreOption {
	return func(s *FileStore) {
		s.mirror = remote
	}
}

// WithStoreLogger sets the structured logger
func WithStoreLogger(log logrus.FieldLogger) StoreOption {
	return func(s *FileStore) {
		s.log = log
	}
}

// NewFileStore returns a store rooted at dir
func NewFileStore(dir string, opts ...StoreOption) *FileStore {
	s := &FileStore{dir: dir, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FileStore) path(cluster string) (string, error) {
	if cluster == "" || cluster != filepath.Base(cluster) || strings.HasPrefix(cluster, ".") {
		return "", fmt.Errorf("invalid cluster name %q", cluster)
	}
	return filepath.Join(s.dir, cluster+".yaml"), nil
}

// Load returns the record of cluster, or provider.ErrNotFound
func (s *FileStore) Load(ctx context.Context, cluster string) (*types.ClusterRecord, error) {
	path, err := s.path(cluster)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s.loadMirror(ctx, cluster)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state of cluster %s: %w", cluster, err)
	}

	var record types.ClusterRecord
	if err := yaml.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse state of cluster %s: %w", cluster, err)
	}
	return &record, nil
}

func (s *FileStore) loadMirror(ctx context.Context, cluster string) (*types.ClusterRecord, error) {
	if s.mirror == nil {
		return nil, fmt.Errorf("cluster %s: %w", cluster, provider.ErrNotFound)
	}
	record, err := s.mirror.Load(ctx, cluster)
	if err != nil {
		return nil, err
	}
	if err := s.write(record); err != nil {
		return nil, err
	}
	s.log.WithField("cluster", cluster).Debug("Cached cluster state from remote store.")
	return record, nil
}

// Save writes the record, mirrors it and makes it the current cluster
func (s *FileStore) Save(ctx context.Context, record *types.ClusterRecord) error {
	if err := s.write(record); err != nil {
		return err
	}
	if s.mirror != nil {
		if err := s.mirror.Save(ctx, record); err != nil {
			return fmt.Errorf("failed to mirror state of cluster %s: %w", record.Name, err)
		}
	}
	return s.setCurrent(record.Name)
}

func (s *FileStore) write(record *types.ClusterRecord) error {
	path, err := s.path(record.Name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := yaml.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write state of cluster %s: %w", record.Name, err)
	}
	return nil
}

// Delete removes the record locally and from the mirror. Deleting a record
// that does not exist succeeds.
func (s *FileStore) Delete(ctx context.Context, cluster string) error {
	path, err := s.path(cluster)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete state of cluster %s: %w", cluster, err)
	}
	if s.mirror != nil {
		if err := s.mirror.Delete(ctx, cluster); err != nil && !errors.Is(err, provider.ErrNotFound) {
			return fmt.Errorf("failed to delete mirrored state of cluster %s: %w", cluster, err)
		}
	}

	current, err := s.currentName()
	if err != nil {
		return err
	}
	if current == cluster {
		return s.setCurrent("")
	}
	return nil
}

// Current returns the record of the current cluster, or
// provider.ErrNoCurrentCluster
func (s *FileStore) Current(ctx context.Context) (*types.ClusterRecord, error) {
	name, err := s.currentName()
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, provider.ErrNoCurrentCluster
	}
	record, err := s.Load(ctx, name)
	if errors.Is(err, provider.ErrNotFound) {
		return nil, fmt.Errorf("current cluster %s has no state: %w", name, provider.ErrNoCurrentCluster)
	}
	return record, err
}

// Forget drops every trace of a torn down cluster
func (s *FileStore) Forget(ctx context.Context, cluster string) error {
	return s.Delete(ctx, cluster)
}

// Use makes cluster the current one. The cluster must have a record.
func (s *FileStore) Use(ctx context.Context, cluster string) error {
	if _, err := s.Load(ctx, cluster); err != nil {
		return err
	}
	return s.setCurrent(cluster)
}

// List returns the cached cluster names, sorted, and the current one
func (s *FileStore) List() ([]string, string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, "", fmt.Errorf("failed to read state directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)

	current, err := s.currentName()
	if err != nil {
		return nil, "", err
	}
	return names, current, nil
}

func (s *FileStore) currentName() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, currentFile))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read current cluster: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *FileStore) setCurrent(cluster string) error {
	path := filepath.Join(s.dir, currentFile)
	if cluster == "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to clear current cluster: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(cluster+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to set current cluster: %w", err)
	}
	return nil
}
