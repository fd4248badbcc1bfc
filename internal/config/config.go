package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rustyrazorblade/edl/internal/infra"
)

// Configuration keys, shared by the config file, EDL_* env vars and flags
const (
	KeyProfile           = "profile"
	KeyRegion            = "region"
	KeyTags              = "tags"
	KeySSHCIDRs          = "ssh_cidrs"
	KeySSHPort           = "ssh_port"
	KeyAvailabilityZones = "availability_zones"
	KeyPollInterval      = "poll_interval"
	KeyInstanceTimeout   = "instance_timeout"
	KeyNatTimeout        = "nat_timeout"
	KeyEMRTimeout        = "emr_timeout"
	KeySearchTimeout     = "opensearch_timeout"
	KeyStateBackend      = "state_backend"
)

// State backends
const (
	BackendFile = "file"
	BackendSSM  = "ssm"
)

// Settings is the resolved configuration of one invocation
type Settings struct {
	Profile           string
	Region            string
	Tags              map[string]string
	SSHCIDRs          []string
	SSHPort           int32
	AvailabilityZones []string
	PollInterval      time.Duration
	InstanceTimeout   time.Duration
	NatTimeout        time.Duration
	EMRTimeout        time.Duration
	SearchTimeout     time.Duration
	StateBackend      string
}

// File is the part of the configuration edl writes back to disk
type File struct {
	Profile string `yaml:"profile,omitempty"`
	Region  string `yaml:"region,omitempty"`
}

// GetConfigDir returns the config directory path (~/.edl)
func GetConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".edl"
	}
	return filepath.Join(home, ".edl")
}

// GetConfigPath returns the config file path (~/.edl/config.yaml)
func GetConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// GetStateDir returns the directory of the local cluster state cache
func GetStateDir() string {
	return filepath.Join(GetConfigDir(), "state")
}

// SetDefaults registers the default of every key
func SetDefaults(v *viper.Viper) {
	defaults := infra.DefaultSettings()
	v.SetDefault(KeySSHPort, 22)
	v.SetDefault(KeyPollInterval, defaults.PollInterval)
	v.SetDefault(KeyInstanceTimeout, defaults.InstanceTimeout)
	v.SetDefault(KeyNatTimeout, defaults.NatTimeout)
	v.SetDefault(KeyEMRTimeout, defaults.EMRTimeout)
	v.SetDefault(KeySearchTimeout, defaults.SearchTimeout)
	v.SetDefault(KeyStateBackend, BackendFile)
}

// Init points v at the config file and the EDL_ environment. A missing
// file is not an error.
func Init(v *viper.Viper, path string) error {
	SetDefaults(v)
	v.SetEnvPrefix("EDL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}

// Load resolves and validates the settings held by v
func Load(v *viper.Viper) (*Settings, error) {
	s := &Settings{
		Profile:           v.GetString(KeyProfile),
		Region:            v.GetString(KeyRegion),
		Tags:              v.GetStringMapString(KeyTags),
		SSHCIDRs:          v.GetStringSlice(KeySSHCIDRs),
		SSHPort:           v.GetInt32(KeySSHPort),
		AvailabilityZones: v.GetStringSlice(KeyAvailabilityZones),
		PollInterval:      v.GetDuration(KeyPollInterval),
		InstanceTimeout:   v.GetDuration(KeyInstanceTimeout),
		NatTimeout:        v.GetDuration(KeyNatTimeout),
		EMRTimeout:        v.GetDuration(KeyEMRTimeout),
		SearchTimeout:     v.GetDuration(KeySearchTimeout),
		StateBackend:      strings.ToLower(v.GetString(KeyStateBackend)),
	}

	if s.SSHPort <= 0 || s.SSHPort > 65535 {
		return nil, fmt.Errorf("invalid %s %d", KeySSHPort, s.SSHPort)
	}
	switch s.StateBackend {
	case BackendFile, BackendSSM:
	default:
		return nil, fmt.Errorf("invalid %s %q: want %s or %s", KeyStateBackend, s.StateBackend, BackendFile, BackendSSM)
	}
	for _, d := range []struct {
		key string
		val time.Duration
	}{
		{KeyPollInterval, s.PollInterval},
		{KeyInstanceTimeout, s.InstanceTimeout},
		{KeyNatTimeout, s.NatTimeout},
		{KeyEMRTimeout, s.EMRTimeout},
		{KeySearchTimeout, s.SearchTimeout},
	} {
		if d.val <= 0 {
			return nil, fmt.Errorf("%s must be positive, got %s", d.key, d.val)
		}
	}
	return s, nil
}

// Waits returns the poll intervals and deadlines for the orchestrators
func (s *Settings) Waits() infra.Settings {
	w := infra.DefaultSettings()
	w.PollInterval = s.PollInterval
	w.InstanceTimeout = s.InstanceTimeout
	w.NatTimeout = s.NatTimeout
	w.EMRTimeout = s.EMRTimeout
	w.SearchTimeout = s.SearchTimeout
	return w
}

// LoadFile reads the config file at path. A missing file yields an empty File.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &f, nil
}

// SaveProfile stores the AWS profile and region in the config file at path.
// Keys edl does not manage are kept.
func SaveProfile(path, profile, region string) error {
	doc := map[string]interface{}{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
		if doc == nil {
			doc = map[string]interface{}{}
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("failed to read config file: %w", err)
	}

	doc[KeyProfile] = profile
	if region != "" {
		doc[KeyRegion] = region
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
