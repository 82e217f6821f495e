// Package topology declares multi-host test scenarios in YAML so tests
// don't have to wire internal/host calls together by hand for every
// combination of hosts, interfaces, and firewall rules they want to try.
package topology

import (
	"fmt"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Config is the YAML-decoded description of a test topology.
type Config struct {
	Hosts        []HostConfig        `yaml:"hosts"`
	ForwardLinks []ForwardLinkConfig `yaml:"forwardLinks,omitempty"`
}

// HostConfig describes one virtual host: its interfaces and, optionally,
// the nftables ruleset it should boot with.
type HostConfig struct {
	Name             string            `yaml:"name"`
	Interfaces       []InterfaceConfig `yaml:"interfaces,omitempty"`
	NftRules         string            `yaml:"nftRules,omitempty"`
	EnableForwarding bool              `yaml:"enableForwarding,omitempty"`
}

// InterfaceConfig describes one interface attached to a host.
type InterfaceConfig struct {
	Name string `yaml:"name"`
	CIDR string `yaml:"cidr"`
}

// ForwardLinkConfig names two interfaces (as "host/interface") whose peers
// should be routed to each other through the host that owns both
// interfaces, for testing that router host's forward chain.
type ForwardLinkConfig struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Load reads and decodes a topology config from path on fs, the same
// testable-filesystem pattern telepresence's agent config loader uses.
func Load(fs afero.Fs, path string) (*Config, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening topology config %s: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding topology config %s: %w", path, err)
	}
	return &cfg, nil
}
