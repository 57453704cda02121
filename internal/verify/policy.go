package verify

import (
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// Policy holds the per-platform verification policy overrides. The default
// for every probing platform is fail-open: a third party's outage should not
// block registration. Operators who want a platform's probe to be
// assurance-bearing can flip it to fail-closed here.
type Policy struct {
	Platforms map[string]PlatformPolicy `yaml:"platforms"`
}

// PlatformPolicy is the policy for a single platform.
type PlatformPolicy struct {
	FailClosed bool `yaml:"fail_closed"`
}

// FailClosed reports whether probes for the platform should fail closed.
func (p Policy) FailClosed(platform string) bool {
	return p.Platforms[strings.ToLower(platform)].FailClosed
}

// LoadPolicy reads a YAML policy file. A missing path yields the zero
// policy (uniform fail-open).
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return Policy{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Policy{}, nil
		}
		return Policy{}, err
	}
	defer f.Close()

	var p Policy
	if err := yaml.NewDecoder(f).Decode(&p); err != nil {
		return Policy{}, err
	}
	return p, nil
}
