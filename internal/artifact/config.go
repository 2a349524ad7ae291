// Package artifact defines the build artifact document: the config that ties
// a pinned base runtime, resolved dependencies, the materialized source and
// the runtime contract together. An artifact is identified by the digest of
// its canonical config bytes.
package artifact

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"bootseq/internal/layer"
)

const (
	SchemaVersion = 1

	// Workdir is the fixed root the working tree is materialized under.
	Workdir = "/app"

	// StaticEntrypoint makes Launch serve the materialized tree in-process
	// instead of executing a child.
	StaticEntrypoint = "bootseq:static"

	DefaultPortVar = "PORT"
)

type Role string

const (
	RoleBase         Role = "base"
	RoleDependencies Role = "dependencies"
	RoleSource       Role = "source"
)

// Roles lists layer roles in stacking order.
var Roles = []Role{RoleBase, RoleDependencies, RoleSource}

type Layer struct {
	Role      Role   `json:"role"`
	MediaType string `json:"media_type"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size"`
}

func (l Layer) Descriptor() layer.Descriptor {
	return layer.Descriptor{Digest: l.Digest, Size: l.Size}
}

// Requirement is a manifest entry together with the version it resolved to.
type Requirement struct {
	Name       string   `json:"name"`
	Extras     []string `json:"extras,omitempty"`
	Constraint string   `json:"constraint,omitempty"`
	Version    string   `json:"version"`
}

// RuntimeFlags are the process-wide interpreter flags every instance is
// started with. They are fixed at build time.
type RuntimeFlags struct {
	DontWriteBytecode bool
	Unbuffered        bool
}

func DefaultRuntimeFlags() RuntimeFlags {
	return RuntimeFlags{DontWriteBytecode: true, Unbuffered: true}
}

// Env renders the flags as environment entries.
func (f RuntimeFlags) Env() map[string]string {
	out := map[string]string{}
	if f.DontWriteBytecode {
		out["PYTHONDONTWRITEBYTECODE"] = "1"
	}
	if f.Unbuffered {
		out["PYTHONUNBUFFERED"] = "1"
	}
	return out
}

// Network is the declared network contract. Nothing is bound at build time.
type Network struct {
	PortVar  string `json:"port_var"`
	Address  string `json:"address"`
	Protocol string `json:"protocol"`
}

type Config struct {
	Schema       int           `json:"schema"`
	Name         string        `json:"name"`
	Version      string        `json:"version,omitempty"`
	Base         string        `json:"base"`
	Requirements []Requirement `json:"requirements"`
	Env          []string      `json:"env"`
	Workdir      string        `json:"workdir"`
	Entrypoint   []string      `json:"entrypoint"`
	Network      Network       `json:"network"`
	Layers       []Layer       `json:"layers"`
}

// New returns a config with the schema and workdir filled in.
func New(name, version, base string) *Config {
	return &Config{
		Schema:       SchemaVersion,
		Name:         name,
		Version:      version,
		Base:         base,
		Requirements: []Requirement{},
		Env:          []string{},
		Workdir:      Workdir,
	}
}

// SetEnv sets key to value, keeping Env sorted by key.
func (c *Config) SetEnv(key, value string) {
	entry := key + "=" + value
	for i, kv := range c.Env {
		if k, _, _ := strings.Cut(kv, "="); k == key {
			c.Env[i] = entry
			return
		}
	}
	c.Env = append(c.Env, entry)
	sort.Strings(c.Env)
}

func (c *Config) LookupEnv(key string) (string, bool) {
	for _, kv := range c.Env {
		if k, v, _ := strings.Cut(kv, "="); k == key {
			return v, true
		}
	}
	return "", false
}

func (c *Config) Layer(role Role) (Layer, bool) {
	for _, l := range c.Layers {
		if l.Role == role {
			return l, true
		}
	}
	return Layer{}, false
}

// SetLayer records the layer for its role, replacing any earlier one.
func (c *Config) SetLayer(l Layer) {
	for i := range c.Layers {
		if c.Layers[i].Role == l.Role {
			c.Layers[i] = l
			return
		}
	}
	c.Layers = append(c.Layers, l)
	sort.SliceStable(c.Layers, func(i, j int) bool {
		return roleIndex(c.Layers[i].Role) < roleIndex(c.Layers[j].Role)
	})
}

func roleIndex(r Role) int {
	for i, known := range Roles {
		if known == r {
			return i
		}
	}
	return len(Roles)
}

// IsStatic reports whether the entrypoint asks for in-process serving.
func (c *Config) IsStatic() bool {
	return len(c.Entrypoint) == 1 && c.Entrypoint[0] == StaticEntrypoint
}

func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("artifact config is nil")
	}
	if c.Schema != SchemaVersion {
		return fmt.Errorf("unsupported artifact schema %d", c.Schema)
	}
	if strings.TrimSpace(c.Base) == "" {
		return fmt.Errorf("artifact base is empty")
	}
	if len(c.Entrypoint) == 0 || strings.TrimSpace(c.Entrypoint[0]) == "" {
		return fmt.Errorf("artifact entrypoint is empty")
	}
	if strings.TrimSpace(c.Network.PortVar) == "" {
		return fmt.Errorf("artifact declares no port variable")
	}
	for _, role := range Roles {
		l, ok := c.Layer(role)
		if !ok {
			return fmt.Errorf("artifact is missing the %s layer", role)
		}
		if !strings.HasPrefix(l.Digest, "sha256:") {
			return fmt.Errorf("%s layer has invalid digest %q", role, l.Digest)
		}
	}
	if len(c.Layers) != len(Roles) {
		return fmt.Errorf("artifact has %d layers, want %d", len(c.Layers), len(Roles))
	}
	return nil
}

// Canonical returns the bytes the artifact ID is computed over. Env is
// sorted so equal configs always encode identically.
func (c *Config) Canonical() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	cp := *c
	cp.Env = append([]string(nil), c.Env...)
	sort.Strings(cp.Env)
	return json.Marshal(&cp)
}

// ID returns "sha256:<hex>" of the canonical config.
func (c *Config) ID() (string, error) {
	raw, err := c.Canonical()
	if err != nil {
		return "", err
	}
	return layer.Digest(raw), nil
}

// Decode parses and validates a config document.
func Decode(raw []byte) (*Config, error) {
	var c Config
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode artifact config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// DocumentName is the store name of the config for id.
func DocumentName(id string) string {
	return id + ".json"
}

// NormalizeID accepts a bare hex digest or a "sha256:" prefixed one.
func NormalizeID(id string) (string, error) {
	id = strings.TrimSuffix(strings.TrimSpace(id), ".json")
	hex := strings.TrimPrefix(id, "sha256:")
	if len(hex) != 64 {
		return "", fmt.Errorf("invalid artifact id %q", id)
	}
	for _, r := range hex {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return "", fmt.Errorf("invalid artifact id %q", id)
		}
	}
	return "sha256:" + hex, nil
}
