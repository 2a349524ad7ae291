package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// DescriptorFile is the build descriptor looked up in the working tree.
const DescriptorFile = "bootseq.yaml"

// Descriptor describes one build. Paths are relative to the directory the
// descriptor was loaded from.
type Descriptor struct {
	Name       string   `mapstructure:"name"`
	Version    string   `mapstructure:"version"`
	Base       string   `mapstructure:"base"`
	Manifest   string   `mapstructure:"manifest"`
	Source     string   `mapstructure:"source"`
	Entrypoint []string `mapstructure:"entrypoint"`
	PortVar    string   `mapstructure:"port_var"`
	Tag        string   `mapstructure:"tag"`
	Ignore     []string `mapstructure:"ignore"`
	Flags      Flags    `mapstructure:"flags"`
}

// Flags toggles the runtime flags written into the artifact. Both default to
// on.
type Flags struct {
	DontWriteBytecode bool `mapstructure:"dont_write_bytecode"`
	Unbuffered        bool `mapstructure:"unbuffered"`
}

func DefaultDescriptor() Descriptor {
	return Descriptor{
		Manifest: "requirements.txt",
		Source:   ".",
		PortVar:  "PORT",
		Flags:    Flags{DontWriteBytecode: true, Unbuffered: true},
	}
}

// LoadDescriptor reads path. A missing file yields the defaults with Name
// taken from the directory name. Values are decoded weakly, so
// `unbuffered: "1"` and a space separated entrypoint string both work.
func LoadDescriptor(path string) (Descriptor, error) {
	d := DefaultDescriptor()
	dir := filepath.Dir(path)
	if abs, err := filepath.Abs(dir); err == nil {
		d.Name = filepath.Base(abs)
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return d, nil
	}
	if err != nil {
		return Descriptor{}, fmt.Errorf("read %s: %w", path, err)
	}
	d, err = ParseDescriptor(raw, d)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// ParseDescriptor decodes YAML on top of base. The result is not validated
// so callers can apply overrides first.
func ParseDescriptor(raw []byte, base Descriptor) (Descriptor, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Descriptor{}, fmt.Errorf("parse descriptor: %w", err)
	}
	out := base
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToSliceHookFunc(" "),
	})
	if err != nil {
		return Descriptor{}, err
	}
	if err := dec.Decode(doc); err != nil {
		return Descriptor{}, fmt.Errorf("decode descriptor: %w", err)
	}
	out.Entrypoint = compact(out.Entrypoint)
	out.Ignore = compact(out.Ignore)
	return out, nil
}

func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Base) == "" {
		return fmt.Errorf("descriptor: base is required")
	}
	if len(d.Entrypoint) == 0 {
		return fmt.Errorf("descriptor: entrypoint is required")
	}
	if strings.TrimSpace(d.PortVar) == "" {
		return fmt.Errorf("descriptor: port_var must not be empty")
	}
	return nil
}

func compact(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
