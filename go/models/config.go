package models

import (
	"os"

	"github.com/pkg/errors"
	"github.com/shibukawa/configdir"
	"gopkg.in/yaml.v3"
)

const ConfigName = "shemufuzz.yaml"

// Layout holds the synthetic address space constants. The defaults mirror a
// typical flat process layout and carry no deeper meaning.
type Layout struct {
	ShellcodeBase   uint64 `yaml:"shellcode_base"`
	StackBase       uint64 `yaml:"stack_base"`
	StackSize       uint64 `yaml:"stack_size"`
	StackOffset     uint64 `yaml:"stack_offset"`
	ScratchPad      uint64 `yaml:"scratch_pad"`
	TibBase         uint64 `yaml:"tib_base"`
	MaxInstructions uint64 `yaml:"max_instructions"`
}

var DefaultLayout = Layout{
	ShellcodeBase:   0x200000,
	StackBase:       0x100000,
	StackSize:       0x2000,
	StackOffset:     0x1000,
	ScratchPad:      0x2000,
	TibBase:         0x7FFF0000,
	MaxInstructions: 4096,
}

type Config struct {
	Arch   Arch       `yaml:"arch"`
	Access AccessMode `yaml:"access"`
	Layout Layout     `yaml:"layout"`

	// Trace enables the engine log sink.
	Trace   bool   `yaml:"trace"`
	Verbose bool   `yaml:"verbose"`
	Color   bool   `yaml:"color"`
	Output  string `yaml:"output"`

	// MaxInput bounds the reusable persistent-mode input buffer.
	MaxInput uint64 `yaml:"max_input"`
}

func DefaultConfig() *Config {
	return &Config{
		Arch:     ArchX64,
		Access:   AccessCallback,
		Layout:   DefaultLayout,
		MaxInput: 1 << 20,
	}
}

// Options returns the engine option bits implied by the configuration.
func (c *Config) Options() Options {
	opts := DefaultOptions
	if !c.Trace {
		opts &^= OptTraceEmulation
	}
	if c.Access == AccessDirect {
		opts |= OptDirectMappedShell
	}
	return opts
}

// ParseConfig overlays yaml data onto the defaults.
func ParseConfig(data []byte) (*Config, error) {
	c := DefaultConfig()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	return c, nil
}

// LoadConfig reads path, or the first shemufuzz.yaml in the user/system
// config directories when path is empty. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	var data []byte
	var err error
	if path != "" {
		if data, err = os.ReadFile(path); err != nil {
			return nil, errors.Wrapf(err, "failed to read config %s", path)
		}
	} else {
		dirs := configdir.New("lunixbochs", "shemufuzz")
		folder := dirs.QueryFolderContainsFile(ConfigName)
		if folder == nil {
			return DefaultConfig(), nil
		}
		if data, err = folder.ReadFile(ConfigName); err != nil {
			return nil, errors.Wrapf(err, "failed to read config in %s", folder.Path)
		}
	}
	return ParseConfig(data)
}
