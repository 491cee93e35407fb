package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"
	"strings"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".deet"
	configFile string = "config.yml"

	// DefaultMaxBacktraceDepth bounds the frame-pointer walk when the
	// configuration does not set max-backtrace-depth.
	DefaultMaxBacktraceDepth = 1024
)

// SubstitutePathRule describes a rule for substitution of path to source code file.
type SubstitutePathRule struct {
	// Directory path will be substituted if it matches `From`.
	From string
	// Path to which substitution is performed.
	To string
}

// SubstitutePathRules is a slice of source code path substitution rules.
type SubstitutePathRules []SubstitutePathRule

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`
	// Source code path substitution rules.
	SubstitutePath SubstitutePathRules `yaml:"substitute-path"`

	// MaxBacktraceDepth is the maximum number of frames the backtrace
	// command will walk before giving up on a frame chain that never
	// reaches main.
	MaxBacktraceDepth *int `yaml:"max-backtrace-depth,omitempty"`

	// DisableASLR controls whether targets are launched with address space
	// randomization turned off, so that raw breakpoint addresses stay valid
	// across runs. Defaults to true.
	DisableASLR *bool `yaml:"disable-aslr,omitempty"`
}

// BacktraceDepth returns the configured backtrace depth or the default.
func (c *Config) BacktraceDepth() int {
	if c == nil || c.MaxBacktraceDepth == nil || *c.MaxBacktraceDepth <= 0 {
		return DefaultMaxBacktraceDepth
	}
	return *c.MaxBacktraceDepth
}

// ASLRDisabled reports whether targets should be launched without ASLR.
func (c *Config) ASLRDisabled() bool {
	if c == nil || c.DisableASLR == nil {
		return true
	}
	return *c.DisableASLR
}

// Substitute applies the first matching substitute-path rule to p.
//
// Only whole directories are substituted: the rule {From: "/dir/sub", To: "/new"}
// rewrites "/dir/sub/file.c" to "/new/file.c" but leaves "/dir/sub-2/file.c" alone.
func (c *Config) Substitute(p string) string {
	if c == nil {
		return p
	}
	for _, r := range c.SubstitutePath {
		from, to := r.From, r.To
		if !strings.HasSuffix(from, "/") {
			from += "/"
		}
		if !strings.HasSuffix(to, "/") {
			to += "/"
		}
		if strings.HasPrefix(p, from) {
			return to + p[len(from):]
		}
	}
	return p
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() (*Config, error) {
	err := createConfigPath()
	if err != nil {
		return &Config{}, fmt.Errorf("could not create config directory: %v", err)
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to get config file path: %v", err)
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			return &Config{}, fmt.Errorf("error creating default config file: %v", err)
		}
	}
	defer f.Close()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to read config data: %v", err)
	}
	return Parse(data)
}

// Parse decodes a configuration file.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return &Config{}, fmt.Errorf("unable to decode config file: %v", err)
	}
	return &c, nil
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	return f, nil
}

const defaultConfig = `# Configuration file for the deet debugger.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Define sources path substitution rules. Can be used to rewrite a source path stored
# in program's debug information, if the sources were moved to a different place
# between compilation and debugging.
substitute-path:
  # - {from: path, to: path}

# Maximum number of frames walked by the backtrace command.
# max-backtrace-depth: 1024

# Launch targets with address space randomization enabled.
# disable-aslr: false
`

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(defaultConfig)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if home := os.Getenv("DEET_CONFIG_HOME"); home != "" {
		return path.Join(home, file), nil
	}
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
