package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// a type with service configuration parameters
type ServiceConfig struct {
	// descriptive name for this service instance (shows up in transfer labels)
	Name string `yaml:"name"`
	// port on which the service listens
	Port int `yaml:"port"`
	// maximum number of allowed incoming connections
	MaxConnections int `yaml:"max_connections"`
	// directory in which the service stores its records
	DataDirectory string `yaml:"data_directory"`
	// interval at which non-terminal transfers are reconciled (milliseconds)
	PollInterval int `yaml:"poll_interval"`
	// period after which completed transfer records are purged (seconds)
	DeleteAfter int `yaml:"delete_after"`
}

// manifest validation parameters
type ManifestConfig struct {
	// URL schemes accepted in manifest entries
	Protocols []string `yaml:"protocols"`
	// URL schemes that can be staged on the transfer network
	StagingProtocols []string `yaml:"staging_protocols"`
	// maximum directory depth for live manifest verification
	MaxVerifyDepth int `yaml:"max_verify_depth"`
	// maximum number of files a verification walk may discover
	MaxVerifyFiles int `yaml:"max_verify_files"`
}

// The full service configuration. A Config is assembled once by Load and
// passed (by value) to the constructors that need it--nothing in this
// package is mutable global state.
type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	Auth        AuthConfig        `yaml:"auth"`
	Globus      GlobusConfig      `yaml:"globus"`
	Manifests   ManifestConfig    `yaml:"manifests"`
	Identifiers IdentifiersConfig `yaml:"identifiers"`
	Store       StoreConfig       `yaml:"store"`
}

// applies default values for fields omitted from the YAML input
func (conf *Config) applyDefaults() {
	if conf.Service.Name == "" {
		conf.Service.Name = "Concierge Service"
	}
	if conf.Service.Port == 0 {
		conf.Service.Port = 8080
	}
	if conf.Service.MaxConnections == 0 {
		conf.Service.MaxConnections = 100
	}
	if conf.Service.PollInterval == 0 {
		conf.Service.PollInterval = 60000
	}
	if conf.Service.DeleteAfter == 0 {
		conf.Service.DeleteAfter = 7 * 24 * 3600
	}
	if conf.Auth.URL == "" {
		conf.Auth.URL = "https://auth.globus.org"
	}
	if conf.Auth.IntrospectionWindow == 0 {
		conf.Auth.IntrospectionWindow = 60
	}
	if conf.Globus.TransferURL == "" {
		conf.Globus.TransferURL = "https://transfer.api.globusonline.org"
	}
	if conf.Globus.SyncLevel == "" {
		conf.Globus.SyncLevel = "checksum"
	}
	if len(conf.Manifests.Protocols) == 0 {
		conf.Manifests.Protocols = []string{"globus", "http", "https", "ftp"}
	}
	if len(conf.Manifests.StagingProtocols) == 0 {
		conf.Manifests.StagingProtocols = []string{"globus"}
	}
	if conf.Manifests.MaxVerifyDepth == 0 {
		conf.Manifests.MaxVerifyDepth = 10
	}
	if conf.Manifests.MaxVerifyFiles == 0 {
		conf.Manifests.MaxVerifyFiles = 10000
	}
}

// this helper validates the given service parameters, returning an
// error indicating success or failure
func validateServiceParameters(params ServiceConfig) error {
	if params.Port < 0 || params.Port > 65535 {
		return fmt.Errorf("Invalid port: %d (must be 0-65535)", params.Port)
	}
	if params.MaxConnections <= 0 {
		return fmt.Errorf("Invalid max_connections: %d (must be positive)",
			params.MaxConnections)
	}
	if params.DataDirectory == "" {
		return fmt.Errorf("No data_directory was provided!")
	}
	if params.PollInterval < 0 {
		return fmt.Errorf("Invalid poll_interval: %d (must be non-negative)",
			params.PollInterval)
	}
	return nil
}

// this helper validates the assembled configuration, returning an error that
// indicates success or failure
func (conf Config) validate() error {
	err := validateServiceParameters(conf.Service)
	if err != nil {
		return err
	}
	if err = conf.Auth.validate(); err != nil {
		return err
	}
	if conf.Manifests.MaxVerifyDepth <= 0 {
		return fmt.Errorf("Invalid max_verify_depth: %d (must be positive)",
			conf.Manifests.MaxVerifyDepth)
	}
	if conf.Manifests.MaxVerifyFiles <= 0 {
		return fmt.Errorf("Invalid max_verify_files: %d (must be positive)",
			conf.Manifests.MaxVerifyFiles)
	}
	return nil
}

// returns the introspection window as a duration
func (a AuthConfig) Window() time.Duration {
	return time.Duration(a.IntrospectionWindow) * time.Second
}

// Loads a service configuration from the given YAML byte data, expanding all
// environment variables of the form ${ENV_VAR}, and validates it.
func Load(yamlData []byte) (Config, error) {
	// before we do anything else, expand any provided environment variables
	yamlData = []byte(os.ExpandEnv(string(yamlData)))

	var conf Config
	err := yaml.Unmarshal(yamlData, &conf)
	if err != nil {
		return Config{}, fmt.Errorf("Couldn't parse configuration data: %s", err.Error())
	}
	conf.applyDefaults()

	err = conf.validate()
	if err != nil {
		return Config{}, err
	}
	return conf, nil
}
