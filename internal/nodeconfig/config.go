// Package nodeconfig loads the daemon configuration from a yaml file and
// environment variables.
package nodeconfig

import (
	"fmt"
	"strings"

	"github.com/fatih/structs"
	"github.com/jeremywohl/flatten"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/emberwallet/network-go/pkg/network"
)

// Config is the daemon configuration. Every field can come from
// config.yaml or from an environment variable named after the flattened
// field path (e.g. API_LISTENADDRESS).
type Config struct {
	API     APIConfig
	Log     LogConfig
	Infura  InfuraConfig
	Network NetworkConfig
	Chain   ChainConfig
}

// APIConfig configures the localhost HTTP surface.
type APIConfig struct {
	// ListenAddress is the host:port the API binds to
	ListenAddress string
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level is a logrus level name (debug, info, warn, error)
	Level string
}

// InfuraConfig carries the Infura credential.
type InfuraConfig struct {
	// ProjectID is attached to every built-in network request. Optional;
	// without it only custom RPC endpoints work.
	ProjectID string
}

// NetworkConfig selects the network the daemon starts on.
type NetworkConfig struct {
	// Default is a built-in network name, or "rpc" to start on the
	// custom endpoint below
	Default string

	// CustomRPCURL and CustomChainID describe the custom endpoint used
	// when Default is "rpc"
	CustomRPCURL  string
	CustomChainID string
}

// ChainConfig tunes the per-connection transport.
type ChainConfig struct {
	// PollIntervalSeconds is the block tracker's polling cadence
	PollIntervalSeconds int

	// RequestsPerSecond caps the dispatch rate per connection; zero
	// means unlimited
	RequestsPerSecond float64
}

// DefaultConfig returns the configuration used when no file and no
// environment overrides exist.
func DefaultConfig() Config {
	return Config{
		API:     APIConfig{ListenAddress: "127.0.0.1:8575"},
		Log:     LogConfig{Level: "info"},
		Network: NetworkConfig{Default: string(network.TypeMainnet)},
		Chain:   ChainConfig{PollIntervalSeconds: 8},
	}
}

// ParseConfig loads the configuration from a config.yaml found in one of
// the given paths, layered over defaults, with environment variables
// taking precedence. A missing file is not an error; missing keys fall
// back to defaults.
func ParseConfig(configFilePaths []string) (*Config, error) {
	v := viper.New()
	for _, p := range configFilePaths {
		v.AddConfigPath(p)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	defaults := DefaultConfig()
	if err := bindAllConfigKeys(v, defaults); err != nil {
		return nil, err
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var nfErr viper.ConfigFileNotFoundError
		if !errors.As(err, &nfErr) {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "unable to decode config into struct")
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

// Validate checks cross-field consistency the type system cannot.
func (c *Config) Validate() error {
	if c.API.ListenAddress == "" {
		return fmt.Errorf("api listen address is required")
	}

	switch network.EndpointType(c.Network.Default) {
	case network.TypeRPC:
		if err := network.ValidateRPCURL(c.Network.CustomRPCURL); err != nil {
			return err
		}
		if err := network.ValidateChainID(c.Network.CustomChainID); err != nil {
			return err
		}
	default:
		if _, ok := network.LookupBuiltin(network.EndpointType(c.Network.Default)); !ok {
			return fmt.Errorf("unknown default network %q", c.Network.Default)
		}
	}

	if c.Chain.PollIntervalSeconds <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Chain.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second must not be negative")
	}

	return nil
}

// InitialProvider translates the configured default network into the
// controller's initial provider config.
func (c *Config) InitialProvider() network.ProviderConfig {
	t := network.EndpointType(c.Network.Default)
	if t == network.TypeRPC {
		return network.ProviderConfig{
			Type:    network.TypeRPC,
			RPCURL:  c.Network.CustomRPCURL,
			ChainID: c.Network.CustomChainID,
			Ticker:  "ETH",
		}
	}
	builtin, _ := network.LookupBuiltin(t)
	return network.ProviderConfig{
		Type:    builtin.Type,
		ChainID: builtin.ChainID,
		Ticker:  builtin.Ticker,
	}
}

// bindAllConfigKeys seeds viper with the default value for every flattened
// config key and binds each key to its environment variable. The explicit
// BindEnv works around the long-standing viper issue where AutomaticEnv
// does not apply to keys absent from the config file, documented at
// https://github.com/spf13/viper/issues/761
func bindAllConfigKeys(v *viper.Viper, defaults Config) error {
	confMap := structs.Map(defaults)

	flat, err := flatten.Flatten(confMap, "", flatten.DotStyle)
	if err != nil {
		return errors.Wrap(err, "unable to flatten config")
	}

	for key, value := range flat {
		v.SetDefault(key, value)
		if err := v.BindEnv(key); err != nil {
			return errors.Wrapf(err, "unable to bind env var: %s", key)
		}
	}
	return nil
}
