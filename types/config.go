package types

// Config is the oracle's runtime configuration, loaded from a YAML file with
// environment variable overrides.
type Config struct {
	Chain   ChainConfig `yaml:"chain"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" envconfig:"METRICS_ENABLED"`
		Address string `yaml:"address" envconfig:"METRICS_ADDRESS"`
	} `yaml:"metrics"`
	ConsensusClientEndpoint string `yaml:"consensusClientEndpoint" envconfig:"CONSENSUS_CLIENT_ENDPOINT"`
	KeysAPIEndpoint         string `yaml:"keysApiEndpoint" envconfig:"KEYS_API_ENDPOINT"`
	ExecutionClientEndpoint string `yaml:"executionClientEndpoint" envconfig:"EXECUTION_CLIENT_ENDPOINT"`
	LocatorAddress          string `yaml:"locatorAddress" envconfig:"LOCATOR_ADDRESS"`
}
