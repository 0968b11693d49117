package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ChainConfig declares one chain to ingest. Chains are only configurable via
// the config file; operators toggle them at runtime through the chains table.
type ChainConfig struct {
	ChainID           string `mapstructure:"chain-id"`
	Name              string `mapstructure:"name"`
	Family            string `mapstructure:"family"`
	RPCURL            string `mapstructure:"rpc"`
	WSURL             string `mapstructure:"ws"`
	ConfirmationDepth uint64 `mapstructure:"confirmation-depth"`
}

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	DatabaseDSN      string
	KafkaBrokers     []string
	KafkaTopic       string
	PublishSink      string
	PublishPath      string
	MetricsAddr      string
	TrackerInterval  time.Duration
	ReorgInterval    time.Duration
	IndexerInterval  time.Duration
	BatchSize        uint64
	IndexerBatchSize int
	SeedBuffer       uint64
	MaxRetries       int
	RetryBackoff     time.Duration
	RetryMaxDelay    time.Duration
	LogLevel         string
	Chains           []ChainConfig
}

const defaultConfirmationDepth = 12

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHAINSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("kafka-topic", "chainscope.events")
	v.SetDefault("publish-sink", "kafka")
	v.SetDefault("publish-path", "./data/events.jsonl")
	v.SetDefault("metrics-addr", ":9090")
	v.SetDefault("tracker-interval", 10*time.Second)
	v.SetDefault("reorg-interval", 60*time.Second)
	v.SetDefault("indexer-interval", 5*time.Second)
	v.SetDefault("batch-size", uint64(10))
	v.SetDefault("indexer-batch-size", 500)
	v.SetDefault("seed-buffer", uint64(10))
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", time.Second)
	v.SetDefault("retry-max-delay", 10*time.Second)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var chains []ChainConfig
	if err := v.UnmarshalKey("chains", &chains); err != nil {
		return Config{}, fmt.Errorf("parse chains: %w", err)
	}
	for i := range chains {
		if chains[i].ConfirmationDepth == 0 {
			chains[i].ConfirmationDepth = defaultConfirmationDepth
		}
	}

	cfg := Config{
		DatabaseDSN:      v.GetString("db-dsn"),
		KafkaBrokers:     getStringSlice(v, "kafka-brokers"),
		KafkaTopic:       v.GetString("kafka-topic"),
		PublishSink:      v.GetString("publish-sink"),
		PublishPath:      v.GetString("publish-path"),
		MetricsAddr:      v.GetString("metrics-addr"),
		TrackerInterval:  v.GetDuration("tracker-interval"),
		ReorgInterval:    v.GetDuration("reorg-interval"),
		IndexerInterval:  v.GetDuration("indexer-interval"),
		BatchSize:        v.GetUint64("batch-size"),
		IndexerBatchSize: v.GetInt("indexer-batch-size"),
		SeedBuffer:       v.GetUint64("seed-buffer"),
		MaxRetries:       v.GetInt("max-retries"),
		RetryBackoff:     v.GetDuration("retry-backoff"),
		RetryMaxDelay:    v.GetDuration("retry-max-delay"),
		LogLevel:         v.GetString("log-level"),
		Chains:           chains,
	}

	return cfg, nil
}

// Validate rejects configurations the process cannot start with.
func (c Config) Validate() error {
	if c.DatabaseDSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}
	for _, chain := range c.Chains {
		if chain.ChainID == "" || chain.RPCURL == "" {
			return fmt.Errorf("chain %q: chain-id and rpc are required", chain.Name)
		}
		switch chain.Family {
		case "evm", "solana":
		default:
			return fmt.Errorf("chain %q: unsupported family %q", chain.ChainID, chain.Family)
		}
	}
	switch c.PublishSink {
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("kafka-brokers is required when publish-sink is kafka")
		}
	case "jsonl", "none":
	default:
		return fmt.Errorf("unsupported publish-sink %q", c.PublishSink)
	}
	return nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
