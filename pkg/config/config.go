// Package config loads node configuration from a YAML file and the
// environment via viper, producing the Config structs every other
// package's New/DefaultConfig already expects (§6).
package config

import (
	"fmt"
	"time"

	"github.com/gochain/gochain/pkg/chain"
	"github.com/gochain/gochain/pkg/logger"
	"github.com/gochain/gochain/pkg/mempool"
	"github.com/gochain/gochain/pkg/miner"
	"github.com/gochain/gochain/pkg/p2p"
	"github.com/gochain/gochain/pkg/storage"
	"github.com/spf13/viper"
)

// Config aggregates every subsystem's tuning knobs into the shape a
// running node needs, consolidating the teacher's separate
// DefaultXConfig() calls behind one viper-backed load.
type Config struct {
	Chain   *chain.Config
	Mempool *mempool.Config
	Miner   *miner.Config
	P2P     *p2p.Config
	Storage *storage.Config
	Logging *logger.Config

	ListenAddr string
	DataDir    string
	WalletFile string
}

// Default returns a Config built entirely from the subsystem defaults,
// suitable when no config file or environment overrides are present.
func Default() *Config {
	return &Config{
		Chain:      chain.DefaultConfig(),
		Mempool:    mempool.DefaultConfig(),
		Miner:      miner.DefaultConfig(),
		P2P:        p2p.DefaultConfig(),
		Storage:    storage.DefaultConfig(),
		Logging:    logger.DefaultConfig(),
		ListenAddr: ":4001",
		DataDir:    "./data",
		WalletFile: "./wallet.dat",
	}
}

// Load reads configFile (if non-empty) via viper, falling back to
// ./config.yaml or ./config/config.yaml, layers in GOCHAIN_*
// environment overrides, and returns the merged Config. A missing
// config file is not an error — Default()'s values are used instead.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("gochain")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config: %w", err)
		}
	}

	cfg := Default()

	if v.IsSet("chain.chain_id") {
		cfg.Chain.ChainID = uint32(v.GetUint32("chain.chain_id"))
	}
	if v.IsSet("chain.max_block_size") {
		cfg.Chain.MaxBlockSize = v.GetUint64("chain.max_block_size")
	}

	if v.IsSet("mempool.max_size") {
		cfg.Mempool.MaxSize = v.GetUint64("mempool.max_size")
	}
	if v.IsSet("mempool.min_fee_rate") {
		cfg.Mempool.MinFeeRate = v.GetUint64("mempool.min_fee_rate")
	}
	if v.IsSet("mempool.max_tx_size") {
		cfg.Mempool.MaxTxSize = v.GetUint64("mempool.max_tx_size")
	}
	if v.IsSet("mempool.expiry") {
		cfg.Mempool.Expiry = mempoolExpiryOrDefault(v.GetDuration("mempool.expiry"))
	}

	if v.IsSet("miner.coinbase_address") {
		cfg.Miner.CoinbaseAddress = v.GetString("miner.coinbase_address")
	}
	if v.IsSet("miner.max_block_size") {
		cfg.Miner.MaxBlockSize = v.GetUint64("miner.max_block_size")
	}

	if v.IsSet("p2p.protocol_version") {
		cfg.P2P.ProtocolVersion = uint32(v.GetUint32("p2p.protocol_version"))
	}
	if v.IsSet("p2p.user_agent") {
		cfg.P2P.UserAgent = v.GetString("p2p.user_agent")
	}
	if v.IsSet("p2p.max_peers") {
		cfg.P2P.MaxPeers = v.GetInt("p2p.max_peers")
	}
	if v.IsSet("p2p.max_inbound_per_ip") {
		cfg.P2P.MaxInboundPerIP = v.GetInt("p2p.max_inbound_per_ip")
	}
	if v.IsSet("p2p.ban_duration") {
		cfg.P2P.BanDuration = v.GetDuration("p2p.ban_duration")
	}
	if v.IsSet("p2p.request_timeout") {
		cfg.P2P.RequestTimeout = v.GetDuration("p2p.request_timeout")
	}
	if v.IsSet("p2p.listen_addr") {
		cfg.ListenAddr = v.GetString("p2p.listen_addr")
	}

	if v.IsSet("storage.data_dir") {
		cfg.Storage.DataDir = v.GetString("storage.data_dir")
		cfg.DataDir = cfg.Storage.DataDir
	}

	if levelStr := v.GetString("logging.level"); levelStr != "" {
		cfg.Logging.Level = parseLevel(levelStr)
	}
	if v.IsSet("logging.json") {
		cfg.Logging.UseJSON = v.GetBool("logging.json")
	}
	if logFile := v.GetString("logging.log_file"); logFile != "" {
		cfg.Logging.LogFile = logFile
	}
	if v.IsSet("logging.max_size") {
		cfg.Logging.MaxSize = v.GetInt64("logging.max_size")
	}
	if v.IsSet("logging.max_backups") {
		cfg.Logging.MaxBackups = v.GetInt("logging.max_backups")
	}

	if walletFile := v.GetString("wallet.file"); walletFile != "" {
		cfg.WalletFile = walletFile
	}

	return cfg, nil
}

func parseLevel(s string) logger.Level {
	switch s {
	case "debug", "DEBUG":
		return logger.DEBUG
	case "warn", "WARN":
		return logger.WARN
	case "error", "ERROR":
		return logger.ERROR
	case "fatal", "FATAL":
		return logger.FATAL
	default:
		return logger.INFO
	}
}

// mempoolExpiryOrDefault guards against a zero Expiry slipping through
// from a config file that sets mempool.expiry to an unparsable string;
// viper silently returns 0 rather than erroring.
func mempoolExpiryOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return mempool.DefaultConfig().Expiry
	}
	return d
}
