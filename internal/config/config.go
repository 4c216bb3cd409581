package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Chain    ChainConfig
	Quote    QuoteConfig
	Topup    TopupConfig
	Keyvault KeyvaultConfig
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type ChainConfig struct {
	RPCURL          string `mapstructure:"rpc_url"`
	ChainID         int64  `mapstructure:"chain_id"`
	GatewayAddress  string `mapstructure:"gateway_address"`
	TokenAddress    string `mapstructure:"token_address"`
	BridgeAddress   string `mapstructure:"bridge_address"`
	OperatorAddress string `mapstructure:"operator_address"`
	OperatorPubX    string `mapstructure:"operator_pub_x"` // hex, no 0x
	OperatorPubY    string `mapstructure:"operator_pub_y"`
}

type QuoteConfig struct {
	RateNum      string `mapstructure:"rate_num"`
	RateDen      string `mapstructure:"rate_den"`
	DirectTTLSec int64  `mapstructure:"direct_ttl_sec"`
	TopupTTLSec  int64  `mapstructure:"topup_ttl_sec"`
}

type TopupConfig struct {
	ThresholdWei string `mapstructure:"threshold_wei"`
	RefillWei    string `mapstructure:"refill_wei"`
	IntervalSec  int64  `mapstructure:"interval_sec"`
}

type KeyvaultConfig struct {
	Addr string `mapstructure:"addr"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("quote.rate_num", "1")
	v.SetDefault("quote.rate_den", "1")
	v.SetDefault("quote.direct_ttl_sec", 300)
	v.SetDefault("quote.topup_ttl_sec", 300)
	v.SetDefault("topup.interval_sec", 60)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.port":            "PORT",
		"redis.addr":             "REDIS_ADDR",
		"redis.password":         "REDIS_PASSWORD",
		"chain.rpc_url":          "RPC_URL",
		"chain.chain_id":         "CHAIN_ID",
		"chain.gateway_address":  "GATEWAY_CONTRACT",
		"chain.token_address":    "ACCEPTED_TOKEN",
		"chain.bridge_address":   "BRIDGE_CONTRACT",
		"chain.operator_address": "OPERATOR_ADDRESS",
		"chain.operator_pub_x":   "OPERATOR_PUB_X",
		"chain.operator_pub_y":   "OPERATOR_PUB_Y",
		"quote.rate_num":         "QUOTE_RATE_NUM",
		"quote.rate_den":         "QUOTE_RATE_DEN",
		"quote.direct_ttl_sec":   "QUOTE_DIRECT_TTL_SEC",
		"quote.topup_ttl_sec":    "QUOTE_TOPUP_TTL_SEC",
		"topup.threshold_wei":    "TOPUP_THRESHOLD_WEI",
		"topup.refill_wei":       "TOPUP_REFILL_WEI",
		"topup.interval_sec":     "TOPUP_INTERVAL_SEC",
		"keyvault.addr":          "KEYVAULT_ADDR",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Chain.RPCURL, "RPC_URL"},
		{c.Chain.GatewayAddress, "GATEWAY_CONTRACT"},
		{c.Chain.TokenAddress, "ACCEPTED_TOKEN"},
		{c.Chain.OperatorAddress, "OPERATOR_ADDRESS"},
		{c.Chain.OperatorPubX, "OPERATOR_PUB_X"},
		{c.Chain.OperatorPubY, "OPERATOR_PUB_Y"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("required config missing: CHAIN_ID")
	}
	return nil
}
