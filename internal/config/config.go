package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL            string
	ChainID           uint64
	FactoryAddress    string
	RouterAddress     string
	WrappedNative     string
	NativeSymbol      string
	BaseTokenAddress  string
	SeedTokens        []string
	SlippageBps       int
	DeadlineMinutes   int
	MaxPools          int
	FallbackUnitPrice float64
	QuoteDebounce     time.Duration
	PriceRefresh      time.Duration
	PGDSN             string
	ListenAddr        string
	AppID             string
	VerifierURL       string
	LogLevel          string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ORBID")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("chain-id", uint64(480))
	v.SetDefault("native-symbol", "ETH")
	v.SetDefault("slippage-bps", 50)
	v.SetDefault("deadline-minutes", 20)
	v.SetDefault("max-pools", 50)
	v.SetDefault("fallback-unit-price", 1.5)
	v.SetDefault("quote-debounce", 500*time.Millisecond)
	v.SetDefault("price-refresh", time.Minute)
	v.SetDefault("listen", ":8080")
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

	cfg := Config{
		RPCURL:            v.GetString("rpc"),
		ChainID:           v.GetUint64("chain-id"),
		FactoryAddress:    v.GetString("factory"),
		RouterAddress:     v.GetString("router"),
		WrappedNative:     v.GetString("weth"),
		NativeSymbol:      v.GetString("native-symbol"),
		BaseTokenAddress:  v.GetString("base-token"),
		SeedTokens:        getStringSlice(v, "seed-tokens"),
		SlippageBps:       v.GetInt("slippage-bps"),
		DeadlineMinutes:   v.GetInt("deadline-minutes"),
		MaxPools:          v.GetInt("max-pools"),
		FallbackUnitPrice: v.GetFloat64("fallback-unit-price"),
		QuoteDebounce:     v.GetDuration("quote-debounce"),
		PriceRefresh:      v.GetDuration("price-refresh"),
		PGDSN:             v.GetString("pg-dsn"),
		ListenAddr:        v.GetString("listen"),
		AppID:             v.GetString("app-id"),
		VerifierURL:       v.GetString("verifier-url"),
		LogLevel:          v.GetString("log-level"),
	}

	if cfg.SlippageBps < 0 || cfg.SlippageBps > 10000 {
		return Config{}, fmt.Errorf("slippage-bps must be in 0..10000, got %d", cfg.SlippageBps)
	}
	if cfg.DeadlineMinutes <= 0 {
		return Config{}, fmt.Errorf("deadline-minutes must be positive, got %d", cfg.DeadlineMinutes)
	}

	return cfg, nil
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
