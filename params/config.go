package params

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type API struct {
	ListenAddr     string
	AllowedOrigins []string
}

type Exchange struct {
	// Markets is the list of pairs registered at startup, "BASE-QUOTE".
	Markets []string
	// StartingBalances is credited to every account on registration.
	StartingBalances map[string]decimal.Decimal
	// AllowSelfTrade permits an owner's orders to match each other.
	AllowSelfTrade bool
}

type Log struct {
	// File path for the JSON log sink; empty logs to stdout only.
	File string
}

type Config struct {
	API      API
	Exchange Exchange
	Log      Log
}

func Default() Config {
	return Config{
		API: API{
			ListenAddr:     ":8080",
			AllowedOrigins: []string{"*"},
		},
		Exchange: Exchange{
			Markets: []string{
				"BTC-USDT", "ETH-USDT", "SOL-USDT", "BNB-USDT",
				"ADA-USDT", "XRP-USDT", "DOGE-USDT", "DOT-USDT",
			},
			StartingBalances: map[string]decimal.Decimal{
				"BTC":  decimal.NewFromInt(10),
				"ETH":  decimal.NewFromInt(50),
				"USDT": decimal.NewFromInt(100000),
				"SOL":  decimal.NewFromInt(500),
				"BNB":  decimal.NewFromInt(100),
				"ADA":  decimal.NewFromInt(10000),
				"XRP":  decimal.NewFromInt(50000),
				"DOGE": decimal.NewFromInt(100000),
				"DOT":  decimal.NewFromInt(1000),
			},
			AllowSelfTrade: false,
		},
		Log: Log{File: ""},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if addr := os.Getenv("API_LISTEN_ADDR"); addr != "" {
		cfg.API.ListenAddr = addr
	}
	if origins := os.Getenv("API_ALLOWED_ORIGINS"); origins != "" {
		cfg.API.AllowedOrigins = splitList(origins)
	}
	if file := os.Getenv("LOG_FILE"); file != "" {
		cfg.Log.File = file
	}

	if markets := os.Getenv("EXCHANGE_MARKETS"); markets != "" {
		cfg.Exchange.Markets = splitList(markets)
	}
	if selfTrade := os.Getenv("EXCHANGE_ALLOW_SELF_TRADE"); selfTrade != "" {
		cfg.Exchange.AllowSelfTrade = selfTrade == "true"
	}

	// Example: "BTC:10,USDT:100000". A parse failure on one entry skips
	// that entry; the default allocation for other assets is replaced
	// wholesale when the variable is set.
	if balances := os.Getenv("EXCHANGE_STARTING_BALANCES"); balances != "" {
		parsed := make(map[string]decimal.Decimal)
		for _, entry := range splitList(balances) {
			asset, amount, ok := strings.Cut(entry, ":")
			if !ok {
				continue
			}
			d, err := decimal.NewFromString(strings.TrimSpace(amount))
			if err != nil || d.IsNegative() {
				continue
			}
			parsed[strings.ToUpper(strings.TrimSpace(asset))] = d
		}
		if len(parsed) > 0 {
			cfg.Exchange.StartingBalances = parsed
		}
	}

	return cfg
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
