package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Quotes    QuotesConfig
	Trading   TradingConfig
	News      NewsConfig
	Enrich    EnrichConfig
	LLM       LLMConfig
	Risk      RiskConfig
	Scheduler SchedulerConfig
	API       APIConfig
	Telegram  TelegramConfig
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name      string
	LogLevel  string
	LogFormat string // "json" or "console"
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	URL      string
	PoolSize int
}

// QuotesConfig contains quote-feed and ticker-group settings.
type QuotesConfig struct {
	TickersFast         []string // 5m-strategy instruments
	TickersMedium       []string // daily trading-cycle set
	TickersLong         []string // indexes, FX, macro context
	TradingCycleTickers []string
	ProviderTimeout     time.Duration
	ChartBaseURL        string
	RSIBaseURL          string
	RSIAPIKey           string
}

// NewsConfig contains ingestion feed settings.
type NewsConfig struct {
	AggregatorURL        string
	AggregatorAPIKey     string
	AggregatorDailyQuota int
	EarningsEndpoint     string
	EarningsAPIKey       string
	SentimentFeedURL     string
	SentimentFeedAPIKey  string
	Workers              int
	FetchTimeout         time.Duration
}

// TradingConfig contains paper-trading settings.
type TradingConfig struct {
	InitialCashUSD         float64
	CommissionRate         float64
	StopLossLevel          float64 // e.g. 0.95 = sell at -5%
	SandboxSlippageSellPct float64
}

// EnrichConfig contains enrichment pipeline settings.
type EnrichConfig struct {
	UseLLM                 bool
	SentimentAutoCalculate bool
	LLMNewsCooldownHours   int
	UseOpenAIEmbeddings    bool
	UseGeminiEmbeddings    bool
	OpenAIAPIKey           string
	GeminiAPIKey           string
	LocalEmbeddingURL      string
	OutcomeDaysAfter       int
}

// LLMConfig contains LLM gateway settings.
type LLMConfig struct {
	BaseURL       string
	Model         string
	APIKey        string
	Temperature   float64
	MaxTokens     int
	Timeout       time.Duration
	CompareModels string // comma list of provider|model
}

// RiskConfig points at the risk-limits file.
type RiskConfig struct {
	LimitsPath string
}

// SchedulerConfig contains scheduler tunables.
type SchedulerConfig struct {
	Game5mCooldownMinutes int
	PremarketAlert        bool
}

// APIConfig contains HTTP facade settings.
type APIConfig struct {
	Host string
	Port int
}

// TelegramConfig contains alert-bot settings.
type TelegramConfig struct {
	Token  string
	ChatID int64
}

// Load reads the layered configuration: the fallback file first, then the
// project-local file merged over it, then LSE_* environment variables on top.
// Either path may be empty or missing; defaults fill the rest.
func Load(localPath, fallbackPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("env")

	v.AutomaticEnv()
	v.SetEnvPrefix("LSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if fallbackPath != "" {
		v.SetConfigFile(fallbackPath)
		if err := v.ReadInConfig(); err != nil && !isMissingFile(err) {
			return nil, fmt.Errorf("failed to read fallback config: %w", err)
		}
	}
	if localPath != "" {
		v.SetConfigFile(localPath)
		if err := v.MergeInConfig(); err != nil && !isMissingFile(err) {
			return nil, fmt.Errorf("failed to read local config: %w", err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// fromViper maps the flat key/value file onto the nested Config. The
// config.env format carries flat keys (database_url, llm_model, ...) so each
// is bound to its structured home explicitly.
func fromViper(v *viper.Viper) *Config {
	return &Config{
		App: AppConfig{
			Name:      v.GetString("app_name"),
			LogLevel:  v.GetString("log_level"),
			LogFormat: v.GetString("log_format"),
		},
		Database: DatabaseConfig{
			URL:      v.GetString("database_url"),
			PoolSize: v.GetInt("database_pool_size"),
		},
		Quotes: QuotesConfig{
			TickersFast:         splitList(v.GetString("tickers_fast")),
			TickersMedium:       splitList(v.GetString("tickers_medium")),
			TickersLong:         splitList(v.GetString("tickers_long")),
			TradingCycleTickers: splitList(v.GetString("trading_cycle_tickers")),
			ProviderTimeout:     time.Duration(v.GetInt("quote_provider_timeout_sec")) * time.Second,
			ChartBaseURL:        v.GetString("quote_chart_base_url"),
			RSIBaseURL:          v.GetString("quote_rsi_base_url"),
			RSIAPIKey:           v.GetString("quote_rsi_api_key"),
		},
		News: NewsConfig{
			AggregatorURL:        v.GetString("news_aggregator_url"),
			AggregatorAPIKey:     v.GetString("news_aggregator_api_key"),
			AggregatorDailyQuota: v.GetInt("news_aggregator_daily_quota"),
			EarningsEndpoint:     v.GetString("earnings_endpoint"),
			EarningsAPIKey:       v.GetString("earnings_api_key"),
			SentimentFeedURL:     v.GetString("sentiment_feed_url"),
			SentimentFeedAPIKey:  v.GetString("sentiment_feed_api_key"),
			Workers:              v.GetInt("news_workers"),
			FetchTimeout:         time.Duration(v.GetInt("news_fetch_timeout_sec")) * time.Second,
		},
		Trading: TradingConfig{
			InitialCashUSD:         v.GetFloat64("initial_cash_usd"),
			CommissionRate:         v.GetFloat64("commission_rate"),
			StopLossLevel:          v.GetFloat64("stop_loss_level"),
			SandboxSlippageSellPct: v.GetFloat64("sandbox_slippage_sell_pct"),
		},
		Enrich: EnrichConfig{
			UseLLM:                 v.GetBool("use_llm"),
			SentimentAutoCalculate: v.GetBool("sentiment_auto_calculate"),
			LLMNewsCooldownHours:   v.GetInt("llm_news_cooldown_hours"),
			UseOpenAIEmbeddings:    v.GetBool("use_openai_embeddings"),
			UseGeminiEmbeddings:    v.GetBool("use_gemini_embeddings"),
			OpenAIAPIKey:           v.GetString("openai_api_key"),
			GeminiAPIKey:           v.GetString("gemini_api_key"),
			LocalEmbeddingURL:      v.GetString("local_embedding_url"),
			OutcomeDaysAfter:       v.GetInt("outcome_days_after"),
		},
		LLM: LLMConfig{
			BaseURL:       v.GetString("llm_base_url"),
			Model:         v.GetString("llm_model"),
			APIKey:        v.GetString("llm_api_key"),
			Temperature:   v.GetFloat64("llm_temperature"),
			MaxTokens:     v.GetInt("llm_max_tokens"),
			Timeout:       time.Duration(v.GetInt("llm_timeout")) * time.Second,
			CompareModels: v.GetString("llm_compare_models"),
		},
		Risk: RiskConfig{
			LimitsPath: v.GetString("risk_limits_path"),
		},
		Scheduler: SchedulerConfig{
			Game5mCooldownMinutes: v.GetInt("game_5m_cooldown_minutes"),
			PremarketAlert:        v.GetBool("premarket_alert"),
		},
		API: APIConfig{
			Host: v.GetString("api_host"),
			Port: v.GetInt("api_port"),
		},
		Telegram: TelegramConfig{
			Token:  v.GetString("telegram_bot_token"),
			ChatID: v.GetInt64("telegram_chat_id"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "lse-trader")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	v.SetDefault("database_pool_size", 8)

	v.SetDefault("quote_provider_timeout_sec", 30)
	v.SetDefault("quote_chart_base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("quote_rsi_base_url", "https://www.alphavantage.co")

	v.SetDefault("news_aggregator_url", "https://newsapi.org")
	v.SetDefault("news_aggregator_daily_quota", 90)
	v.SetDefault("earnings_endpoint", "https://www.alphavantage.co/query")
	v.SetDefault("sentiment_feed_url", "https://www.alphavantage.co/query")
	v.SetDefault("news_workers", 4)
	v.SetDefault("news_fetch_timeout_sec", 120)

	v.SetDefault("initial_cash_usd", 100000.0)
	v.SetDefault("commission_rate", 0.001)
	v.SetDefault("stop_loss_level", 0.95)
	v.SetDefault("sandbox_slippage_sell_pct", 0.0)

	v.SetDefault("use_llm", false)
	v.SetDefault("sentiment_auto_calculate", true)
	v.SetDefault("llm_news_cooldown_hours", 12)
	v.SetDefault("outcome_days_after", 7)

	v.SetDefault("llm_base_url", "https://api.openai.com/v1")
	v.SetDefault("llm_model", "gpt-4o")
	v.SetDefault("llm_temperature", 0.3)
	v.SetDefault("llm_max_tokens", 2000)
	v.SetDefault("llm_timeout", 60)

	v.SetDefault("risk_limits_path", "local/risk_limits.json")

	v.SetDefault("game_5m_cooldown_minutes", 30)
	v.SetDefault("premarket_alert", true)

	v.SetDefault("api_host", "0.0.0.0")
	v.SetDefault("api_port", 8080)
}

// Validate checks configuration invariants that would make startup unsafe.
// A missing database URL is a fatal configuration error (exit code 3).
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database_url is required")
	}
	if c.Trading.CommissionRate < 0 || c.Trading.CommissionRate > 0.1 {
		return fmt.Errorf("commission_rate %.4f out of range [0, 0.1]", c.Trading.CommissionRate)
	}
	if c.Trading.StopLossLevel <= 0 || c.Trading.StopLossLevel >= 1 {
		return fmt.Errorf("stop_loss_level %.2f must be in (0, 1)", c.Trading.StopLossLevel)
	}
	if c.Enrich.UseLLM && c.LLM.APIKey == "" {
		return fmt.Errorf("use_llm is set but llm_api_key is empty")
	}
	return nil
}

// CompareModelList parses llm_compare_models ("provider|model,provider|model").
func (c *LLMConfig) CompareModelList() [][2]string {
	var out [][2]string
	for _, part := range splitList(c.CompareModels) {
		fields := strings.SplitN(part, "|", 2)
		if len(fields) == 2 && fields[0] != "" && fields[1] != "" {
			out = append(out, [2]string{fields[0], fields[1]})
		}
	}
	return out
}

// Addr returns the API listen address.
func (c *APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func isMissingFile(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return strings.Contains(err.Error(), "no such file")
}
