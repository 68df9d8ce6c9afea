package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the scalper.
type Config struct {
	// Instrument
	Symbol        string // public ticker symbol, e.g. BTC_KRW
	Market        string // v1 order market code, e.g. KRW-BTC
	BaseCurrency  string
	QuoteCurrency string
	FeeRate       float64

	// Loop
	PollInterval      time.Duration
	CallTimeout       time.Duration
	RunHours          float64
	SummaryEveryTicks int
	// MarketDataAlertAfter consecutive price failures before alerting.
	MarketDataAlertAfter int

	// Indicators / strategy
	CandleWindow       int
	EMAFast            int
	EMASlow            int
	RSIPeriod          int
	Strategy           string
	StrategyConfigPath string

	// Exits
	TakeProfitPct   float64
	StopLossPct     float64
	TrailingStopPct float64
	PartialExitPct  float64

	// Sizing
	MaxPositionPct  float64
	MinOrderValue   float64
	MaxOrderValue   float64
	RiskPerTradePct float64

	// Scale-in
	ScaleInEnabled     bool
	ScaleInThreshold   float64
	ScaleInMinStrength int

	// Session risk
	DailyTargetPct       float64
	DailyStopLossPct     float64
	MaxConsecutiveLosses int
	CooldownAfterLoss    time.Duration
	HaltOnDailyLimit     bool
	MaxOpenPositions     int
	LoadPreexisting      bool
	KillSwitchFile       string
	// ReconcileInterval between inventory checks against the venue; 0 disables them.
	ReconcileInterval time.Duration

	// Venue
	LiveMode             bool
	LiveTradingEnabled   bool
	BithumbAPIKey        string
	BithumbAPISecret     string
	BithumbBaseURL       string
	UseMockFeed          bool
	PaperStartingBalance float64

	// Persistence
	StateFile    string
	DBPath       string
	AuditLogPath string

	// Notifications
	TelegramBotToken   string
	TelegramChatID     string
	NotifyWALPath      string
	NotifyQueueSize    int
	NotifyMaxAttempts  int
	NotifyDedupeWindow time.Duration

	// Status API
	EnableAPI    bool
	APIAddr      string
	APIRateLimit float64
	APIBurst     int
	CORSOrigins  []string

	// Logging
	LogLevel  string
	LogPretty bool
}

// ConfigurationError is fatal at startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

// Load reads environment variables (optionally via .env) into Config and validates it.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	runHours := getEnvFloat("RUN_HOURS", 0)
	if runHours == 0 {
		runHours = getEnvFloat("DRY_RUN_HOURS", 24)
	}

	cfg := &Config{
		Symbol:               strings.ToUpper(getEnv("SYMBOL", "BTC_KRW")),
		Market:               strings.ToUpper(getEnv("MARKET", "KRW-BTC")),
		BaseCurrency:         strings.ToUpper(getEnv("BASE_CURRENCY", "BTC")),
		QuoteCurrency:        strings.ToUpper(getEnv("QUOTE_CURRENCY", "KRW")),
		FeeRate:              getEnvFloat("FEE_RATE", 0.0004),
		PollInterval:         getEnvDuration("POLL_INTERVAL", 10*time.Second),
		CallTimeout:          getEnvDuration("CALL_TIMEOUT", 10*time.Second),
		RunHours:             runHours,
		SummaryEveryTicks:    getEnvInt("SUMMARY_EVERY_TICKS", 360),
		MarketDataAlertAfter: getEnvInt("MARKET_DATA_ALERT_AFTER", 3),
		CandleWindow:         getEnvInt("CANDLE_WINDOW", 60),
		EMAFast:              getEnvInt("EMA_FAST", 5),
		EMASlow:              getEnvInt("EMA_SLOW", 20),
		RSIPeriod:            getEnvInt("RSI_PERIOD", 14),
		Strategy:             strings.ToLower(getEnv("STRATEGY", "momentum")),
		StrategyConfigPath:   getEnv("STRATEGY_CONFIG", ""),
		TakeProfitPct:        getEnvFloat("TAKE_PROFIT_PCT", 0.015),
		StopLossPct:          getEnvFloat("STOP_LOSS_PCT", 0.01),
		TrailingStopPct:      getEnvFloat("TRAILING_STOP_PCT", 0.008),
		PartialExitPct:       getEnvFloat("PARTIAL_EXIT_PCT", 0.5),
		MaxPositionPct:       getEnvFloat("MAX_POSITION_PCT", 0.5),
		MinOrderValue:        getEnvFloat("MIN_ORDER_VALUE", 5000),
		MaxOrderValue:        getEnvFloat("MAX_ORDER_VALUE", 1_000_000),
		RiskPerTradePct:      getEnvFloat("RISK_PER_TRADE_PCT", 0),
		ScaleInEnabled:       getEnvBool("SCALE_IN_ENABLED", true),
		ScaleInThreshold:     getEnvFloat("SCALE_IN_THRESHOLD", 0.005),
		ScaleInMinStrength:   getEnvInt("SCALE_IN_MIN_STRENGTH", 4),
		DailyTargetPct:       getEnvFloat("DAILY_TARGET_PCT", 0.05),
		DailyStopLossPct:     getEnvFloat("DAILY_STOP_LOSS_PCT", 0.02),
		MaxConsecutiveLosses: getEnvInt("MAX_CONSECUTIVE_LOSSES", 3),
		CooldownAfterLoss:    getEnvDuration("COOLDOWN_AFTER_LOSS", 120*time.Second),
		HaltOnDailyLimit:     getEnvBool("HALT_ON_DAILY_LIMIT", false),
		MaxOpenPositions:     getEnvInt("MAX_OPEN_POSITIONS", 0),
		LoadPreexisting:      getEnvBool("LOAD_PREEXISTING", true),
		KillSwitchFile:       getEnv("KILL_SWITCH_FILE", "./runtime/KILL_SWITCH"),
		ReconcileInterval:    getEnvDuration("RECONCILE_INTERVAL", 5*time.Minute),
		LiveMode:             getEnvBool("LIVE_MODE", false),
		LiveTradingEnabled:   getEnvBool("LIVE_TRADING_ENABLED", false),
		BithumbAPIKey:        os.Getenv("BITHUMB_API_KEY"),
		BithumbAPISecret:     os.Getenv("BITHUMB_API_SECRET"),
		BithumbBaseURL:       getEnv("BITHUMB_BASE_URL", "https://api.bithumb.com"),
		UseMockFeed:          getEnvBool("USE_MOCK_FEED", false),
		PaperStartingBalance: getEnvFloat("PAPER_STARTING_BALANCE", 1_000_000),
		StateFile:            getEnv("STATE_FILE", "./data/state.json"),
		DBPath:               getEnv("DB_PATH", "./data/scalper.db"),
		AuditLogPath:         getEnv("AUDIT_LOG", "./runtime/audit.log"),
		TelegramBotToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:       os.Getenv("TELEGRAM_CHAT_ID"),
		NotifyWALPath:        getEnv("NOTIFY_WAL_PATH", "./data/notify.wal"),
		NotifyQueueSize:      getEnvInt("NOTIFY_QUEUE_SIZE", 256),
		NotifyMaxAttempts:    getEnvInt("NOTIFY_MAX_ATTEMPTS", 5),
		NotifyDedupeWindow:   getEnvDuration("NOTIFY_DEDUPE_WINDOW", 60*time.Second),
		EnableAPI:            getEnvBool("ENABLE_API", true),
		APIAddr:              getEnv("API_ADDR", ":8080"),
		APIRateLimit:         getEnvFloat("API_RATE_LIMIT", 10),
		APIBurst:             getEnvInt("API_BURST", 20),
		CORSOrigins:          splitAndTrim(getEnv("CORS_ORIGINS", "*")),
		LogLevel:             strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogPretty:            getEnvBool("LOG_PRETTY", false),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Mode is "live" when both live switches are on, otherwise "paper".
func (c *Config) Mode() string {
	if c.LiveMode && c.LiveTradingEnabled {
		return "live"
	}
	return "paper"
}

// HasBithumbCredentials reports whether private endpoints can be called.
func (c *Config) HasBithumbCredentials() bool {
	return c.BithumbAPIKey != "" && c.BithumbAPISecret != ""
}

// HasTelegram reports whether the Telegram sink can be built.
func (c *Config) HasTelegram() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

// RunDuration converts RunHours; zero means run until stopped.
func (c *Config) RunDuration() time.Duration {
	return time.Duration(c.RunHours * float64(time.Hour))
}

// Validate returns the first *ConfigurationError found.
func (c *Config) Validate() error {
	bad := func(field, format string, args ...any) error {
		return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
	}
	switch {
	case c.Symbol == "":
		return bad("SYMBOL", "required")
	case c.EMAFast <= 0 || c.EMASlow <= 0 || c.RSIPeriod <= 0:
		return bad("EMA_FAST/EMA_SLOW/RSI_PERIOD", "periods must be positive")
	case c.EMAFast >= c.EMASlow:
		return bad("EMA_FAST", "fast period %d must be below slow period %d", c.EMAFast, c.EMASlow)
	case c.CandleWindow < c.EMASlow+1:
		return bad("CANDLE_WINDOW", "window %d must hold at least slow period + 1 (%d)", c.CandleWindow, c.EMASlow+1)
	case c.PollInterval <= 0:
		return bad("POLL_INTERVAL", "must be positive")
	case c.CallTimeout <= 0:
		return bad("CALL_TIMEOUT", "must be positive")
	case c.FeeRate < 0 || c.FeeRate >= 0.01:
		return bad("FEE_RATE", "%v outside [0, 0.01)", c.FeeRate)
	case !inUnit(c.PartialExitPct):
		return bad("PARTIAL_EXIT_PCT", "%v outside (0, 1]", c.PartialExitPct)
	case !inUnit(c.MaxPositionPct):
		return bad("MAX_POSITION_PCT", "%v outside (0, 1]", c.MaxPositionPct)
	case c.TakeProfitPct <= 0 || c.StopLossPct <= 0 || c.TrailingStopPct <= 0:
		return bad("TAKE_PROFIT_PCT/STOP_LOSS_PCT/TRAILING_STOP_PCT", "must be positive")
	case c.MinOrderValue < 0 || c.MinOrderValue > c.MaxOrderValue:
		return bad("MIN_ORDER_VALUE", "min %v must not exceed max %v", c.MinOrderValue, c.MaxOrderValue)
	case c.RiskPerTradePct < 0 || c.RiskPerTradePct > 1:
		return bad("RISK_PER_TRADE_PCT", "%v outside [0, 1]", c.RiskPerTradePct)
	case c.ReconcileInterval < 0:
		return bad("RECONCILE_INTERVAL", "must not be negative")
	case c.RunHours < 0:
		return bad("RUN_HOURS", "must not be negative")
	case c.LiveMode && !c.LiveTradingEnabled:
		return bad("LIVE_TRADING_ENABLED", "live mode requested but LIVE_TRADING_ENABLED is not true")
	case c.Mode() == "live" && !c.HasBithumbCredentials():
		return bad("BITHUMB_API_KEY", "API credentials missing for live mode")
	case c.Mode() == "live" && c.UseMockFeed:
		return bad("USE_MOCK_FEED", "mock feed cannot drive live trading")
	case c.TelegramBotToken != "" && c.TelegramChatID == "":
		return bad("TELEGRAM_CHAT_ID", "required when TELEGRAM_BOT_TOKEN is set")
	}
	return nil
}

func inUnit(v float64) bool { return v > 0 && v <= 1 }

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.ReplaceAll(v, "_", ""), 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}
