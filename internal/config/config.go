// Package config defines the configuration contract and handles loading and validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken       = "TELEGRAM_TOKEN"
	KeyBotOwner            = "BOT_OWNER"
	KeyAdminPassword       = "ADMIN_PASSWORD"
	KeyStoreDriver         = "STORE_DRIVER"
	KeyMongoURI            = "MONGO_URI"
	KeyMongoDB             = "MONGO_DB"
	KeySQLitePath          = "SQLITE_PATH"
	KeyAppEnv              = "APP_ENV"
	KeyLogLevel            = "LOG_LEVEL"
	KeyHTTPPort            = "HTTP_PORT"
	KeyScriptPath          = "SCRIPT_PATH"
	KeySettingsPath        = "SETTINGS_PATH"
	KeyTimezone            = "TIMEZONE"
	KeyReloadInterval      = "RELOAD_INTERVAL"
	KeyAdvanceInterval     = "ADVANCE_INTERVAL"
	KeyPaymentPollInterval = "PAYMENT_POLL_INTERVAL"
	KeyPaymentCheckPause   = "PAYMENT_CHECK_PAUSE"
	KeyCallTimeout         = "CALL_TIMEOUT"
	KeyYooKassaShopID      = "YOOKASSA_SHOP_ID"
	KeyYooKassaSecretKey   = "YOOKASSA_SECRET_KEY"
	KeyYooKassaReturnURL   = "YOOKASSA_RETURN_URL"
	KeyPaymentAmount       = "PAYMENT_AMOUNT"
	KeyPaymentCurrency     = "PAYMENT_CURRENCY"
	KeyPaymentDescription  = "PAYMENT_DESCRIPTION"
	KeyOTELEndpoint        = "OTEL_ENDPOINT"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Allowed store drivers.
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"

	// Defaults for optional settings.
	DefaultAppEnv              = EnvProduction
	DefaultLogLevel            = "info"
	DefaultHTTPPort            = 8080
	DefaultStoreDriver         = DriverMongo
	DefaultSQLitePath          = "data/bot.db"
	DefaultScriptPath          = "script.json"
	DefaultSettingsPath        = "settings.json"
	DefaultTimezone            = "Europe/Moscow"
	DefaultReloadInterval      = 10 * time.Second
	DefaultAdvanceInterval     = time.Second
	DefaultPaymentPollInterval = time.Second
	DefaultPaymentCheckPause   = time.Second
	DefaultCallTimeout         = 10 * time.Second
	DefaultYooKassaReturnURL   = "https://t.me"
	DefaultPaymentAmount       = "100.00"
	DefaultPaymentCurrency     = "RUB"
	DefaultPaymentDescription  = "Course access"

	// Recommended database names by environment.
	DefaultMongoDBProd = "step_bot"
	DefaultMongoDBDev  = "step_bot_dev"

	secretPrefixLen = 4
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
	Secret      bool   // whether the value is masked when printed
}

// Contract enumerates the authoritative configuration keys for the bot.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Required:    true,
		Description: "Telegram Bot Token issued by BotFather.",
		Secret:      true,
	},
	{
		Key:         KeyBotOwner,
		Example:     "123456789",
		Description: "Telegram user_id bootstrapped as admin with paid access.",
	},
	{
		Key:         KeyAdminPassword,
		Example:     "s3cret",
		Description: "Password accepted by /login; empty disables admin login.",
		Secret:      true,
	},
	{
		Key:         KeyStoreDriver,
		Example:     DriverMongo + " / " + DriverSQLite,
		Default:     DefaultStoreDriver,
		Description: "User progress store backend.",
	},
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Description: "MongoDB connection string.",
		Notes:       "Required when " + KeyStoreDriver + "=" + DriverMongo + ".",
		Secret:      true,
	},
	{
		Key:         KeyMongoDB,
		Example:     DefaultMongoDBProd + " / " + DefaultMongoDBDev,
		Description: "MongoDB database name.",
		Notes:       "Required when " + KeyStoreDriver + "=" + DriverMongo + ". Recommended: production=" + DefaultMongoDBProd + ", development=" + DefaultMongoDBDev + ".",
	},
	{
		Key:         KeySQLitePath,
		Example:     DefaultSQLitePath,
		Default:     DefaultSQLitePath,
		Description: "SQLite database file.",
		Notes:       "Used when " + KeyStoreDriver + "=" + DriverSQLite + ".",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP health/diagnostics port.",
	},
	{
		Key:         KeyScriptPath,
		Example:     DefaultScriptPath,
		Default:     DefaultScriptPath,
		Description: "Step catalog document (JSON or YAML).",
	},
	{
		Key:         KeySettingsPath,
		Example:     DefaultSettingsPath,
		Default:     DefaultSettingsPath,
		Description: "Policy document with delay policy, toggles and message templates.",
	},
	{
		Key:         KeyTimezone,
		Example:     DefaultTimezone,
		Default:     DefaultTimezone,
		Description: "IANA location for fixed-time anchors and time labels.",
	},
	{
		Key:         KeyReloadInterval,
		Example:     DefaultReloadInterval.String(),
		Default:     DefaultReloadInterval.String(),
		Description: "How often the catalog and policy documents are re-read.",
	},
	{
		Key:         KeyAdvanceInterval,
		Example:     DefaultAdvanceInterval.String(),
		Default:     DefaultAdvanceInterval.String(),
		Description: "Tick of the step advancement scan.",
	},
	{
		Key:         KeyPaymentPollInterval,
		Example:     DefaultPaymentPollInterval.String(),
		Default:     DefaultPaymentPollInterval.String(),
		Description: "Idle tick of the payment reconciliation loop.",
	},
	{
		Key:         KeyPaymentCheckPause,
		Example:     DefaultPaymentCheckPause.String(),
		Default:     DefaultPaymentCheckPause.String(),
		Description: "Pause between two gateway status checks.",
	},
	{
		Key:         KeyCallTimeout,
		Example:     DefaultCallTimeout.String(),
		Default:     DefaultCallTimeout.String(),
		Description: "Upper bound for each external call (gateway, Telegram, store).",
	},
	{
		Key:         KeyYooKassaShopID,
		Example:     "123456",
		Description: "YooKassa shop id; payments are disabled when empty.",
	},
	{
		Key:         KeyYooKassaSecretKey,
		Example:     "live_xxx",
		Description: "YooKassa secret key.",
		Secret:      true,
	},
	{
		Key:         KeyYooKassaReturnURL,
		Example:     DefaultYooKassaReturnURL,
		Default:     DefaultYooKassaReturnURL,
		Description: "Where YooKassa redirects after payment.",
	},
	{
		Key:         KeyPaymentAmount,
		Example:     DefaultPaymentAmount,
		Default:     DefaultPaymentAmount,
		Description: "Invoice amount.",
	},
	{
		Key:         KeyPaymentCurrency,
		Example:     DefaultPaymentCurrency,
		Default:     DefaultPaymentCurrency,
		Description: "Invoice currency.",
	},
	{
		Key:         KeyPaymentDescription,
		Example:     DefaultPaymentDescription,
		Default:     DefaultPaymentDescription,
		Description: "Invoice description shown on the payment page.",
	},
	{
		Key:         KeyOTELEndpoint,
		Example:     "http://localhost:4318",
		Description: "OTLP/HTTP traces endpoint; tracing is disabled when empty.",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	TelegramToken       string
	BotOwnerID          int64
	AdminPassword       string
	StoreDriver         string
	MongoURI            string
	MongoDB             string
	SQLitePath          string
	AppEnv              string
	LogLevel            string
	HTTPPort            int
	ScriptPath          string
	SettingsPath        string
	Timezone            string
	Location            *time.Location
	ReloadInterval      time.Duration
	AdvanceInterval     time.Duration
	PaymentPollInterval time.Duration
	PaymentCheckPause   time.Duration
	CallTimeout         time.Duration
	YooKassaShopID      string
	YooKassaSecretKey   string
	YooKassaReturnURL   string
	PaymentAmount       string
	PaymentCurrency     string
	PaymentDescription  string
	OTELEndpoint        string
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:             firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		TelegramToken:      strings.TrimSpace(os.Getenv(KeyTelegramToken)),
		AdminPassword:      strings.TrimSpace(os.Getenv(KeyAdminPassword)),
		StoreDriver:        firstNonEmpty(normalizeEnv(os.Getenv(KeyStoreDriver)), DefaultStoreDriver),
		MongoURI:           strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:            strings.TrimSpace(os.Getenv(KeyMongoDB)),
		SQLitePath:         firstNonEmpty(os.Getenv(KeySQLitePath), DefaultSQLitePath),
		LogLevel:           firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:           DefaultHTTPPort,
		ScriptPath:         firstNonEmpty(os.Getenv(KeyScriptPath), DefaultScriptPath),
		SettingsPath:       firstNonEmpty(os.Getenv(KeySettingsPath), DefaultSettingsPath),
		Timezone:           firstNonEmpty(os.Getenv(KeyTimezone), DefaultTimezone),
		YooKassaShopID:     strings.TrimSpace(os.Getenv(KeyYooKassaShopID)),
		YooKassaSecretKey:  strings.TrimSpace(os.Getenv(KeyYooKassaSecretKey)),
		YooKassaReturnURL:  firstNonEmpty(os.Getenv(KeyYooKassaReturnURL), DefaultYooKassaReturnURL),
		PaymentAmount:      firstNonEmpty(os.Getenv(KeyPaymentAmount), DefaultPaymentAmount),
		PaymentCurrency:    firstNonEmpty(os.Getenv(KeyPaymentCurrency), DefaultPaymentCurrency),
		PaymentDescription: firstNonEmpty(os.Getenv(KeyPaymentDescription), DefaultPaymentDescription),
		OTELEndpoint:       strings.TrimSpace(os.Getenv(KeyOTELEndpoint)),
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}
	if err := validateStoreDriver(cfg.StoreDriver); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)

	if cfg.TelegramToken == "" {
		missing = append(missing, KeyTelegramToken)
	}

	if cfg.StoreDriver == DriverMongo {
		if cfg.MongoURI == "" {
			missing = append(missing, KeyMongoURI)
		}
		if cfg.MongoDB == "" {
			missing = append(missing, KeyMongoDB)
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	if cfg.StoreDriver == DriverMongo {
		if err := validateMongoURI(cfg.MongoURI); err != nil {
			return Config{}, err
		}
	}

	ownerRaw := strings.TrimSpace(os.Getenv(KeyBotOwner))
	if ownerRaw != "" {
		ownerID, parseErr := strconv.ParseInt(ownerRaw, 10, 64)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyBotOwner, parseErr)
		}
		cfg.BotOwnerID = ownerID
	}

	httpPortRaw := strings.TrimSpace(os.Getenv(KeyHTTPPort))
	if httpPortRaw != "" {
		port, parseErr := strconv.Atoi(httpPortRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyHTTPPort, parseErr)
		}
		if port <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyHTTPPort)
		}
		cfg.HTTPPort = port
	}

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", KeyTimezone, err)
	}
	cfg.Location = location

	durations := []struct {
		key      string
		fallback time.Duration
		target   *time.Duration
	}{
		{KeyReloadInterval, DefaultReloadInterval, &cfg.ReloadInterval},
		{KeyAdvanceInterval, DefaultAdvanceInterval, &cfg.AdvanceInterval},
		{KeyPaymentPollInterval, DefaultPaymentPollInterval, &cfg.PaymentPollInterval},
		{KeyPaymentCheckPause, DefaultPaymentCheckPause, &cfg.PaymentCheckPause},
		{KeyCallTimeout, DefaultCallTimeout, &cfg.CallTimeout},
	}
	for _, d := range durations {
		value, parseErr := parseDuration(d.key, d.fallback)
		if parseErr != nil {
			return Config{}, parseErr
		}
		*d.target = value
	}

	if (cfg.YooKassaShopID == "") != (cfg.YooKassaSecretKey == "") {
		return Config{}, fmt.Errorf("%s and %s must be set together", KeyYooKassaShopID, KeyYooKassaSecretKey)
	}

	return cfg, nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// PaymentsEnabled reports whether gateway credentials are configured.
func (c Config) PaymentsEnabled() bool {
	return c.YooKassaShopID != "" && c.YooKassaSecretKey != ""
}

// FormatRedacted renders the resolved configuration one key per line with
// secrets masked and credentials stripped from connection strings.
func FormatRedacted(cfg Config) string {
	values := map[string]string{
		KeyTelegramToken:       cfg.TelegramToken,
		KeyBotOwner:            strconv.FormatInt(cfg.BotOwnerID, 10),
		KeyAdminPassword:       cfg.AdminPassword,
		KeyStoreDriver:         cfg.StoreDriver,
		KeyMongoURI:            redactURI(cfg.MongoURI),
		KeyMongoDB:             cfg.MongoDB,
		KeySQLitePath:          cfg.SQLitePath,
		KeyAppEnv:              cfg.AppEnv,
		KeyLogLevel:            cfg.LogLevel,
		KeyHTTPPort:            strconv.Itoa(cfg.HTTPPort),
		KeyScriptPath:          cfg.ScriptPath,
		KeySettingsPath:        cfg.SettingsPath,
		KeyTimezone:            cfg.Timezone,
		KeyReloadInterval:      cfg.ReloadInterval.String(),
		KeyAdvanceInterval:     cfg.AdvanceInterval.String(),
		KeyPaymentPollInterval: cfg.PaymentPollInterval.String(),
		KeyPaymentCheckPause:   cfg.PaymentCheckPause.String(),
		KeyCallTimeout:         cfg.CallTimeout.String(),
		KeyYooKassaShopID:      cfg.YooKassaShopID,
		KeyYooKassaSecretKey:   cfg.YooKassaSecretKey,
		KeyYooKassaReturnURL:   cfg.YooKassaReturnURL,
		KeyPaymentAmount:       cfg.PaymentAmount,
		KeyPaymentCurrency:     cfg.PaymentCurrency,
		KeyPaymentDescription:  cfg.PaymentDescription,
		KeyOTELEndpoint:        cfg.OTELEndpoint,
	}

	lines := make([]string, 0, len(Contract))
	for _, spec := range Contract {
		value := values[spec.Key]
		if spec.Secret && spec.Key != KeyMongoURI {
			value = redactSecret(value)
		}
		lines = append(lines, fmt.Sprintf("%s: %s", strings.ToLower(spec.Key), value))
	}
	return strings.Join(lines, "\n")
}

// redactSecret keeps a short prefix so operators can tell tokens apart.
func redactSecret(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= secretPrefixLen*2 {
		return "redacted"
	}
	return value[:secretPrefixLen] + "...redacted"
}

func redactURI(raw string) string {
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "redacted"
	}
	parsed.User = nil
	return parsed.String()
}

func validateMongoURI(raw string) error {
	if strings.HasPrefix(raw, "mongodb://") || strings.HasPrefix(raw, "mongodb+srv://") {
		return nil
	}
	return fmt.Errorf("invalid %s: must start with mongodb:// or mongodb+srv://", KeyMongoURI)
}

func parseDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return value, nil
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func validateStoreDriver(driver string) error {
	if driver == DriverMongo || driver == DriverSQLite {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyStoreDriver, DriverMongo, DriverSQLite)
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
