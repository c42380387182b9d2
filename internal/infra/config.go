package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации подсистемы экстренного доступа.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Emergency EmergencyConfig `mapstructure:"emergency"`
	Lookup    LookupConfig    `mapstructure:"lookup"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub и зеркало статуса).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит путь к публичному RSA ключу для проверки JWT периметра.
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte
}

// EmergencyConfig — параметры самого break-glass контура.
// Фрагменты мастер-секрета НЕ читаются из файла: только ENV, чтобы дамп
// конфига не раскрывал материал ключа.
type EmergencyConfig struct {
	MaxWindow        time.Duration `mapstructure:"max_window"`       // Потолок окна (default 72h)
	AudioCap         time.Duration `mapstructure:"audio_cap"`        // Потолок аудиозаписи (default 60s)
	Authorities      []string      `mapstructure:"authorities"`      // Фиксированный список надзорных органов
	TOTPSecretEnv    string        `mapstructure:"totp_secret_env"`  // Имя ENV-переменной с секретом 2FA
	FragmentEnvOne   string        `mapstructure:"fragment_env_one"` // Имена ENV-переменных с фрагментами
	FragmentEnvTwo   string        `mapstructure:"fragment_env_two"`
	FragmentEnvThree string        `mapstructure:"fragment_env_three"`

	TOTPSecret []byte `mapstructure:"-"`
	Fragment1  []byte `mapstructure:"-"`
	Fragment2  []byte `mapstructure:"-"`
	Fragment3  []byte `mapstructure:"-"`
}

// LookupConfig — внешние сервисы (геокодер, классификация сети,
// идентификация, медиашлюз).
type LookupConfig struct {
	GeocoderURL string        `mapstructure:"geocoder_url"`
	NetworkURL  string        `mapstructure:"network_url"`
	IdentityURL string        `mapstructure:"identity_url"`
	MediaURL    string        `mapstructure:"media_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. ENV перекрывает файл: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Секретный материал — только из ENV
	cfg.Emergency.TOTPSecret = []byte(os.Getenv(cfg.Emergency.TOTPSecretEnv))
	cfg.Emergency.Fragment1 = []byte(os.Getenv(cfg.Emergency.FragmentEnvOne))
	cfg.Emergency.Fragment2 = []byte(os.Getenv(cfg.Emergency.FragmentEnvTwo))
	cfg.Emergency.Fragment3 = []byte(os.Getenv(cfg.Emergency.FragmentEnvThree))

	// 7. Публичный ключ периметра: PEM напрямую в ENV (Docker/K8s) или файл
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("emergency.max_window", 72*time.Hour)
	v.SetDefault("emergency.audio_cap", 60*time.Second)
	v.SetDefault("emergency.authorities", []string{"CNPD", "MINISTERE_INTERIEUR", "AUTORITE_JUDICIAIRE"})
	v.SetDefault("emergency.totp_secret_env", "EMERGENCY_TOTP_SECRET")
	v.SetDefault("emergency.fragment_env_one", "EMERGENCY_KEY_1")
	v.SetDefault("emergency.fragment_env_two", "EMERGENCY_KEY_2")
	v.SetDefault("emergency.fragment_env_three", "EMERGENCY_KEY_3")
	v.SetDefault("lookup.geocoder_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("lookup.timeout", 5*time.Second)
}

// loadKeyResource — ключ либо напрямую из ENV (Base64/PEM), либо из файла
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
