package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации журнала отмены.
type Config struct {
	Undo      UndoConfig      `yaml:"undo"`
	World     WorldConfig     `yaml:"world"`
	Network   NetworkConfig   `yaml:"network"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
	API       APIConfig       `yaml:"api"`
	Bus       BusConfig       `yaml:"bus"`
}

type UndoConfig struct {
	Dir        string `yaml:"dir"`
	RotateAt   int    `yaml:"rotate_at"`
	FlushEvery int    `yaml:"flush_every_seconds"`
	ArchiveDir string `yaml:"archive_dir"`
}

type WorldConfig struct {
	DataDir string `yaml:"data_dir"`
}

type NetworkConfig struct {
	BatchSize int `yaml:"batch_size"`
}

type MetricsConfig struct {
	Port int `yaml:"port"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

type LoggingConfig struct {
	Dir          string `yaml:"dir"`
	ConsoleLevel string `yaml:"console_level"`
	FileLevel    string `yaml:"file_level"`
}

// APIConfig - административный HTTP API
type APIConfig struct {
	Port      int                       `yaml:"port"`
	JWTSecret string                    `yaml:"jwt_secret"` // base64, не короче 32 байт
	TokenTTL  int                       `yaml:"token_ttl_minutes"`
	Operators map[string]OperatorConfig `yaml:"operators"`
}

// OperatorConfig - учётная запись оператора API
type OperatorConfig struct {
	PasswordHash string `yaml:"password_hash"` // bcrypt
	Admin        bool   `yaml:"admin"`
}

// BusConfig - куда доставлять пакеты обновлений блоков
type BusConfig struct {
	Kind     string `yaml:"kind"` // log | nats | redis
	URL      string `yaml:"url"`
	Prefix   string `yaml:"prefix"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// GetDir возвращает корневой каталог журнала с поддержкой fallback значений
func (u *UndoConfig) GetDir() string {
	return getStringWithEnvFallback(u.Dir, "UNDO_DIR", "extra/undo")
}

// GetRotateAt возвращает предел поколения (число каталогов игроков в current)
func (u *UndoConfig) GetRotateAt() int {
	return getIntWithEnvFallback(u.RotateAt, "UNDO_ROTATE_AT", 200)
}

// GetFlushEvery возвращает период фонового сброса буферов
func (u *UndoConfig) GetFlushEvery() time.Duration {
	return time.Duration(getIntWithEnvFallback(u.FlushEvery, "UNDO_FLUSH_EVERY", 60)) * time.Second
}

// GetArchiveDir возвращает каталог архивов вытесненных поколений ("" - архив отключён)
func (u *UndoConfig) GetArchiveDir() string {
	return getStringWithEnvFallback(u.ArchiveDir, "UNDO_ARCHIVE_DIR", "")
}

// GetDataDir возвращает каталог хранилища уровней
func (w *WorldConfig) GetDataDir() string {
	return getStringWithEnvFallback(w.DataDir, "UNDO_WORLD_DIR", "data")
}

// GetBatchSize возвращает размер пакета сетевых обновлений блоков
func (n *NetworkConfig) GetBatchSize() int {
	return getIntWithEnvFallback(n.BatchSize, "UNDO_BATCH_SIZE", 256)
}

// GetPort возвращает Prometheus порт (0 - метрики не публикуются)
func (m *MetricsConfig) GetPort() int {
	return getIntWithEnvFallback(m.Port, "UNDO_METRICS_PORT", 0)
}

// GetServiceName возвращает имя сервиса для трассировки
func (t *TelemetryConfig) GetServiceName() string {
	return getStringWithEnvFallback(t.ServiceName, "UNDO_SERVICE_NAME", "blockundo")
}

// GetDir возвращает каталог файлов логов
func (l *LoggingConfig) GetDir() string {
	return getStringWithEnvFallback(l.Dir, "UNDO_LOG_DIR", "logs")
}

// GetConsoleLevel возвращает порог вывода в консоль
func (l *LoggingConfig) GetConsoleLevel() string {
	return getStringWithEnvFallback(l.ConsoleLevel, "UNDO_LOG_LEVEL", "INFO")
}

// GetFileLevel возвращает порог записи в файл
func (l *LoggingConfig) GetFileLevel() string {
	return getStringWithEnvFallback(l.FileLevel, "UNDO_LOG_FILE_LEVEL", "DEBUG")
}

// GetPort возвращает порт API (0 - API выключен)
func (a *APIConfig) GetPort() int {
	return getIntWithEnvFallback(a.Port, "UNDO_API_PORT", 0)
}

// GetJWTSecret возвращает секрет подписи токенов ("" - случайный на время работы процесса)
func (a *APIConfig) GetJWTSecret() string {
	return getStringWithEnvFallback(a.JWTSecret, "UNDO_JWT_SECRET", "")
}

// GetTokenTTL возвращает срок действия токена
func (a *APIConfig) GetTokenTTL() time.Duration {
	return time.Duration(getIntWithEnvFallback(a.TokenTTL, "UNDO_TOKEN_TTL", 24*60)) * time.Minute
}

// GetKind возвращает тип шины
func (b *BusConfig) GetKind() string {
	return getStringWithEnvFallback(b.Kind, "UNDO_BUS", "log")
}

// GetURL возвращает адрес шины (nats://host:4222 или host:6379)
func (b *BusConfig) GetURL() string {
	def := "nats://127.0.0.1:4222"
	if b.GetKind() == "redis" {
		def = "localhost:6379"
	}
	return getStringWithEnvFallback(b.URL, "UNDO_BUS_URL", def)
}

// GetPrefix возвращает префикс subject/канала
func (b *BusConfig) GetPrefix() string {
	return getStringWithEnvFallback(b.Prefix, "UNDO_BUS_PREFIX", "undo.blocks")
}

// getIntWithEnvFallback возвращает значение с приоритетом: config -> env -> default
func getIntWithEnvFallback(configVal int, envVar string, defaultVal int) int {
	if configVal > 0 {
		return configVal
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if v, err := strconv.Atoi(envVal); err == nil && v > 0 {
			return v
		}
	}

	return defaultVal
}

func getStringWithEnvFallback(configVal, envVar, defaultVal string) string {
	if configVal != "" {
		return configVal
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		return envVal
	}
	return defaultVal
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV UNDO_CONFIG; без файла возвращает пустой
// Config, все значения берутся из env или дефолтов.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("UNDO_CONFIG")
		if path == "" {
			return &Config{}, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
