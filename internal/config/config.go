package config

import (
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	pkgconfig "github.com/weiawesome/wes-io-live/dm-service/pkg/config"
	"github.com/weiawesome/wes-io-live/dm-service/pkg/log"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Auth      AuthConfig
	Database  DatabaseConfig
	DynamoDB  DynamoDBConfig `mapstructure:"dynamodb"`
	Redis     RedisConfig
	Cache     CacheConfig
	Lock      LockConfig
	Relay     RelayConfig
	Kafka     KafkaConfig
	Typing    TypingConfig
	Directory DirectoryConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	InstanceID      string        `mapstructure:"instance_id"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBufferSize int           `mapstructure:"send_buffer_size"`
}

type AuthConfig struct {
	Enabled bool
	Secret  string
	Issuer  string
}

// DatabaseConfig selects the Persistence Gateway backend.
// Driver is one of postgres, mysql, sqlite or dynamodb.
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	FilePath        string        `mapstructure:"file_path"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime int           `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"`
}

type DynamoDBConfig struct {
	Region          string
	Endpoint        string
	Table           string
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type RedisConfig struct {
	Enabled           bool
	Address           string
	Password          string
	DB                int
	PresencePrefix    string        `mapstructure:"presence_prefix"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	KeyTTL            time.Duration `mapstructure:"key_ttl"`
}

type CacheConfig struct {
	Enabled bool
	Prefix  string
	TTL     time.Duration `mapstructure:"ttl"`
}

type LockConfig struct {
	Driver string // local or redis
	Prefix string
	Expiry time.Duration `mapstructure:"expiry"`
}

type RelayConfig struct {
	Enabled bool
	Prefix  string
}

type KafkaConfig struct {
	Enabled           bool
	Brokers           string
	Topic             string
	Partitions        int
	ReplicationFactor int `mapstructure:"replication_factor"`
}

type TypingConfig struct {
	Window time.Duration `mapstructure:"window"`
}

// DirectoryConfig names the tables owned by the user and post services.
type DirectoryConfig struct {
	UsersTable string        `mapstructure:"users_table"`
	PostsTable string        `mapstructure:"posts_table"`
	CacheSize  int           `mapstructure:"cache_size"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// Load reads config.yaml from CONFIG_PATH (default ./config) and the
// environment.
func Load() (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// LoadAndWatch is Load plus a watch on the config file: onChange receives a
// freshly decoded Config after every rewrite. Decoding failures keep the
// previous values and are only logged.
func LoadAndWatch(onChange func(*Config)) (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	pkgconfig.Watch(v, func(e fsnotify.Event) {
		l := log.L()
		next, err := decode(v)
		if err != nil {
			l.Warn().Err(err).Str("file", e.Name).Msg("ignoring invalid config change")
			return
		}
		l.Info().Str("file", e.Name).Str("op", e.Op.String()).Msg("config reloaded")
		onChange(next)
	})
	return cfg, nil
}

func newViper() (*viper.Viper, error) {
	v, err := pkgconfig.Load(pkgconfig.GetEnv("CONFIG_PATH", "./config"), "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.instance_id", "")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 8192)
	v.SetDefault("websocket.send_buffer_size", 256)
	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "wes-io-live")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "dm_service")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.file_path", "./data/dm.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", 60)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.slow_threshold", "200ms")
	v.SetDefault("dynamodb.region", "us-east-1")
	v.SetDefault("dynamodb.endpoint", "")
	v.SetDefault("dynamodb.table", "dm_service")
	v.SetDefault("dynamodb.access_key_id", "")
	v.SetDefault("dynamodb.secret_access_key", "")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.presence_prefix", "dm:presence")
	v.SetDefault("redis.heartbeat_interval", "10s")
	v.SetDefault("redis.key_ttl", "30s")
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.prefix", "dm:history")
	v.SetDefault("cache.ttl", "60s")
	v.SetDefault("lock.driver", "local")
	v.SetDefault("lock.prefix", "dm:lock:pair")
	v.SetDefault("lock.expiry", "5s")
	v.SetDefault("relay.enabled", false)
	v.SetDefault("relay.prefix", "dm:user")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "dm-events")
	v.SetDefault("kafka.partitions", 8)
	v.SetDefault("kafka.replication_factor", 1)
	v.SetDefault("typing.window", "2s")
	v.SetDefault("directory.users_table", "users")
	v.SetDefault("directory.posts_table", "tweets")
	v.SetDefault("directory.cache_size", 10000)
	v.SetDefault("directory.cache_ttl", "5m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.instance_id", "INSTANCE_ID")
	v.BindEnv("auth.enabled", "AUTH_ENABLED")
	v.BindEnv("auth.secret", "JWT_SECRET")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.sslmode", "DB_SSLMODE")
	v.BindEnv("database.file_path", "DB_FILE_PATH")
	v.BindEnv("dynamodb.region", "AWS_REGION")
	v.BindEnv("dynamodb.endpoint", "DYNAMODB_ENDPOINT")
	v.BindEnv("dynamodb.table", "DYNAMODB_TABLE")
	v.BindEnv("dynamodb.access_key_id", "DYNAMODB_ACCESS_KEY_ID")
	v.BindEnv("dynamodb.secret_access_key", "DYNAMODB_SECRET_ACCESS_KEY")
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("cache.enabled", "CACHE_ENABLED")
	v.BindEnv("lock.driver", "LOCK_DRIVER")
	v.BindEnv("relay.enabled", "RELAY_ENABLED")
	v.BindEnv("kafka.enabled", "KAFKA_ENABLED")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_TOPIC")
	v.BindEnv("log.level", "LOG_LEVEL")

	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.Server.ShutdownTimeout = pkgconfig.Duration(v, "server.shutdown_timeout", 30*time.Second)
	cfg.WebSocket.PingInterval = pkgconfig.Duration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.Duration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = pkgconfig.Duration(v, "websocket.write_wait", 10*time.Second)
	cfg.Database.SlowThreshold = pkgconfig.Duration(v, "database.slow_threshold", 200*time.Millisecond)
	cfg.Redis.HeartbeatInterval = pkgconfig.Duration(v, "redis.heartbeat_interval", 10*time.Second)
	cfg.Redis.KeyTTL = pkgconfig.Duration(v, "redis.key_ttl", 30*time.Second)
	cfg.Cache.TTL = pkgconfig.Duration(v, "cache.ttl", 60*time.Second)
	cfg.Lock.Expiry = pkgconfig.Duration(v, "lock.expiry", 5*time.Second)
	cfg.Typing.Window = pkgconfig.Duration(v, "typing.window", 2*time.Second)
	cfg.Directory.CacheTTL = pkgconfig.Duration(v, "directory.cache_ttl", 5*time.Minute)

	return &cfg, nil
}
