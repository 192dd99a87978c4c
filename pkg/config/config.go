package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("config", fx.Provide(Load))

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`

	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`

	TLS struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`

	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBName         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConn     int           `mapstructure:"MAX_OPEN_CONN"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`

	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`

	Snowflake struct {
		NodeID int64 `mapstructure:"NODE_ID" validate:"gte=0,lte=1023"`
	} `mapstructure:"SNOWFLAKE"`

	// Rating is the audience score range. The bounds are deployment
	// configuration, not code: different verticals run 1-5 and 1-10.
	Rating struct {
		MinScore int64 `mapstructure:"MIN_SCORE" validate:"gte=0"`
		MaxScore int64 `mapstructure:"MAX_SCORE" validate:"gtefield=MinScore"`
	} `mapstructure:"RATING"`

	Room struct {
		TickInterval time.Duration `mapstructure:"TICK_INTERVAL"`
	} `mapstructure:"ROOM"`

	Streaming struct {
		Addr       string        `mapstructure:"ADDR"`
		Timeout    time.Duration `mapstructure:"TIMEOUT"`
		MaxRetries int           `mapstructure:"MAX_RETRIES" validate:"gte=0,lte=10"`
	} `mapstructure:"STREAMING"`

	Otel struct {
		// Endpoint of the OTLP collector; empty disables trace export.
		Endpoint string `mapstructure:"ENDPOINT"`
	} `mapstructure:"OTEL"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A config file is optional; env vars and defaults carry a bare
		// deployment.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		zap.L().Warn("no config file found, using env and defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "dueli")
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 10*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 10*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("RATING.MIN_SCORE", 1)
	v.SetDefault("RATING.MAX_SCORE", 5)
	v.SetDefault("ROOM.TICK_INTERVAL", 5*time.Second)
	v.SetDefault("STREAMING.TIMEOUT", 5*time.Second)
	v.SetDefault("STREAMING.MAX_RETRIES", 2)
	v.SetDefault("SNOWFLAKE.NODE_ID", 1)
}
