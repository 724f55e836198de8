// Package config loads Vaulty's configuration from a TOML file, overlaid
// with VAULTY_-prefixed environment variables, into a single immutable
// handle shared by the server and filter entrypoints.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Storage  StorageConfig
	Filter   FilterConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host              string
	Port              int
	AuthUser          string
	AuthPass          string
	MaxEmailSize      int64 // bytes
	MaxAttachmentSize int64 // bytes
	RequestTimeout    time.Duration
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// StorageConfig holds the credentials for each storage backend. A blank
// Token/AccessKeyID means that backend's client is not registered.
type StorageConfig struct {
	DropboxToken string

	S3Endpoint        string
	S3Region          string
	S3Bucket          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3UsePathStyle    bool

	GdriveAccessToken  string
	GdriveRefreshToken string
}

// FilterConfig holds the options the filter CLI reads, mirroring the
// VAULTY_ environment variables an MTA invocation sets.
type FilterConfig struct {
	User         string
	Pass         string
	ServerAddr   string
	ReplySuccess bool
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string
	Format    string
	Output    string
	AddSource bool
}

// Load reads configuration from path (a TOML file; when path is empty,
// vaulty.toml is searched for in . and /etc/vaulty and its absence is
// tolerated, while a missing explicit path is an error) then overlays
// VAULTY_-prefixed environment variables, replicating the
// original "File::with_name(path).merge(Environment::with_prefix(...))"
// chain with viper.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("vaulty")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/vaulty")
	}

	v.SetEnvPrefix("VAULTY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("filter.user", "VAULTY_USER", "VAULTY_FILTER_USER")
	v.BindEnv("filter.pass", "VAULTY_PASS", "VAULTY_FILTER_PASS")
	v.BindEnv("filter.server_addr", "VAULTY_SERVER_ADDR", "VAULTY_FILTER_SERVER_ADDR")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:              v.GetString("server.host"),
			Port:              v.GetInt("port"),
			AuthUser:          v.GetString("auth_user"),
			AuthPass:          v.GetString("auth_pass"),
			MaxEmailSize:      v.GetInt64("max_email_size"),
			MaxAttachmentSize: v.GetInt64("max_attachment_size"),
			RequestTimeout:    v.GetDuration("server.request_timeout"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("db_host"),
			Port:     v.GetString("db_port"),
			User:     v.GetString("db_user"),
			Password: v.GetString("db_password"),
			DBName:   v.GetString("db_name"),
			SSLMode:  v.GetString("db_sslmode"),
		},
		Storage: StorageConfig{
			DropboxToken:       v.GetString("storage.dropbox_token"),
			S3Endpoint:         v.GetString("storage.s3_endpoint"),
			S3Region:           v.GetString("storage.s3_region"),
			S3Bucket:           v.GetString("storage.s3_bucket"),
			S3AccessKeyID:      v.GetString("storage.s3_access_key_id"),
			S3SecretAccessKey:  v.GetString("storage.s3_secret_access_key"),
			S3UsePathStyle:     v.GetBool("storage.s3_use_path_style"),
			GdriveAccessToken:  v.GetString("storage.gdrive_access_token"),
			GdriveRefreshToken: v.GetString("storage.gdrive_refresh_token"),
		},
		Filter: FilterConfig{
			User:         v.GetString("filter.user"),
			Pass:         v.GetString("filter.pass"),
			ServerAddr:   v.GetString("filter.server_addr"),
			ReplySuccess: v.GetBool("filter.reply_success"),
		},
		Logging: LoggingConfig{
			Level:     v.GetString("logging.level"),
			Format:    v.GetString("logging.format"),
			Output:    v.GetString("logging.output"),
			AddSource: v.GetBool("logging.add_source"),
		},
	}
	if _, set := os.LookupEnv("VAULTY_REPLY_SUCCESS"); set {
		cfg.Filter.ReplySuccess = true
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("port", 7777)
	v.SetDefault("auth_user", "admin")
	v.SetDefault("auth_pass", "test123")
	v.SetDefault("max_email_size", 5*1024*1024)
	v.SetDefault("max_attachment_size", 20*1024*1024)
	v.SetDefault("server.request_timeout", 30*time.Second)

	v.SetDefault("db_host", "127.0.0.1")
	v.SetDefault("db_port", "5432")
	v.SetDefault("db_user", "vaulty")
	v.SetDefault("db_password", "")
	v.SetDefault("db_name", "vaulty")
	v.SetDefault("db_sslmode", "disable")

	v.SetDefault("storage.s3_region", "us-east-1")
	v.SetDefault("storage.s3_use_path_style", false)

	v.SetDefault("filter.server_addr", "http://127.0.0.1:7777")
	v.SetDefault("filter.reply_success", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
}
