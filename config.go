package main

import (
	"time"

	"github.com/spf13/viper"
)

var DefConfig Config

type Config struct {
	Host      string `json:"host"`
	PprofHost string `json:"pprof_host" yaml:"pprof_host" mapstructure:"pprof_host"`

	DB         DBConfig         `json:"db" yaml:"db" mapstructure:"db"`
	Log        LogConfig        `json:"log" yaml:"log" mapstructure:"log"`
	Session    SessionConfig    `json:"session" yaml:"session" mapstructure:"session"`
	Chat       ChatConfig       `json:"chat" yaml:"chat" mapstructure:"chat"`
	Attachment AttachmentConfig `json:"attachment" yaml:"attachment" mapstructure:"attachment"`
	Push       PushConfig       `json:"push" yaml:"push" mapstructure:"push"`
	Redis      RedisConfig      `json:"redis" yaml:"redis" mapstructure:"redis"`
	Client     ClientConfig     `json:"client" yaml:"client" mapstructure:"client"`
}

type DBConfig struct {
	// postgres or sqlite
	Driver string `json:"driver" yaml:"driver" mapstructure:"driver"`
	DSN    string `json:"dsn" yaml:"dsn" mapstructure:"dsn"`
	Log    bool   `json:"log" yaml:"log" mapstructure:"log"`
}

type LogConfig struct {
	Level      string `json:"level" yaml:"level" mapstructure:"level"`
	Dev        bool   `json:"dev" yaml:"dev" mapstructure:"dev"`
	File       string `json:"file" yaml:"file" mapstructure:"file"`
	MaxSize    int    `json:"max_size" yaml:"max_size" mapstructure:"max_size"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups" mapstructure:"max_backups"`
	MaxAge     int    `json:"max_age" yaml:"max_age" mapstructure:"max_age"`
	Compress   bool   `json:"compress" yaml:"compress" mapstructure:"compress"`
}

type SessionConfig struct {
	Secret string `json:"secret" yaml:"secret" mapstructure:"secret"`
	Cookie string `json:"cookie" yaml:"cookie" mapstructure:"cookie"`
}

type ChatConfig struct {
	Timezone       string   `json:"timezone" yaml:"timezone" mapstructure:"timezone"`
	DefaultLimit   int      `json:"default_limit" yaml:"default_limit" mapstructure:"default_limit"`
	StaffMarker    string   `json:"staff_marker" yaml:"staff_marker" mapstructure:"staff_marker"`
	AdminMarker    string   `json:"admin_marker" yaml:"admin_marker" mapstructure:"admin_marker"`
	ModeratorRoles []string `json:"moderator_roles" yaml:"moderator_roles" mapstructure:"moderator_roles"`
	Path           string   `json:"path" yaml:"path" mapstructure:"path"`
	AdminLogin     string   `json:"admin_login" yaml:"admin_login" mapstructure:"admin_login"`
	StaffLogin     string   `json:"staff_login" yaml:"staff_login" mapstructure:"staff_login"`
	StudentLogin   string   `json:"student_login" yaml:"student_login" mapstructure:"student_login"`
}

type AttachmentConfig struct {
	// Bucket is a gocloud blob URL; Dir is used when it is empty.
	Bucket   string `json:"bucket" yaml:"bucket" mapstructure:"bucket"`
	Dir      string `json:"dir" yaml:"dir" mapstructure:"dir"`
	MaxBytes int64  `json:"max_bytes" yaml:"max_bytes" mapstructure:"max_bytes"`
}

type PushConfig struct {
	Subject         string        `json:"subject" yaml:"subject" mapstructure:"subject"`
	VAPIDPublicKey  string        `json:"vapid_public_key" yaml:"vapid_public_key" mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string        `json:"vapid_private_key" yaml:"vapid_private_key" mapstructure:"vapid_private_key"`
	TTL             int           `json:"ttl" yaml:"ttl" mapstructure:"ttl"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	// inline or redis
	Queue string `json:"queue" yaml:"queue" mapstructure:"queue"`
	URL   string `json:"url" yaml:"url" mapstructure:"url"`
}

type RedisConfig struct {
	Host     string `json:"host" yaml:"host" mapstructure:"host"`
	QueueKey string `json:"queue_key" yaml:"queue_key" mapstructure:"queue_key"`
}

type ClientConfig struct {
	ReadMessageSizeLimit int64    `json:"read_message_size_limit" yaml:"read_message_size_limit" mapstructure:"read_message_size_limit"`
	Compression          bool     `json:"compression" yaml:"compression" mapstructure:"compression"`
	CompressionLevel     int      `json:"compression_level" yaml:"compression_level" mapstructure:"compression_level"`
	ReadBufferSize       int      `json:"read_buffer_size" yaml:"read_buffer_size" mapstructure:"read_buffer_size"`
	WriteBufferSize      int      `json:"write_buffer_size" yaml:"write_buffer_size" mapstructure:"write_buffer_size"`
	SendBuffer           int      `json:"send_buffer" yaml:"send_buffer" mapstructure:"send_buffer"`
	AllowedOrigins       []string `json:"allowed_origins" yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

func setDefaults() {
	viper.SetDefault("host", ":8080")
	viper.SetDefault("pprof_host", "localhost:6060")

	viper.SetDefault("db.driver", "postgres")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 7)
	viper.SetDefault("log.max_age", 30)

	viper.SetDefault("session.cookie", "portal_session")

	viper.SetDefault("chat.default_limit", 50)
	viper.SetDefault("chat.staff_marker", "/staff")
	viper.SetDefault("chat.admin_marker", "/admin")
	viper.SetDefault("chat.path", "/chat")
	viper.SetDefault("chat.admin_login", "/admin/login")
	viper.SetDefault("chat.staff_login", "/staff/login")
	viper.SetDefault("chat.student_login", "/login")

	viper.SetDefault("attachment.dir", "./data/uploads")
	viper.SetDefault("attachment.max_bytes", 10<<20)

	viper.SetDefault("push.subject", "mailto:admin@localhost")
	viper.SetDefault("push.ttl", 3600)
	viper.SetDefault("push.timeout", 30*time.Second)
	viper.SetDefault("push.queue", "inline")
	viper.SetDefault("push.url", "/chat")

	viper.SetDefault("redis.host", "localhost:6379")
	viper.SetDefault("redis.queue_key", "portalchat:push")

	viper.SetDefault("client.read_message_size_limit", 4096)
	viper.SetDefault("client.compression_level", 1)
	viper.SetDefault("client.read_buffer_size", 1024)
	viper.SetDefault("client.write_buffer_size", 1024)
	viper.SetDefault("client.send_buffer", 32)
}
