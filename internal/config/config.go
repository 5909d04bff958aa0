package config

import "time"

type Config struct {
	ServerPort    int
	DatabaseURL   string
	JWTSecret     string
	TokenTTL      time.Duration
	UploadDir     string
	MaxUploadSize int64
	HeartbeatTTL  time.Duration
	ReapInterval  time.Duration
	SMTPFrom      string
	SMTPPass      string
}
