package db

import (
	"testing"

	"backend-fieldtrack/internal/config"
)

func TestConnectRedisNilWithoutAddr(t *testing.T) {
	if c := ConnectRedis(config.Config{}); c != nil {
		t.Fatalf("expected nil client without address")
	}
}

func TestConnectRedisWithAddr(t *testing.T) {
	c := ConnectRedis(config.Config{RedisAddr: "localhost:6379"})
	if c == nil {
		t.Fatalf("expected client")
	}
	_ = c.Close()
}

func TestConnectPostgresBadURL(t *testing.T) {
	if _, err := ConnectPostgres(config.Config{PostgresURL: "://bad"}); err == nil {
		t.Fatalf("expected error for invalid url")
	}
}
