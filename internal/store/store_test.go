package store

import (
	"testing"
	"time"
)

func TestPostgresDSN(t *testing.T) {
	cfg := PostgresConfig{
		Host:     "db.internal",
		Port:     5433,
		Database: "threatflow",
		Username: "tf",
		Password: "s3cret",
		SSLMode:  "require",
	}
	want := "host=db.internal port=5433 dbname=threatflow user=tf password=s3cret sslmode=require"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestDefaultConfigs(t *testing.T) {
	pg := DefaultPostgresConfig()
	if pg.Port != 5432 || pg.MaxOpenConns == 0 {
		t.Errorf("unexpected postgres defaults: %+v", pg)
	}
	rd := DefaultRedisConfig()
	if rd.Addr == "" || rd.TTL <= 0 {
		t.Errorf("unexpected redis defaults: %+v", rd)
	}
}

func TestNullHelpers(t *testing.T) {
	if nullString("").Valid {
		t.Error("empty string must map to NULL")
	}
	if !nullString("x").Valid {
		t.Error("non-empty string must be valid")
	}
	if nullTime(nil).Valid {
		t.Error("nil time must map to NULL")
	}
	now := time.Now()
	if got := nullTime(&now); !got.Valid || !got.Time.Equal(now) {
		t.Error("non-nil time must round-trip")
	}
}
