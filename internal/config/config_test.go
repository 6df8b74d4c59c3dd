package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "POSTGRES_URL", "PGDATABASE_URL", "PGHOST", "REDIS_URL", "REDISCLOUD_URL", "REDISHOST", "KAFKA_BROKERS", "SFTP_HOST", "IPV_GROUP_PICKING", "IPV_VIEW_CACHE_TTL"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.StorageMode != "postgres" || cfg.SequencePrefix != "IPV/" || !cfg.GroupPicking {
		t.Errorf("ipv defaults = %+v", cfg)
	}
	if cfg.ViewCacheTTLSec != 30 || cfg.SFTPPort != 22 {
		t.Errorf("ttl = %d, sftp port = %d", cfg.ViewCacheTTLSec, cfg.SFTPPort)
	}
	if cfg.KafkaEnabled() || cfg.SFTPEnabled() || cfg.RedisURL != "" {
		t.Errorf("optional integrations enabled by default")
	}
}

func TestLoadFromParts(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRES_URL", "")
	t.Setenv("PGDATABASE_URL", "")
	t.Setenv("PGHOST", "db")
	t.Setenv("PGPORT", "")
	t.Setenv("PGUSER", "ipv")
	t.Setenv("PGPASSWORD", "pw")
	t.Setenv("PGDATABASE", "turns")
	t.Setenv("REDIS_URL", "")
	t.Setenv("REDISCLOUD_URL", "")
	t.Setenv("REDISHOST", "cache")
	t.Setenv("REDISPASSWORD", "")
	t.Setenv("REDISPORT", "")
	t.Setenv("REDISDB", "")
	t.Setenv("REDIS_SENTINEL_ADDRS", " s1:26379, ,s2:26379")
	t.Setenv("IPV_GROUP_PICKING", "false")
	t.Setenv("IPV_VIEW_CACHE_TTL", "oops")

	cfg := Load()
	if cfg.DatabaseURL != "postgres://ipv:pw@db:5432/turns?sslmode=disable" {
		t.Errorf("database url = %s", cfg.DatabaseURL)
	}
	if cfg.RedisURL != "redis://cache:6379/0" {
		t.Errorf("redis url = %s", cfg.RedisURL)
	}
	if len(cfg.RedisSentinelAddrs) != 2 || cfg.RedisSentinelAddrs[1] != "s2:26379" {
		t.Errorf("sentinels = %v", cfg.RedisSentinelAddrs)
	}
	if cfg.GroupPicking || cfg.ViewCacheTTLSec != 30 {
		t.Errorf("group picking = %v, ttl = %d", cfg.GroupPicking, cfg.ViewCacheTTLSec)
	}
}
