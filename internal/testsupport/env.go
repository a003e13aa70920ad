package testsupport

import (
	"fmt"
	"os"
	"testing"

	"costwatch/internal/adapters/config"
)

// PostgresConfigFromEnv reads connection settings for Postgres integration tests.
// The test is skipped when POSTGRES_HOST is not set.
func PostgresConfigFromEnv(t *testing.T) config.PostgresConfig {
	t.Helper()
	skipUnlessSet(t, "POSTGRES_HOST")

	return config.PostgresConfig{
		Host:     os.Getenv("POSTGRES_HOST"),
		Port:     intValue("POSTGRES_PORT", 5432),
		User:     valueWithDefault("POSTGRES_USER", "costwatch"),
		Password: os.Getenv("POSTGRES_PASSWORD"),
		Database: valueWithDefault("POSTGRES_DB", "costwatch_test"),
		SSLMode:  valueWithDefault("POSTGRES_SSL_MODE", "disable"),
		MaxConns: 5,
	}
}

// ClickHouseConfigFromEnv reads connection settings for ClickHouse integration tests.
// The test is skipped when CLICKHOUSE_HOST is not set.
func ClickHouseConfigFromEnv(t *testing.T) config.ClickHouseConfig {
	t.Helper()
	skipUnlessSet(t, "CLICKHOUSE_HOST")

	return config.ClickHouseConfig{
		Host:     os.Getenv("CLICKHOUSE_HOST"),
		Port:     intValue("CLICKHOUSE_PORT", 9000),
		User:     valueWithDefault("CLICKHOUSE_USER", "default"),
		Password: os.Getenv("CLICKHOUSE_PASSWORD"),
		Database: valueWithDefault("CLICKHOUSE_DB", "default"),
	}
}

func skipUnlessSet(t *testing.T, keys ...string) {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	missing := make([]string, 0)
	for _, key := range keys {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		t.Skipf("integration environment missing, set %v to run", missing)
	}
}

func valueWithDefault(key string, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func intValue(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		_, err := fmt.Sscanf(val, "%d", &parsed)
		if err == nil {
			return parsed
		}
	}

	return fallback
}
