package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Connection.Host = "example.redshift.amazonaws.com"
	cfg.Connection.Database = "dev"
	cfg.Auth.User = "loader"
	cfg.Auth.Password = "secret"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 5439, cfg.Connection.Port)
	assert.Equal(t, "require", cfg.Connection.SSLMode)
	assert.Equal(t, "eu-west-1", cfg.Auth.AWS.Region)
	assert.False(t, cfg.SchemaConversion.DatesAsString)
	assert.True(t, cfg.SchemaConversion.SuperAsObject)
	assert.Equal(t, 10000, cfg.Extraction.CheckpointInterval)
	assert.Equal(t, time.Hour, cfg.Extraction.ExportTimeout)
	assert.False(t, cfg.Staging.Configured())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid password auth", func(*Config) {}, ""},
		{"missing host", func(c *Config) { c.Connection.Host = "" }, "host is required"},
		{"missing database", func(c *Config) { c.Connection.Database = "" }, "database is required"},
		{"bad port", func(c *Config) { c.Connection.Port = 70000 }, "port must be"},
		{"password auth without user", func(c *Config) { c.Auth.User = "" }, "user is required"},
		{"unknown auth method", func(c *Config) { c.Auth.Method = "kerberos" }, "auth_method must be"},
		{"iam without identity", func(c *Config) { c.Auth.Method = AuthIAM }, "cluster_identifier or workgroup_name"},
		{"iam with cluster", func(c *Config) {
			c.Auth.Method = AuthIAM
			c.Auth.ClusterIdentifier = "analytics"
		}, ""},
		{"iam with cluster and no user", func(c *Config) {
			c.Auth.UseIAMAuthentication = true
			c.Auth.ClusterIdentifier = "analytics"
			c.Auth.User = ""
		}, "requires db_user or user"},
		{"iam with workgroup", func(c *Config) {
			c.Auth.Method = AuthIAM
			c.Auth.WorkgroupName = "default"
			c.Auth.User = ""
		}, ""},
		{"bad unload format", func(c *Config) { c.Staging.Format = "csv" }, "unload_format"},
		{"bad compression", func(c *Config) { c.Staging.Compression = "lz4" }, "unload_compression"},
		{"zero parallelism", func(c *Config) { c.Extraction.StreamParallelism = 0 }, "stream_parallelism"},
		{"poll bounds inverted", func(c *Config) { c.Extraction.PollMax = time.Millisecond }, "export_poll_initial"},
		{"kafka without topic", func(c *Config) {
			c.Output.Kind = OutputKafka
			c.Output.KafkaBrokers = []string{"localhost:9092"}
		}, "kafka_brokers and kafka_topic"},
		{"unknown output", func(c *Config) { c.Output.Kind = "file" }, "output must be"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAuthMethod(t *testing.T) {
	a := AuthConfig{}
	assert.Equal(t, AuthPassword, a.AuthMethod())

	a.Method = "IAM"
	assert.Equal(t, AuthIAM, a.AuthMethod())

	legacy := AuthConfig{Method: AuthPassword, UseIAMAuthentication: true}
	assert.Equal(t, AuthIAM, legacy.AuthMethod())

	u := AuthConfig{User: "loader"}
	assert.Equal(t, "loader", u.IAMUser())
	u.DBUser = "etl"
	assert.Equal(t, "etl", u.IAMUser())
}

func TestLoad_JSONWithEnvSubstitution(t *testing.T) {
	t.Setenv("REDTAP_TEST_PASSWORD", "from-env")

	path := filepath.Join(t.TempDir(), "tap.json")
	content := `{
		"host": "example.redshift.amazonaws.com",
		"database": "dev",
		"username": "loader",
		"password": "${REDTAP_TEST_PASSWORD}",
		"schemas": ["public", "sales"],
		"s3_bucket": "staging",
		"s3_key_prefix": "unload",
		"unload_compression": "ZSTD",
		"export_timeout": "15m",
		"dates_as_string": true
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "loader", cfg.Auth.User)
	assert.Equal(t, "from-env", cfg.Auth.Password)
	assert.Equal(t, []string{"public", "sales"}, cfg.Connection.Schemas)
	assert.Equal(t, CompressionZstd, cfg.Staging.Compression)
	assert.Equal(t, 15*time.Minute, cfg.Extraction.ExportTimeout)
	assert.True(t, cfg.SchemaConversion.DatesAsString)
	assert.True(t, cfg.SchemaConversion.SuperAsObject)
	assert.Equal(t, 5439, cfg.Connection.Port)
	assert.True(t, cfg.Staging.Configured())
}

func TestLoad_YAMLWithEnvOverride(t *testing.T) {
	t.Setenv("REDTAP_STREAM_PARALLELISM", "8")
	t.Setenv("REDTAP_PORT", "5440")

	path := filepath.Join(t.TempDir(), "tap.yml")
	content := "host: example.redshift.amazonaws.com\ndatabase: dev\nuser: loader\nstream_parallelism: 2\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Extraction.StreamParallelism)
	assert.Equal(t, 5440, cfg.Connection.Port)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := LoadBytes([]byte(`{"host": "h"}`), "json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is required")

	_, err = LoadBytes([]byte(`{not json`), "json")
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("REDTAP_A", "x")
	assert.Equal(t, "x-${unterminated", substituteEnvVars("${REDTAP_A}-${unterminated"))
	assert.Equal(t, "plain", substituteEnvVars("plain"))
	assert.Equal(t, "[]", substituteEnvVars("[${REDTAP_UNSET_VAR}]"))
}
