package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. REDTAP_PASSWORD.
const EnvPrefix = "REDTAP"

// Load reads a JSON, YAML or TOML config file, substitutes ${VAR}
// references, applies REDTAP_* environment overrides and defaults,
// and validates the result.
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filePath)), ".")
	if ext == "" || ext == "yml" {
		ext = "yaml"
	}

	return LoadBytes([]byte(substituteEnvVars(string(data))), ext)
}

// LoadBytes parses config content of the given viper type (json, yaml, toml).
func LoadBytes(data []byte, configType string) (*Config, error) {
	v := newViper()
	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to parse %s config: %w", configType, err)
	}
	// registered after reading so a file using the alias moves onto the real key
	v.RegisterAlias("username", "user")

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Staging.Format = strings.ToLower(cfg.Staging.Format)
	cfg.Staging.Compression = strings.ToLower(cfg.Staging.Compression)
	cfg.Output.Kind = strings.ToLower(cfg.Output.Kind)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("host", d.Connection.Host)
	v.SetDefault("port", d.Connection.Port)
	v.SetDefault("database", d.Connection.Database)
	v.SetDefault("schemas", d.Connection.Schemas)
	v.SetDefault("sslmode", d.Connection.SSLMode)
	v.SetDefault("connect_retries", d.Connection.ConnectRetries)
	v.SetDefault("connect_timeout", d.Connection.ConnectTimeout)
	v.SetDefault("auth_method", d.Auth.Method)
	v.SetDefault("use_iam_authentication", d.Auth.UseIAMAuthentication)
	v.SetDefault("user", d.Auth.User)
	v.SetDefault("password", d.Auth.Password)
	v.SetDefault("db_user", d.Auth.DBUser)
	v.SetDefault("cluster_identifier", d.Auth.ClusterIdentifier)
	v.SetDefault("workgroup_name", d.Auth.WorkgroupName)
	v.SetDefault("aws_region", d.Auth.AWS.Region)
	v.SetDefault("aws_profile", d.Auth.AWS.Profile)
	v.SetDefault("aws_access_key_id", d.Auth.AWS.AccessKeyID)
	v.SetDefault("aws_secret_access_key", d.Auth.AWS.SecretAccessKey)
	v.SetDefault("aws_session_token", d.Auth.AWS.SessionToken)
	v.SetDefault("s3_bucket", d.Staging.Bucket)
	v.SetDefault("s3_key_prefix", d.Staging.KeyPrefix)
	v.SetDefault("copy_role_arn", d.Staging.RoleARN)
	v.SetDefault("unload_format", d.Staging.Format)
	v.SetDefault("unload_compression", d.Staging.Compression)
	v.SetDefault("dates_as_string", d.SchemaConversion.DatesAsString)
	v.SetDefault("super_as_object", d.SchemaConversion.SuperAsObject)
	v.SetDefault("stream_parallelism", d.Extraction.StreamParallelism)
	v.SetDefault("state_checkpoint_interval", d.Extraction.CheckpointInterval)
	v.SetDefault("fail_fast", d.Extraction.FailFast)
	v.SetDefault("export_timeout", d.Extraction.ExportTimeout)
	v.SetDefault("export_poll_initial", d.Extraction.PollInitial)
	v.SetDefault("export_poll_max", d.Extraction.PollMax)
	v.SetDefault("download_concurrency", d.Extraction.DownloadConcurrency)
	v.SetDefault("cleanup_timeout", d.Extraction.CleanupTimeout)
	v.SetDefault("log_level", d.Observability.LogLevel)
	v.SetDefault("log_format", d.Observability.LogFormat)
	v.SetDefault("metrics_addr", d.Observability.MetricsAddr)
	v.SetDefault("tracing", d.Observability.Tracing)
	v.SetDefault("output", d.Output.Kind)
	v.SetDefault("kafka_brokers", d.Output.KafkaBrokers)
	v.SetDefault("kafka_topic", d.Output.KafkaTopic)
	v.SetDefault("state_output", d.Output.StateOutput)

	return v
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		b.WriteString(content[:start])
		b.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}
