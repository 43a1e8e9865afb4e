package config

import (
	"fmt"
	"strings"
	"time"
)

// Authentication methods
const (
	AuthPassword = "password"
	AuthIAM      = "iam"
)

// Output kinds
const (
	OutputStdout = "stdout"
	OutputKafka  = "kafka"
)

// Unload file formats and compressions
const (
	FormatText    = "text"
	FormatParquet = "parquet"

	CompressionGzip  = "gzip"
	CompressionZstd  = "zstd"
	CompressionBzip2 = "bzip2"
	CompressionNone  = "none"
)

// Config is the single configuration structure for a discovery or sync run.
type Config struct {
	Connection       ConnectionConfig       `mapstructure:",squash"`
	Auth             AuthConfig             `mapstructure:",squash"`
	Staging          StagingConfig          `mapstructure:",squash"`
	SchemaConversion SchemaConversionConfig `mapstructure:",squash"`
	Extraction       ExtractionConfig       `mapstructure:",squash"`
	Observability    ObservabilityConfig    `mapstructure:",squash"`
	Output           OutputConfig           `mapstructure:",squash"`
}

// ConnectionConfig identifies the warehouse endpoint.
type ConnectionConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	// Schemas restricts discovery; empty means every non-system schema
	Schemas []string `mapstructure:"schemas"`
	// SSLMode is passed through to the driver (require, prefer, allow, disable)
	SSLMode string `mapstructure:"sslmode"`
	// ConnectRetries bounds attempts on transient connection failures
	ConnectRetries int           `mapstructure:"connect_retries"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// AuthConfig selects between static credentials and IAM temporary credentials.
type AuthConfig struct {
	Method string `mapstructure:"auth_method"`
	// UseIAMAuthentication is the legacy boolean spelling of Method=iam
	UseIAMAuthentication bool   `mapstructure:"use_iam_authentication"`
	User                 string `mapstructure:"user"`
	Password             string `mapstructure:"password"`
	// DBUser is the database user requested for IAM credentials; defaults to User
	DBUser            string    `mapstructure:"db_user"`
	ClusterIdentifier string    `mapstructure:"cluster_identifier"`
	WorkgroupName     string    `mapstructure:"workgroup_name"`
	AWS               AWSConfig `mapstructure:",squash"`
}

// AWSConfig holds AWS credential resolution settings shared by IAM auth and S3.
type AWSConfig struct {
	Region          string `mapstructure:"aws_region"`
	Profile         string `mapstructure:"aws_profile"`
	AccessKeyID     string `mapstructure:"aws_access_key_id"`
	SecretAccessKey string `mapstructure:"aws_secret_access_key"`
	SessionToken    string `mapstructure:"aws_session_token"`
}

// StagingConfig is the object storage location used by bulk export.
type StagingConfig struct {
	Bucket      string `mapstructure:"s3_bucket"`
	KeyPrefix   string `mapstructure:"s3_key_prefix"`
	RoleARN     string `mapstructure:"copy_role_arn"`
	Format      string `mapstructure:"unload_format"`
	Compression string `mapstructure:"unload_compression"`
}

// SchemaConversionConfig controls the portable schema produced for columns.
type SchemaConversionConfig struct {
	DatesAsString bool `mapstructure:"dates_as_string"`
	SuperAsObject bool `mapstructure:"super_as_object"`
}

// ExtractionConfig controls scheduling, checkpointing and export waits.
type ExtractionConfig struct {
	StreamParallelism   int           `mapstructure:"stream_parallelism"`
	CheckpointInterval  int           `mapstructure:"state_checkpoint_interval"`
	FailFast            bool          `mapstructure:"fail_fast"`
	ExportTimeout       time.Duration `mapstructure:"export_timeout"`
	PollInitial         time.Duration `mapstructure:"export_poll_initial"`
	PollMax             time.Duration `mapstructure:"export_poll_max"`
	DownloadConcurrency int           `mapstructure:"download_concurrency"`
	CleanupTimeout      time.Duration `mapstructure:"cleanup_timeout"`
}

// ObservabilityConfig contains logging, metrics and tracing settings.
type ObservabilityConfig struct {
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	Tracing     bool   `mapstructure:"tracing"`
}

// OutputConfig selects the message sink and the persisted state file.
type OutputConfig struct {
	Kind         string   `mapstructure:"output"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
	StateOutput  string   `mapstructure:"state_output"`
}

// Default returns a Config with production defaults applied.
func Default() *Config {
	return &Config{
		Connection: ConnectionConfig{
			Port:           5439,
			SSLMode:        "require",
			ConnectRetries: 3,
			ConnectTimeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			Method: AuthPassword,
			AWS: AWSConfig{
				Region: "eu-west-1",
			},
		},
		Staging: StagingConfig{
			Format:      FormatText,
			Compression: CompressionGzip,
		},
		SchemaConversion: SchemaConversionConfig{
			DatesAsString: false,
			SuperAsObject: true,
		},
		Extraction: ExtractionConfig{
			StreamParallelism:   4,
			CheckpointInterval:  10000,
			ExportTimeout:       time.Hour,
			PollInitial:         time.Second,
			PollMax:             30 * time.Second,
			DownloadConcurrency: 4,
			CleanupTimeout:      2 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
		Output: OutputConfig{
			Kind: OutputStdout,
		},
	}
}

// AuthMethod resolves the effective authentication method.
func (a *AuthConfig) AuthMethod() string {
	if a.UseIAMAuthentication {
		return AuthIAM
	}
	if a.Method == "" {
		return AuthPassword
	}
	return strings.ToLower(a.Method)
}

// IAMUser returns the database user to request IAM credentials for.
func (a *AuthConfig) IAMUser() string {
	if a.DBUser != "" {
		return a.DBUser
	}
	return a.User
}

// Configured reports whether a staging bucket and prefix are both set.
func (s *StagingConfig) Configured() bool {
	return strings.TrimSpace(s.Bucket) != "" && strings.TrimSpace(s.KeyPrefix) != ""
}

// Validate checks required keys and enumerated values.
func (c *Config) Validate() error {
	if c.Connection.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Connection.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Connection.Port <= 0 || c.Connection.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}

	switch c.Auth.AuthMethod() {
	case AuthPassword:
		if c.Auth.User == "" {
			return fmt.Errorf("user is required for password authentication")
		}
	case AuthIAM:
		if c.Auth.ClusterIdentifier == "" && c.Auth.WorkgroupName == "" {
			return fmt.Errorf("iam authentication requires cluster_identifier or workgroup_name")
		}
		if c.Auth.ClusterIdentifier != "" && c.Auth.IAMUser() == "" {
			return fmt.Errorf("iam authentication against a cluster requires db_user or user")
		}
		if c.Auth.AWS.Region == "" {
			return fmt.Errorf("aws_region is required for iam authentication")
		}
	default:
		return fmt.Errorf("auth_method must be one of: password, iam")
	}

	switch c.Staging.Format {
	case FormatText, FormatParquet:
	default:
		return fmt.Errorf("unload_format must be one of: text, parquet")
	}
	switch c.Staging.Compression {
	case CompressionGzip, CompressionZstd, CompressionBzip2, CompressionNone:
	default:
		return fmt.Errorf("unload_compression must be one of: gzip, zstd, bzip2, none")
	}

	if c.Extraction.StreamParallelism <= 0 {
		return fmt.Errorf("stream_parallelism must be positive")
	}
	if c.Extraction.CheckpointInterval < 0 {
		return fmt.Errorf("state_checkpoint_interval cannot be negative")
	}
	if c.Extraction.DownloadConcurrency <= 0 {
		return fmt.Errorf("download_concurrency must be positive")
	}
	if c.Extraction.ExportTimeout <= 0 {
		return fmt.Errorf("export_timeout must be positive")
	}
	if c.Extraction.PollInitial <= 0 || c.Extraction.PollMax < c.Extraction.PollInitial {
		return fmt.Errorf("export_poll_initial must be positive and not exceed export_poll_max")
	}

	switch c.Output.Kind {
	case OutputStdout:
	case OutputKafka:
		if len(c.Output.KafkaBrokers) == 0 || c.Output.KafkaTopic == "" {
			return fmt.Errorf("kafka output requires kafka_brokers and kafka_topic")
		}
	default:
		return fmt.Errorf("output must be one of: stdout, kafka")
	}

	return nil
}
