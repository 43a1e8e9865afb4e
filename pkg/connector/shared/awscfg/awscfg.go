// Package awscfg resolves the AWS configuration shared by the object store
// and IAM database authentication.
package awscfg

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/ajitpratap0/redtap/pkg/config"
	"github.com/ajitpratap0/redtap/pkg/errors"
)

// Load resolves region and credentials. Explicit keys win over the named
// profile, which wins over the default chain.
func Load(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, errors.Wrap(err, errors.ErrorTypeAuthentication, "failed to load AWS configuration").
			WithDetail("profile", cfg.Profile)
	}
	return awsCfg, nil
}
