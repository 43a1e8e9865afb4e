package redshift

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	"github.com/aws/aws-sdk-go-v2/service/redshiftserverless"

	"github.com/ajitpratap0/redtap/pkg/config"
	"github.com/ajitpratap0/redtap/pkg/errors"
)

// iamCredentialSeconds is how long temporary database credentials last.
const iamCredentialSeconds = 3600

// ClusterCredentialsAPI issues temporary credentials for a provisioned
// cluster.
type ClusterCredentialsAPI interface {
	GetClusterCredentials(ctx context.Context, params *redshift.GetClusterCredentialsInput, optFns ...func(*redshift.Options)) (*redshift.GetClusterCredentialsOutput, error)
}

// ServerlessCredentialsAPI issues temporary credentials for a serverless
// workgroup.
type ServerlessCredentialsAPI interface {
	GetCredentials(ctx context.Context, params *redshiftserverless.GetCredentialsInput, optFns ...func(*redshiftserverless.Options)) (*redshiftserverless.GetCredentialsOutput, error)
}

// Credentials is a database login.
type Credentials struct {
	User     string
	Password string
}

// CredentialResolver produces the login for the configured auth method.
type CredentialResolver struct {
	auth       config.AuthConfig
	database   string
	cluster    ClusterCredentialsAPI
	serverless ServerlessCredentialsAPI
}

// NewCredentialResolver creates a resolver. The AWS clients are only used
// for IAM authentication and may be nil otherwise.
func NewCredentialResolver(auth config.AuthConfig, database string, awsCfg *aws.Config) *CredentialResolver {
	r := &CredentialResolver{auth: auth, database: database}
	if awsCfg != nil {
		r.cluster = redshift.NewFromConfig(*awsCfg)
		r.serverless = redshiftserverless.NewFromConfig(*awsCfg)
	}
	return r
}

// Resolve returns the login to connect with.
func (r *CredentialResolver) Resolve(ctx context.Context) (Credentials, error) {
	if r.auth.AuthMethod() != config.AuthIAM {
		return Credentials{User: r.auth.User, Password: r.auth.Password}, nil
	}

	if r.auth.WorkgroupName != "" {
		return r.serverlessCredentials(ctx)
	}
	return r.clusterCredentials(ctx)
}

func (r *CredentialResolver) clusterCredentials(ctx context.Context) (Credentials, error) {
	if r.cluster == nil {
		return Credentials{}, errors.New(errors.ErrorTypeAuthentication, "no AWS configuration for IAM authentication")
	}
	out, err := r.cluster.GetClusterCredentials(ctx, &redshift.GetClusterCredentialsInput{
		DbUser:            aws.String(r.auth.IAMUser()),
		DbName:            aws.String(r.database),
		ClusterIdentifier: aws.String(r.auth.ClusterIdentifier),
		DurationSeconds:   aws.Int32(iamCredentialSeconds),
		AutoCreate:        aws.Bool(false),
	})
	if err != nil {
		return Credentials{}, errors.Wrap(err, errors.ErrorTypeAuthentication, "failed to get cluster credentials").
			WithDetail("cluster_identifier", r.auth.ClusterIdentifier)
	}
	return Credentials{User: aws.ToString(out.DbUser), Password: aws.ToString(out.DbPassword)}, nil
}

func (r *CredentialResolver) serverlessCredentials(ctx context.Context) (Credentials, error) {
	if r.serverless == nil {
		return Credentials{}, errors.New(errors.ErrorTypeAuthentication, "no AWS configuration for IAM authentication")
	}
	out, err := r.serverless.GetCredentials(ctx, &redshiftserverless.GetCredentialsInput{
		WorkgroupName:   aws.String(r.auth.WorkgroupName),
		DbName:          aws.String(r.database),
		DurationSeconds: aws.Int32(iamCredentialSeconds),
	})
	if err != nil {
		return Credentials{}, errors.Wrap(err, errors.ErrorTypeAuthentication, "failed to get workgroup credentials").
			WithDetail("workgroup_name", r.auth.WorkgroupName)
	}
	return Credentials{User: aws.ToString(out.DbUser), Password: aws.ToString(out.DbPassword)}, nil
}
