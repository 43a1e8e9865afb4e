package redshift

import (
	"context"
	stderrors "errors"
	"net/url"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	"github.com/aws/aws-sdk-go-v2/service/redshiftserverless"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/redtap/pkg/catalog"
	"github.com/ajitpratap0/redtap/pkg/config"
	"github.com/ajitpratap0/redtap/pkg/errors"
	"github.com/ajitpratap0/redtap/pkg/json"
	"github.com/ajitpratap0/redtap/pkg/schema"
)

func TestBuildDSN(t *testing.T) {
	dsn := BuildDSN(config.ConnectionConfig{
		Host:           "cluster.abc.eu-west-1.redshift.amazonaws.com",
		Database:       "dev",
		ConnectTimeout: 30 * time.Second,
	}, Credentials{User: "loader", Password: "p@ss/word"})

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "cluster.abc.eu-west-1.redshift.amazonaws.com:5439", u.Host)
	assert.Equal(t, "/dev", u.Path)
	assert.Equal(t, "loader", u.User.Username())
	pass, _ := u.User.Password()
	assert.Equal(t, "p@ss/word", pass)
	assert.Equal(t, "require", u.Query().Get("sslmode"))
	assert.Equal(t, "30", u.Query().Get("connect_timeout"))
}

func TestClassify(t *testing.T) {
	auth := classify(&pgconn.PgError{Code: "28P01", Message: "password authentication failed"}, "connect")
	assert.True(t, errors.IsType(auth, errors.ErrorTypeAuthentication))
	assert.True(t, errors.IsFatal(auth))

	other := classify(stderrors.New("dial tcp: i/o timeout"), "connect")
	assert.True(t, errors.IsType(other, errors.ErrorTypeConnection))
}

type fakeCluster struct {
	in  *redshift.GetClusterCredentialsInput
	err error
}

func (f *fakeCluster) GetClusterCredentials(_ context.Context, in *redshift.GetClusterCredentialsInput, _ ...func(*redshift.Options)) (*redshift.GetClusterCredentialsOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &redshift.GetClusterCredentialsOutput{DbUser: aws.String("IAM:loader"), DbPassword: aws.String("temp")}, nil
}

type fakeServerless struct {
	in *redshiftserverless.GetCredentialsInput
}

func (f *fakeServerless) GetCredentials(_ context.Context, in *redshiftserverless.GetCredentialsInput, _ ...func(*redshiftserverless.Options)) (*redshiftserverless.GetCredentialsOutput, error) {
	f.in = in
	return &redshiftserverless.GetCredentialsOutput{DbUser: aws.String("IAMR:role"), DbPassword: aws.String("temp2")}, nil
}

func TestCredentialResolver(t *testing.T) {
	ctx := context.Background()

	t.Run("password", func(t *testing.T) {
		r := NewCredentialResolver(config.AuthConfig{User: "u", Password: "p"}, "dev", nil)
		creds, err := r.Resolve(ctx)
		require.NoError(t, err)
		assert.Equal(t, Credentials{User: "u", Password: "p"}, creds)
	})

	t.Run("cluster", func(t *testing.T) {
		cluster := &fakeCluster{}
		r := &CredentialResolver{
			auth:     config.AuthConfig{Method: config.AuthIAM, DBUser: "loader", ClusterIdentifier: "prod"},
			database: "dev",
			cluster:  cluster,
		}
		creds, err := r.Resolve(ctx)
		require.NoError(t, err)
		assert.Equal(t, Credentials{User: "IAM:loader", Password: "temp"}, creds)
		assert.Equal(t, "loader", aws.ToString(cluster.in.DbUser))
		assert.Equal(t, "prod", aws.ToString(cluster.in.ClusterIdentifier))
		assert.Equal(t, int32(3600), aws.ToInt32(cluster.in.DurationSeconds))
		assert.False(t, aws.ToBool(cluster.in.AutoCreate))
	})

	t.Run("legacy flag uses user as db user", func(t *testing.T) {
		cluster := &fakeCluster{}
		r := &CredentialResolver{
			auth:     config.AuthConfig{UseIAMAuthentication: true, User: "etl", ClusterIdentifier: "prod"},
			database: "dev",
			cluster:  cluster,
		}
		_, err := r.Resolve(ctx)
		require.NoError(t, err)
		assert.Equal(t, "etl", aws.ToString(cluster.in.DbUser))
	})

	t.Run("serverless", func(t *testing.T) {
		sl := &fakeServerless{}
		r := &CredentialResolver{
			auth:       config.AuthConfig{Method: config.AuthIAM, WorkgroupName: "analytics"},
			database:   "dev",
			serverless: sl,
		}
		creds, err := r.Resolve(ctx)
		require.NoError(t, err)
		assert.Equal(t, "IAMR:role", creds.User)
		assert.Equal(t, "analytics", aws.ToString(sl.in.WorkgroupName))
	})

	t.Run("denied", func(t *testing.T) {
		r := &CredentialResolver{
			auth:     config.AuthConfig{Method: config.AuthIAM, DBUser: "loader", ClusterIdentifier: "prod"},
			database: "dev",
			cluster:  &fakeCluster{err: stderrors.New("AccessDenied")},
		}
		_, err := r.Resolve(ctx)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
	})
}

func i32(v int32) *int32 { return &v }

func TestBuildCatalog(t *testing.T) {
	cols := []columnRow{
		{Schema: "public", Table: "orders", Column: "id", DataType: "integer", Precision: i32(32), Scale: i32(0), Nullable: "NO", TableType: "BASE TABLE"},
		{Schema: "public", Table: "orders", Column: "amount", DataType: "numeric", Precision: i32(10), Scale: i32(2), Nullable: "YES", TableType: "BASE TABLE"},
		{Schema: "public", Table: "orders", Column: "note", DataType: "character varying", Length: i32(255), Nullable: "YES", TableType: "BASE TABLE"},
		{Schema: "public", Table: "shapes", Column: "id", DataType: "integer", Nullable: "NO", TableType: "BASE TABLE"},
		{Schema: "public", Table: "shapes", Column: "weird", DataType: "interval", Nullable: "YES", TableType: "BASE TABLE"},
		{Schema: "sales", Table: "daily", Column: "day", DataType: "date", Nullable: "NO", TableType: "VIEW"},
	}
	keys := map[string][]string{"public-orders": {"id"}}

	cat, skipped := buildCatalog(cols, keys, schema.NewConverter(schema.Options{}))
	require.Len(t, skipped, 1)
	assert.True(t, errors.IsType(skipped[0], errors.ErrorTypeTypeConversion))
	assert.Contains(t, skipped[0].Error(), "public-shapes")

	require.Len(t, cat.Streams, 2)
	orders := cat.Streams[0]
	assert.Equal(t, "public-orders", orders.TapStreamID)
	assert.Equal(t, []string{"id"}, orders.KeyProperties)
	assert.Equal(t, catalog.FullTable, orders.ReplicationMethod)
	assert.False(t, orders.Selected)
	assert.False(t, orders.IsView)
	assert.Equal(t, schema.TypeDescriptor{Name: "integer"}, orders.Columns[0].Type)
	assert.Equal(t, schema.TypeDescriptor{Name: "numeric", Precision: 10, Scale: 2}, orders.Columns[1].Type)
	assert.Equal(t, 255, orders.Columns[2].Type.Length)

	var doc map[string]interface{}
	require.NoError(t, json.UnmarshalNumber(orders.Schema, &doc))
	props := doc["properties"].(map[string]interface{})
	amount := props["amount"].(map[string]interface{})
	assert.Equal(t, []interface{}{"null", "number"}, amount["type"])
	assert.Equal(t, "0.01", amount["multipleOf"].(json.Number).String())

	daily := cat.Streams[1]
	assert.Equal(t, "sales-daily", daily.TapStreamID)
	assert.True(t, daily.IsView)
	assert.Empty(t, daily.KeyProperties)
}

func TestExecHandle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &execHandle{cancel: cancel, done: make(chan struct{})}
	go func() {
		<-ctx.Done()
		h.mu.Lock()
		h.err = ctx.Err()
		h.mu.Unlock()
		close(h.done)
	}()

	done, err := h.Poll(context.Background())
	assert.False(t, done)
	assert.NoError(t, err)

	require.NoError(t, h.Cancel(context.Background()))
	done, err = h.Poll(context.Background())
	assert.True(t, done)
	assert.ErrorIs(t, err, context.Canceled)
}
