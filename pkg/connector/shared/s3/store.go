// Package s3 adapts Amazon S3 to the staging store bulk exports use.
package s3

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/ajitpratap0/redtap/pkg/errors"
	"github.com/ajitpratap0/redtap/pkg/extract/unload"
	"github.com/ajitpratap0/redtap/pkg/logger"
	"github.com/ajitpratap0/redtap/pkg/retry"
)

const (
	// deleteBatchSize is the DeleteObjects request limit
	deleteBatchSize    = 1000
	defaultPartSize    = 16 * 1024 * 1024
	defaultConcurrency = 4
)

// API is the subset of the S3 client the store calls.
type API interface {
	s3.ListObjectsV2APIClient
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Downloader fetches one object into a WriterAt, as *manager.Downloader
// does.
type Downloader interface {
	Download(ctx context.Context, w io.WriterAt, input *s3.GetObjectInput, options ...func(*manager.Downloader)) (int64, error)
}

// Store implements unload.ObjectStore.
type Store struct {
	api        API
	downloader Downloader
	retry      *retry.RetryPolicy
	logger     *zap.Logger
}

var _ unload.ObjectStore = (*Store)(nil)

// NewStore creates a store from an AWS configuration. Each object is fetched
// with up to concurrency ranged GETs.
func NewStore(cfg aws.Config, concurrency int, l *zap.Logger) *Store {
	client := s3.NewFromConfig(cfg)
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	downloader := manager.NewDownloader(client, func(d *manager.Downloader) {
		d.PartSize = defaultPartSize
		d.Concurrency = concurrency
	})
	return NewStoreWithClients(client, downloader, l)
}

// NewStoreWithClients creates a store over existing clients.
func NewStoreWithClients(api API, downloader Downloader, l *zap.Logger) *Store {
	return &Store{
		api:        api,
		downloader: downloader,
		retry:      retry.DefaultRetryPolicy(),
		logger:     logger.OrDefault(l),
	}
}

// List implements unload.ObjectStore.
func (s *Store) List(ctx context.Context, bucket, prefix string) ([]unload.Object, error) {
	var objects []unload.Object
	p := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to list objects").
				WithDetail("bucket", bucket).
				WithDetail("prefix", prefix)
		}
		for _, o := range page.Contents {
			objects = append(objects, unload.Object{
				Key:  aws.ToString(o.Key),
				Size: aws.ToInt64(o.Size),
			})
		}
	}
	return objects, nil
}

// Download implements unload.ObjectStore.
func (s *Store) Download(ctx context.Context, bucket, key string, w io.WriterAt) (int64, error) {
	n, err := s.downloader.Download(ctx, w, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return n, errors.Wrap(err, errors.ErrorTypeConnection, "failed to download object").
			WithDetail("bucket", bucket).
			WithDetail("key", key)
	}
	return n, nil
}

// Delete implements unload.ObjectStore. Keys are removed in batches; every
// batch is attempted and per-key failures are reported together.
func (s *Store) Delete(ctx context.Context, bucket string, keys []string) error {
	var failed []string
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		ids := make([]types.ObjectIdentifier, len(batch))
		for i, k := range batch {
			ids[i] = types.ObjectIdentifier{Key: aws.String(k)}
		}

		var out *s3.DeleteObjectsOutput
		err := s.retry.Execute(ctx, func(ctx context.Context) error {
			var err error
			out, err = s.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(bucket),
				Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
			})
			return err
		})
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, "failed to delete objects").
				WithDetail("bucket", bucket).
				WithDetail("keys", len(batch))
		}
		for _, e := range out.Errors {
			failed = append(failed, fmt.Sprintf("%s (%s)", aws.ToString(e.Key), aws.ToString(e.Code)))
		}
	}

	if len(failed) > 0 {
		return errors.Newf(errors.ErrorTypeConnection, "failed to delete %d objects: %s",
			len(failed), strings.Join(failed, ", ")).
			WithDetail("bucket", bucket)
	}
	s.logger.Debug("deleted staged objects", zap.String("bucket", bucket), zap.Int("keys", len(keys)))
	return nil
}
