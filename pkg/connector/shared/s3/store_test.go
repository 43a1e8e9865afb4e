package s3

import (
	"context"
	stderrors "errors"
	"io"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/redtap/pkg/errors"
	"github.com/ajitpratap0/redtap/pkg/retry"
)

type fakeAPI struct {
	objects    map[string][]byte
	pageSize   int
	deleteErrs map[string]string
	deleteFail int
	deletes    [][]string
}

func (f *fakeAPI) keys(prefix string) []string {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (f *fakeAPI) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	keys := f.keys(aws.ToString(in.Prefix))
	start := 0
	if in.ContinuationToken != nil {
		start, _ = strconv.Atoi(*in.ContinuationToken)
	}
	end := start + f.pageSize
	if end > len(keys) {
		end = len(keys)
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(f.objects[k])))})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func (f *fakeAPI) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	if f.deleteFail > 0 {
		f.deleteFail--
		return nil, stderrors.New("slow down")
	}
	out := &s3.DeleteObjectsOutput{}
	var batch []string
	for _, id := range in.Delete.Objects {
		k := aws.ToString(id.Key)
		batch = append(batch, k)
		if code, ok := f.deleteErrs[k]; ok {
			out.Errors = append(out.Errors, types.Error{Key: aws.String(k), Code: aws.String(code)})
			continue
		}
		delete(f.objects, k)
	}
	f.deletes = append(f.deletes, batch)
	return out, nil
}

type fakeDownloader struct {
	api *fakeAPI
}

func (d *fakeDownloader) Download(_ context.Context, w io.WriterAt, in *s3.GetObjectInput, _ ...func(*manager.Downloader)) (int64, error) {
	data, ok := d.api.objects[aws.ToString(in.Key)]
	if !ok {
		return 0, &types.NoSuchKey{}
	}
	n, err := w.WriteAt(data, 0)
	return int64(n), err
}

func newTestStore(api *fakeAPI) *Store {
	s := NewStoreWithClients(api, &fakeDownloader{api: api}, zap.NewNop())
	s.retry = retry.NewRetryPolicy(3, time.Millisecond)
	return s
}

func TestStore_ListPaginates(t *testing.T) {
	api := &fakeAPI{pageSize: 2, objects: map[string][]byte{
		"unload/s/j/0000_part_00.gz": []byte("a"),
		"unload/s/j/0001_part_00.gz": []byte("bb"),
		"unload/s/j/0002_part_00.gz": []byte("ccc"),
		"unload/other/0000_part_00":  []byte("x"),
	}}
	s := newTestStore(api)

	objects, err := s.List(context.Background(), "staging", "unload/s/j/")
	require.NoError(t, err)
	require.Len(t, objects, 3)
	assert.Equal(t, "unload/s/j/0002_part_00.gz", objects[2].Key)
	assert.Equal(t, int64(3), objects[2].Size)
}

func TestStore_Download(t *testing.T) {
	api := &fakeAPI{objects: map[string][]byte{"k": []byte("payload")}}
	s := newTestStore(api)

	buf := manager.NewWriteAtBuffer(nil)
	n, err := s.Download(context.Background(), "staging", "k", buf)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, "payload", string(buf.Bytes()))

	_, err = s.Download(context.Background(), "staging", "missing", buf)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}

func TestStore_DeleteBatches(t *testing.T) {
	api := &fakeAPI{objects: map[string][]byte{}, deleteFail: 1}
	var keys []string
	for i := 0; i < 2500; i++ {
		k := "p/" + strconv.Itoa(i)
		api.objects[k] = []byte("x")
		keys = append(keys, k)
	}
	s := newTestStore(api)

	require.NoError(t, s.Delete(context.Background(), "staging", keys))
	assert.Empty(t, api.objects)
	require.Len(t, api.deletes, 3)
	assert.Len(t, api.deletes[0], 1000)
	assert.Len(t, api.deletes[2], 500)
}

func TestStore_DeleteReportsPerKeyErrors(t *testing.T) {
	api := &fakeAPI{
		objects:    map[string][]byte{"a": nil, "b": nil},
		deleteErrs: map[string]string{"b": "AccessDenied"},
	}
	s := newTestStore(api)

	err := s.Delete(context.Background(), "staging", []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b (AccessDenied)")
	assert.NotContains(t, api.objects, "a")
}
