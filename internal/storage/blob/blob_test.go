package blob

import (
	"bytes"
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/hubsync/internal/core/hub"
)

func TestParseLocation(t *testing.T) {
	cases := []struct {
		raw  string
		want Location
	}{
		{"s3://changesets/abc.cs", Location{Bucket: "changesets", Key: "abc.cs"}},
		{"https://storage.local:9000/changesets/a/b.cs", Location{Bucket: "changesets", Key: "a/b.cs"}},
		{"/abc.cs", Location{Bucket: "default", Key: "abc.cs"}},
	}
	for _, tc := range cases {
		got, err := ParseLocation(tc.raw, "default")
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}

	for _, bad := range []string{"", "ftp://x/y", "s3://bucket", "https://host/bucket"} {
		_, err := ParseLocation(bad, "default")
		assert.Error(t, err, bad)
	}
	_, err := ParseLocation("key", "")
	assert.Error(t, err)
}

func TestNewMinioStoreRequiresEndpoint(t *testing.T) {
	_, err := NewMinioStore(MinioConfig{}, nil)
	assert.Error(t, err)

	s, err := NewMinioStore(MinioConfig{Endpoint: "localhost:9000", Bucket: "changesets"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "changesets", s.bucket)
}

func TestTransferErrorClassification(t *testing.T) {
	assert.Equal(t, hub.ConnectionError, hub.IDOf(transferError(hub.FileUploadFailed, errors.New("dial tcp: refused"))))

	serverErr := minio.ErrorResponse{StatusCode: 503, Message: "slow down"}
	assert.Equal(t, hub.ServiceUnavailable, hub.IDOf(transferError(hub.FileUploadFailed, serverErr)))

	denied := minio.ErrorResponse{StatusCode: 403, Message: "denied"}
	assert.Equal(t, hub.FileDownloadFailed, hub.IDOf(transferError(hub.FileDownloadFailed, denied)))
}

func TestProgressWrappers(t *testing.T) {
	var last [2]int64
	fn := func(done, total int64) { last = [2]int64{done, total} }

	r := &progressReader{total: 10, fn: fn}
	_, _ = r.Read(make([]byte, 4))
	_, _ = r.Read(make([]byte, 6))
	assert.Equal(t, [2]int64{10, 10}, last)

	var buf bytes.Buffer
	w := &progressWriter{w: &buf, total: 3, fn: fn}
	_, err := w.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, [2]int64{3, 3}, last)
}
