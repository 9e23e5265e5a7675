package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-entity/pkg/entity"
)

func TestNew_Configuration(t *testing.T) {
	t.Run("EmptyBucket", func(t *testing.T) {
		_, err := New(context.Background(), Config{Region: "us-east-1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket name is required")
	})

	t.Run("Defaults", func(t *testing.T) {
		backend, err := New(context.Background(), Config{
			Bucket:          "test-bucket",
			AccessKeyID:     "test-key",
			SecretAccessKey: "test-secret",
		})
		require.NoError(t, err)
		assert.Equal(t, "us-east-1", backend.config.Region)
		assert.Equal(t, time.Hour, backend.presignDuration)
	})

	t.Run("CustomPresignDuration", func(t *testing.T) {
		backend, err := New(context.Background(), Config{
			Bucket:          "test-bucket",
			AccessKeyID:     "test-key",
			SecretAccessKey: "test-secret",
			PresignDuration: 7200,
		})
		require.NoError(t, err)
		assert.Equal(t, 7200*time.Second, backend.presignDuration)
	})
}

func TestConfigFromURL(t *testing.T) {
	config, err := ConfigFromURL("s3://covers?region=eu-west-1&endpoint=http://localhost:9000&path_style=true&create_bucket=1&presign_seconds=60&access_key=minio&secret_key=secret")
	require.NoError(t, err)
	assert.Equal(t, Config{
		Region:                 "eu-west-1",
		Bucket:                 "covers",
		AccessKeyID:            "minio",
		SecretAccessKey:        "secret",
		Endpoint:               "http://localhost:9000",
		UsePathStyle:           true,
		PresignDuration:        60,
		CreateBucketIfNotExist: true,
	}, config)

	_, err = ConfigFromURL("file:///tmp")
	assert.Error(t, err)
	_, err = ConfigFromURL("s3://covers?path_style=maybe")
	assert.Error(t, err)
}

func TestPresignedDownloadURL(t *testing.T) {
	backend, err := New(context.Background(), Config{
		Bucket:          "covers",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		Endpoint:        "http://localhost:9000",
		UsePathStyle:    true,
	})
	require.NoError(t, err)

	u, err := backend.GetDownloadURL(context.Background(), "files/objects/ab/cd_cover.jpg", "cover.jpg")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "http://localhost:9000/covers/files/objects/ab/cd_cover.jpg?"), u)
	assert.Contains(t, u, "X-Amz-Signature=")
	assert.Contains(t, u, "response-content-disposition=")
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&types.NoSuchKey{}))
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NotFound"}))
	assert.False(t, isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, isNotFound(errors.New("boom")))
	assert.Equal(t, "AccessDenied", errorCode(&smithy.GenericAPIError{Code: "AccessDenied"}))
}

// TestBackend_MinIO runs against a real S3-compatible service when
// TEST_S3_ENDPOINT is set, e.g. a local MinIO.
func TestBackend_MinIO(t *testing.T) {
	endpoint := os.Getenv("TEST_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("TEST_S3_ENDPOINT not set")
	}
	ctx := context.Background()

	backend, err := New(ctx, Config{
		Bucket:                 "entity-test",
		Endpoint:               endpoint,
		AccessKeyID:            os.Getenv("TEST_S3_ACCESS_KEY"),
		SecretAccessKey:        os.Getenv("TEST_S3_SECRET_KEY"),
		UsePathStyle:           true,
		CreateBucketIfNotExist: true,
	})
	require.NoError(t, err)

	key := "files/objects/" + uuid.NewString()
	require.NoError(t, backend.Upload(ctx, key, bytes.NewReader([]byte("payload"))))

	meta, err := backend.GetObjectMeta(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(7), meta.Size)

	rc, err := backend.Download(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, "payload", string(data))

	require.NoError(t, backend.Delete(ctx, key))
	_, err = backend.GetObjectMeta(ctx, key)
	assert.ErrorIs(t, err, entity.ErrObjectNotFound)
}
