package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromEnv_NotConfigured(t *testing.T) {
	t.Setenv("ARCHIVE_ENDPOINT", "")

	archiver, err := NewFromEnv()
	require.NoError(t, err)
	assert.Nil(t, archiver)
}

func TestNewFromEnv_MissingCredentials(t *testing.T) {
	t.Setenv("ARCHIVE_ENDPOINT", "https://minio.example.com:9000")
	t.Setenv("ARCHIVE_ACCESS_KEY", "")
	t.Setenv("ARCHIVE_SECRET_KEY", "")

	_, err := NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ARCHIVE_ACCESS_KEY")
}

func TestNewFromEnv_InvalidScheme(t *testing.T) {
	t.Setenv("ARCHIVE_ENDPOINT", "ftp://minio.example.com:9000")
	t.Setenv("ARCHIVE_ACCESS_KEY", "key")
	t.Setenv("ARCHIVE_SECRET_KEY", "secret")

	_, err := NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheme")
}

func TestNewFromEnv_MissingHost(t *testing.T) {
	t.Setenv("ARCHIVE_ENDPOINT", "https://")
	t.Setenv("ARCHIVE_ACCESS_KEY", "key")
	t.Setenv("ARCHIVE_SECRET_KEY", "secret")

	_, err := NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hostname")
}

func TestNewFromEnv_Valid(t *testing.T) {
	t.Setenv("ARCHIVE_ENDPOINT", "https://minio.example.com:9000")
	t.Setenv("ARCHIVE_ACCESS_KEY", "key")
	t.Setenv("ARCHIVE_SECRET_KEY", "secret")
	t.Setenv("ARCHIVE_BUCKET", "my-archive")

	archiver, err := NewFromEnv()
	require.NoError(t, err)
	require.NotNil(t, archiver)
	assert.Equal(t, "my-archive", archiver.bucket)
}

func TestNewFromEnv_DefaultBucket(t *testing.T) {
	t.Setenv("ARCHIVE_ENDPOINT", "http://127.0.0.1:9000")
	t.Setenv("ARCHIVE_ACCESS_KEY", "key")
	t.Setenv("ARCHIVE_SECRET_KEY", "secret")
	t.Setenv("ARCHIVE_BUCKET", "")

	archiver, err := NewFromEnv()
	require.NoError(t, err)
	require.NotNil(t, archiver)
	assert.Equal(t, "sms-relay-archive", archiver.bucket)
}
