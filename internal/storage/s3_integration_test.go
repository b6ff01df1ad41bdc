//go:build integration

package storage

import (
	"context"
	"testing"

	"github.com/cloo-solutions/interviewcoach/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_AudioArchive_S3(t *testing.T) {
	ctx := context.Background()
	rc := testutil.NewRustFSContainer(ctx, t)

	client, err := NewS3Client(ctx, S3ClientConfig{
		Endpoint:        rc.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     testutil.RustFSAccessKey,
		SecretAccessKey: testutil.RustFSSecretKey,
		Bucket:          "coach-audio",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	require.NoError(t, client.EnsureBucket(ctx))
	require.NoError(t, client.EnsureBucket(ctx), "existing bucket is left alone")

	archive := NewAudioArchive(client, "")
	key, err := archive.Store(ctx, "s1", "wav", []byte("RIFFdata"))
	require.NoError(t, err)

	meta, err := client.HeadObject(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(8), meta.ContentLength)
	assert.Equal(t, "s1", meta.Metadata["session-id"])
	assert.Equal(t, "wav", meta.Metadata["audio-format"])
}
