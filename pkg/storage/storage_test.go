package storage_test

import (
	"context"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/recordings/pkg/storage"
)

const testBucket = "recordings-ut"

func setupFakeS3(t *testing.T, createBucket bool) *httptest.Server {
	t.Helper()
	backend := s3mem.New()
	if createBucket {
		require.NoError(t, backend.CreateBucket(testBucket))
	}
	server := httptest.NewServer(gofakes3.New(backend).Server())
	t.Cleanup(server.Close)
	return server
}

func newS3Store(t *testing.T) storage.ObjectStore {
	server := setupFakeS3(t, true)
	uut, err := storage.New(context.Background(), storage.Config{
		Backend: storage.BackendS3,
		S3: storage.S3Config{
			Region:          "us-east-1",
			AccessKeyID:     "test",
			SecretAccessKey: "test",
			Endpoint:        server.URL,
			ForcePathStyle:  true,
			Bucket:          testBucket,
		},
	}, nil)
	require.NoError(t, err)
	return uut
}

func newMinIOStore(t *testing.T) storage.ObjectStore {
	server := setupFakeS3(t, false)
	uut, err := storage.New(context.Background(), storage.Config{
		Backend: storage.BackendMinIO,
		MinIO: storage.MinIOConfig{
			Endpoint:  strings.TrimPrefix(server.URL, "http://"),
			AccessKey: "test",
			SecretKey: "test",
			Bucket:    testBucket,
			Region:    "us-east-1",
		},
	}, nil)
	require.NoError(t, err)
	return uut
}

func TestObjectStoreBackends(t *testing.T) {
	backends := map[string]func(*testing.T) storage.ObjectStore{
		"s3":    newS3Store,
		"minio": newMinIOStore,
	}
	for name, build := range backends {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			ctx := context.Background()
			uut := build(t)

			// Case 0: unknown key
			_, err := uut.GetObject(ctx, "recordings/.metadata/room/missing.json")
			assert.ErrorIs(err, storage.ErrNotFound)

			// Case 1: write and read back
			assert.NoError(uut.PutObject(ctx, "recordings/.metadata/room/a.json", []byte(`{"id":"a"}`), "application/json"))
			assert.NoError(uut.PutObject(ctx, "recordings/.metadata/room/b.json", []byte(`{"id":"b"}`), "application/json"))
			assert.NoError(uut.PutObject(ctx, "recordings/.metadata/other/c.json", []byte(`{"id":"c"}`), "application/json"))
			data, err := uut.GetObject(ctx, "recordings/.metadata/room/a.json")
			assert.NoError(err)
			assert.JSONEq(`{"id":"a"}`, string(data))

			// Case 2: prefix listing
			keys, err := uut.ListObjects(ctx, "recordings/.metadata/room/")
			assert.NoError(err)
			sort.Strings(keys)
			assert.Equal([]string{"recordings/.metadata/room/a.json", "recordings/.metadata/room/b.json"}, keys)

			// Case 3: delete, including a missing key
			assert.NoError(uut.DeleteObject(ctx, "recordings/.metadata/room/a.json"))
			assert.NoError(uut.DeleteObject(ctx, "recordings/.metadata/room/a.json"))
			_, err = uut.GetObject(ctx, "recordings/.metadata/room/a.json")
			assert.ErrorIs(err, storage.ErrNotFound)

			// Case 4: presigned URL
			u, err := uut.PresignGet(ctx, "recordings/room/b.mp4", time.Minute)
			assert.NoError(err)
			assert.Contains(u, "recordings/room/b.mp4")
		})
	}
}

func TestUnknownBackend(t *testing.T) {
	_, err := storage.New(context.Background(), storage.Config{Backend: "tape"}, nil)
	assert.Error(t, err)
}
