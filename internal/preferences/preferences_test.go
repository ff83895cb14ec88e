package preferences_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/recordings/internal/models"
	"github.com/aura-webinar/recordings/internal/preferences"
	"github.com/aura-webinar/recordings/pkg/apperr"
	"github.com/aura-webinar/recordings/pkg/cache"
	"github.com/aura-webinar/recordings/pkg/dualwrite"
	"github.com/aura-webinar/recordings/pkg/storage"
)

type mapObjects map[string][]byte

func (m mapObjects) PutObject(_ context.Context, key string, body []byte, _ string) error {
	m[key] = body
	return nil
}

func (m mapObjects) GetObject(_ context.Context, key string) ([]byte, error) {
	if b, ok := m[key]; ok {
		return b, nil
	}
	return nil, storage.ErrNotFound
}

func (m mapObjects) DeleteObject(_ context.Context, key string) error {
	delete(m, key)
	return nil
}

func (m mapObjects) ListObjects(context.Context, string) ([]string, error) { return nil, nil }

func (m mapObjects) PresignGet(context.Context, string, time.Duration) (string, error) {
	return "", errors.New("not supported")
}

func newRepo(t *testing.T) *preferences.Repository {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return preferences.NewRepository(dualwrite.New(mapObjects{}, cache.NewRedis(client, "", nil), time.Hour, nil))
}

func TestDefaultsUntilSaved(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	p, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultPreferences(), p)

	want := models.Preferences{Recording: models.RecordingPreferences{Layout: "speaker", Encoding: "H264_1080P_30"}}
	require.NoError(t, repo.Save(ctx, want))
	p, err = repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, p)
}

func TestSaveRejectsUnknownLayout(t *testing.T) {
	repo := newRepo(t)
	err := repo.Save(context.Background(), models.Preferences{Recording: models.RecordingPreferences{Layout: "mosaic", Encoding: "H264_720P_30"}})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestHandlerUpdate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := preferences.NewHandler(newRepo(t), nil)
	r := gin.New()
	r.GET("/preferences", h.Get)
	r.PUT("/preferences", h.Update)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/preferences",
		strings.NewReader(`{"recording":{"layout":"grid","encoding":"H264_720P_60"}}`)))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/preferences",
		strings.NewReader(`{"recording":{"layout":"grid","encoding":"AV1"}}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/preferences", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "H264_720P_60")
}
