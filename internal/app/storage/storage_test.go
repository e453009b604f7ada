package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageKey(t *testing.T) {
	at := time.UnixMilli(1700000000123)

	tests := []struct {
		name     string
		fileName string
		want     string
	}{
		{"plain name", "photo.png", "chat-images/room-1/1700000000123_photo.png"},
		{"strips directories", "../../etc/passwd.png", "chat-images/room-1/1700000000123_passwd.png"},
		{"strips windows directories", `C:\Users\me\cat.jpg`, "chat-images/room-1/1700000000123_cat.jpg"},
		{"empty name", "", "chat-images/room-1/1700000000123_image"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ImageKey(PurposeChatImage, "room-1", at, tt.fileName))
		})
	}
}

func TestMemoryStore_UploadServeDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("http://localhost:8080/blobs/")

	url, err := store.Upload(ctx, "chat-images/r/1_a.png", []byte("png-bytes"), Metadata{ContentType: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/blobs/chat-images/r/1_a.png", url)
	assert.Equal(t, 1, store.Len())

	handler := http.StripPrefix("/blobs", store)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blobs/chat-images/r/1_a.png", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "png-bytes", rec.Body.String())

	require.NoError(t, store.Delete(ctx, url))
	assert.Equal(t, 0, store.Len())
	assert.ErrorIs(t, store.Delete(ctx, url), ErrNotFound)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blobs/chat-images/r/1_a.png", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMemoryStore_DeleteForeignURL(t *testing.T) {
	store := NewMemoryStore("http://localhost:8080/blobs")

	err := store.Delete(context.Background(), "https://cdn.example.com/chat-images/r/1_a.png")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_RejectsWrites(t *testing.T) {
	store := NewMemoryStore("http://localhost:8080/blobs")

	rec := httptest.NewRecorder()
	store.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestS3Store_KeyFromURL(t *testing.T) {
	public := &S3Store{cfg: ServiceConfig{S3BucketName: "chat", PublicBaseURL: "https://cdn.example.com"}}

	key, err := public.keyFromURL("https://cdn.example.com/chat-images/r/1_a.png")
	require.NoError(t, err)
	assert.Equal(t, "chat-images/r/1_a.png", key)

	_, err = public.keyFromURL("https://elsewhere.example.com/chat-images/r/1_a.png")
	assert.ErrorIs(t, err, ErrNotFound)

	presigned := &S3Store{cfg: ServiceConfig{S3BucketName: "chat"}}

	key, err = presigned.keyFromURL("https://s3.example.com/chat/chat-images/r/1_my%20cat.png?X-Amz-Signature=abc")
	require.NoError(t, err)
	assert.Equal(t, "chat-images/r/1_my cat.png", key)

	_, err = presigned.keyFromURL("https://s3.example.com/other/chat-images/r/1_a.png")
	assert.ErrorIs(t, err, ErrNotFound)
}
