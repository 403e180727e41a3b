package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedback-widget/internal/models"
)

func testSubmission() models.Submission {
	return models.Submission{
		Type:        models.TypeBug,
		Priority:    models.PriorityHigh,
		Title:       "crash on launch",
		Description: "the app crashes immediately",
	}
}

func newTestClient(url string) *Client {
	return New(Options{
		BaseURL:   url,
		ProjectID: "proj-1",
		APIKey:    "secret-key",
		Logger:    zerolog.Nop(),
	})
}

func TestSubmitFeedback_Success(t *testing.T) {
	var gotReq *http.Request
	var gotBody models.Submission
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = r.Clone(context.Background())
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "feedback_id": "fb-123"})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	id, err := client.SubmitFeedback(context.Background(), testSubmission(), "q-1")
	require.NoError(t, err)
	assert.Equal(t, "fb-123", id)

	assert.Equal(t, "/api/v1/feedback", gotReq.URL.Path)
	assert.Equal(t, "proj-1", gotReq.Header.Get("X-Project-ID"))
	assert.Equal(t, "Bearer secret-key", gotReq.Header.Get("Authorization"))
	assert.Equal(t, "q-1", gotReq.Header.Get("X-Queue-ID"))
	assert.NotEmpty(t, gotReq.Header.Get("X-Signature"))
	assert.Equal(t, "crash on launch", gotBody.Title)
}

func TestSubmitFeedback_SignatureMatchesBody(t *testing.T) {
	body, err := json.Marshal(testSubmission())
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, body, raw)
		assert.Equal(t, Signature("secret-key", raw), r.Header.Get("X-Signature"))
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "feedback_id": "fb-1"})
	}))
	defer srv.Close()

	_, err = newTestClient(srv.URL).SubmitFeedback(context.Background(), testSubmission(), "")
	require.NoError(t, err)
}

func TestSubmitFeedback_StructuredRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "Invalid title"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).SubmitFeedback(context.Background(), testSubmission(), "")
	require.Error(t, err)

	var terr *Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, KindRejected, terr.Kind)
	assert.Equal(t, "Invalid title", terr.Msg)
	assert.False(t, IsNetwork(err))
}

func TestSubmitFeedback_ServerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).SubmitFeedback(context.Background(), testSubmission(), "")
	require.Error(t, err)

	var terr *Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, KindHTTPStatus, terr.Kind)
	assert.Equal(t, http.StatusBadGateway, terr.Status)
	assert.True(t, IsNetwork(err), "5xx routes to the offline queue")
}

func TestSubmitFeedback_ConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // refuse every connection from here on

	_, err := newTestClient(srv.URL).SubmitFeedback(context.Background(), testSubmission(), "")
	require.Error(t, err)
	assert.True(t, IsNetwork(err))
}

func TestUploadScreenshot(t *testing.T) {
	ref := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(ref, []byte("png-bytes"), 0o644))

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "shot.png", header.Filename)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).UploadScreenshot(context.Background(), "fb-9", ref)
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/feedback/fb-9/screenshot", gotPath)
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Equal(t, "/healthz", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	client := newTestClient(srv.URL)
	assert.True(t, client.Ping(context.Background()))

	srv.Close()
	assert.False(t, client.Ping(context.Background()))
}
