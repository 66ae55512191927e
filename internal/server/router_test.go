package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/maneesh/musicbox/internal/apperr"
	"github.com/maneesh/musicbox/internal/blobstore"
	"github.com/maneesh/musicbox/internal/chunker"
	"github.com/maneesh/musicbox/internal/media"
	"github.com/maneesh/musicbox/internal/metrics"
	"github.com/maneesh/musicbox/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memChunks struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memChunks) PutChunk(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memChunks) GetChunk(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func (m *memChunks) DeleteChunk(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

type memManifests struct {
	mu        sync.Mutex
	manifests map[string]*models.Manifest
}

func (m *memManifests) CreateManifest(_ context.Context, man *models.Manifest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manifests[man.Blob.ID] = man
	return nil
}

func (m *memManifests) GetManifest(_ context.Context, id string) (*models.Manifest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	man, ok := m.manifests[id]
	if !ok {
		return nil, apperr.NotFound("get_manifest", "File not found", nil)
	}
	return man, nil
}

func (m *memManifests) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.manifests)
}

type memRecords struct {
	mu      sync.Mutex
	records []*models.MediaRecord
}

func (m *memRecords) CreateMedia(_ context.Context, rec *models.MediaRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = uuid.NewString()
	m.records = append(m.records, rec)
	return nil
}

func (m *memRecords) ListMedia(context.Context) ([]*models.MediaRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.MediaRecord(nil), m.records...), nil
}

type memCredentials map[string]string

func (m memCredentials) FindCredential(_ context.Context, key string) (*models.Credential, error) {
	name, ok := m[key]
	if !ok {
		return nil, apperr.NotFound("find_credential", "Invalid key. User not found.", nil)
	}
	return &models.Credential{Key: key, Username: name}, nil
}

type testEnv struct {
	handler   http.Handler
	manifests *memManifests
	records   *memRecords
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	manifests := &memManifests{manifests: map[string]*models.Manifest{}}
	records := &memRecords{}
	blobs := blobstore.NewChunked(
		&memChunks{objects: map[string][]byte{}},
		manifests,
		chunker.NewChunker(64*1024),
	)
	svc := media.NewService(blobs, records, memCredentials{"Key-123": "sai"})

	return &testEnv{
		handler: NewRouter(svc, metrics.New(), Options{
			AllowedOrigins: []string{"http://localhost:5173"},
			MaxUploadBytes: 1 << 20,
		}),
		manifests: manifests,
		records:   records,
	}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func dataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func encodedUpload(t *testing.T, fields map[string]string) *http.Request {
	t.Helper()
	body, err := json.Marshal(fields)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

type filePart struct {
	contentType string
	data        []byte
}

func multipartUpload(t *testing.T, name string, files map[string]filePart) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if name != "" {
		require.NoError(t, mw.WriteField("name", name))
	}
	for field, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, field+".bin"))
		h.Set("Content-Type", f.contentType)
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

type uploadResponse struct {
	Message string             `json:"message"`
	Music   models.MediaRecord `json:"music"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func fetch(t *testing.T, e *testEnv, rawURL string) *httptest.ResponseRecorder {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return e.do(httptest.NewRequest(http.MethodGet, u.Path, nil))
}

func TestEncodedUploadListAndFetch(t *testing.T) {
	e := newTestEnv(t)
	pic := bytes.Repeat([]byte{0xff, 0xd8, 0x01}, 50000)
	audio := []byte("ID3 audio frames")

	rec := e.do(encodedUpload(t, map[string]string{
		"name":  "Saahore",
		"pic":   dataURI("image/png", pic),
		"audio": dataURI("audio/wav", audio),
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var up uploadResponse
	decode(t, rec, &up)
	assert.NotEmpty(t, up.Message)
	assert.Equal(t, "Saahore", up.Music.Name)
	assert.NotEmpty(t, up.Music.ID)

	rec = e.do(httptest.NewRequest(http.MethodGet, "/music", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var items []models.MediaItem
	decode(t, rec, &items)
	require.Len(t, items, 1)
	assert.Equal(t, up.Music.ID, items[0].ID)
	assert.Equal(t, "http://example.com/file/"+up.Music.PicID, items[0].PicURL)

	got := fetch(t, e, items[0].PicURL)
	require.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, "image/jpeg", got.Header().Get("Content-Type"))
	assert.Equal(t, fmt.Sprint(len(pic)), got.Header().Get("Content-Length"))
	assert.True(t, bytes.Equal(pic, got.Body.Bytes()))

	got = fetch(t, e, items[0].AudioURL)
	require.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, "audio/mpeg", got.Header().Get("Content-Type"))
	assert.Equal(t, audio, got.Body.Bytes())
}

func TestMultipartUploadKeepsContentTypes(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(multipartUpload(t, "Track", map[string]filePart{
		"pic":   {contentType: "image/png", data: []byte("png-bytes")},
		"audio": {contentType: "audio/ogg", data: []byte("ogg-bytes")},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var up uploadResponse
	decode(t, rec, &up)

	got := e.do(httptest.NewRequest(http.MethodGet, "/file/"+up.Music.PicID, nil))
	assert.Equal(t, "image/png", got.Header().Get("Content-Type"))
	assert.Equal(t, "png-bytes", got.Body.String())

	got = e.do(httptest.NewRequest(http.MethodGet, "/file/"+up.Music.AudioID, nil))
	assert.Equal(t, "audio/ogg", got.Header().Get("Content-Type"))
	assert.Equal(t, "ogg-bytes", got.Body.String())
}

func TestUploadValidation(t *testing.T) {
	pic := dataURI("image/jpeg", []byte("p"))
	audio := dataURI("audio/mpeg", []byte("a"))

	cases := map[string]func(t *testing.T) *http.Request{
		"encoded missing pic": func(t *testing.T) *http.Request {
			return encodedUpload(t, map[string]string{"name": "n", "audio": audio})
		},
		"encoded missing audio": func(t *testing.T) *http.Request {
			return encodedUpload(t, map[string]string{"name": "n", "pic": pic})
		},
		"encoded missing name": func(t *testing.T) *http.Request {
			return encodedUpload(t, map[string]string{"pic": pic, "audio": audio})
		},
		"encoded bad base64": func(t *testing.T) *http.Request {
			return encodedUpload(t, map[string]string{"name": "n", "pic": "data:image/jpeg;base64,@@@", "audio": audio})
		},
		"encoded no header": func(t *testing.T) *http.Request {
			return encodedUpload(t, map[string]string{"name": "n", "pic": "cGlj", "audio": audio})
		},
		"invalid json": func(t *testing.T) *http.Request {
			req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("{"))
			req.Header.Set("Content-Type", "application/json")
			return req
		},
		"multipart missing audio": func(t *testing.T) *http.Request {
			return multipartUpload(t, "n", map[string]filePart{"pic": {"image/png", []byte("p")}})
		},
		"multipart missing name": func(t *testing.T) *http.Request {
			return multipartUpload(t, "", map[string]filePart{
				"pic":   {"image/png", []byte("p")},
				"audio": {"audio/ogg", []byte("a")},
			})
		},
		"body too large": func(t *testing.T) *http.Request {
			return encodedUpload(t, map[string]string{
				"name":  "n",
				"pic":   dataURI("image/jpeg", make([]byte, 2<<20)),
				"audio": audio,
			})
		},
	}

	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			e := newTestEnv(t)

			rec := e.do(build(t))
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var body map[string]string
			decode(t, rec, &body)
			assert.NotEmpty(t, body["message"])
			assert.Equal(t, 0, e.manifests.count())
			assert.Empty(t, e.records.records)
		})
	}
}

func TestFileNotFound(t *testing.T) {
	e := newTestEnv(t)

	for _, id := range []string{uuid.NewString(), "64b7f0c2e1d3a4b5c6d7e8f9", "not-an-id"} {
		rec := e.do(httptest.NewRequest(http.MethodGet, "/file/"+id, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, id)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body map[string]string
		decode(t, rec, &body)
		assert.Equal(t, "File not found", body["message"])
	}
}

func TestLogin(t *testing.T) {
	e := newTestEnv(t)
	login := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return e.do(req)
	}

	rec := login(`{"key":"Key-123"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var ok map[string]string
	decode(t, rec, &ok)
	assert.Equal(t, "sai", ok["username"])
	assert.NotEmpty(t, ok["message"])

	assert.Equal(t, http.StatusNotFound, login(`{"key":"key-123"}`).Code)
	assert.Equal(t, http.StatusNotFound, login(`{"key":"nope"}`).Code)
	assert.Equal(t, http.StatusBadRequest, login(`{}`).Code)
	assert.Equal(t, http.StatusBadRequest, login(``).Code)
}

func TestCORS(t *testing.T) {
	e := newTestEnv(t)

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/upload", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		return e.do(req)
	}

	rec := preflight("http://localhost:5173")
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = preflight("https://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthMetricsAndUnknownRoutes(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	e.do(httptest.NewRequest(http.MethodGet, "/music", nil))
	rec = e.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "musicbox_http_request_duration_seconds")

	rec = e.do(httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(httptest.NewRequest(http.MethodDelete, "/music", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestConcurrentUploads(t *testing.T) {
	e := newTestEnv(t)
	const n = 12

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := e.do(encodedUpload(t, map[string]string{
				"name":  fmt.Sprintf("song-%d", i),
				"pic":   dataURI("image/jpeg", []byte(fmt.Sprintf("pic-%d", i))),
				"audio": dataURI("audio/mpeg", []byte(fmt.Sprintf("audio-%d", i))),
			}))
			assert.Equal(t, http.StatusOK, rec.Code)
		}(i)
	}
	wg.Wait()

	rec := e.do(httptest.NewRequest(http.MethodGet, "/music", nil))
	var items []models.MediaItem
	decode(t, rec, &items)
	require.Len(t, items, n)

	for _, item := range items {
		suffix := strings.TrimPrefix(item.Name, "song-")
		assert.Equal(t, "pic-"+suffix, fetch(t, e, item.PicURL).Body.String())
		assert.Equal(t, "audio-"+suffix, fetch(t, e, item.AudioURL).Body.String())
	}
}

func TestPublicBaseURL(t *testing.T) {
	records := &memRecords{records: []*models.MediaRecord{{ID: "m1", Name: "x", PicID: "p", AudioID: "a"}}}
	svc := media.NewService(nil, records, memCredentials{})
	h := NewRouter(svc, nil, Options{PublicBaseURL: "https://media.example/api"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/music", nil))
	var items []models.MediaItem
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&items))
	require.Len(t, items, 1)
	assert.Equal(t, "https://media.example/api/file/p", items[0].PicURL)
}
