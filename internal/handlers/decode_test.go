package handlers

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/maneesh/musicbox/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDataURI(t *testing.T) {
	data, err := decodeDataURI("data:image/png;base64,aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	data, err = decodeDataURI("data:audio/mpeg;base64,aGVsbG8")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data, "unpadded payloads are accepted")

	data, err = decodeDataURI("data:image/png;base64,aGVs\nbG8=")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	data, err = decodeDataURI("data:image/png;base64,")
	require.NoError(t, err)
	assert.Empty(t, data)

	_, err = decodeDataURI("aGVsbG8=")
	assert.Error(t, err)

	_, err = decodeDataURI("data:,not base64!")
	assert.Error(t, err)
}

func TestDecoderFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/upload", nil)
	assert.IsType(t, EncodedDecoder{}, DecoderFor(req))

	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	assert.IsType(t, EncodedDecoder{}, DecoderFor(req))

	req.Header.Set("Content-Type", "multipart/form-data; boundary=xyz")
	assert.IsType(t, MultipartDecoder{}, DecoderFor(req))
}

func TestEncodedDecoderFixedContentTypes(t *testing.T) {
	body := `{"name":"a","pic":"data:image/png;base64,cGlj","audio":"data:audio/wav;base64,YXVkaW8="}`
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(body))

	up, cleanup, err := EncodedDecoder{}.Decode(req)
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, "a", up.Name)
	assert.Equal(t, "image/jpeg", up.Pic.ContentType)
	assert.Equal(t, "audio/mpeg", up.Audio.ContentType)

	pic, _ := io.ReadAll(up.Pic.Body)
	assert.Equal(t, "pic", string(pic))
}

func TestEncodedDecoderMissingFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(`{"name":"a"}`))

	up, _, err := EncodedDecoder{}.Decode(req)
	require.NoError(t, err)
	assert.True(t, apperr.IsValidation(up.Validate()))
}

func TestMultipartDecoder(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("name", "Track"))
	w, err := mw.CreateFormFile("pic", "cover")
	require.NoError(t, err)
	w.Write([]byte("cover-bytes"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	up, cleanup, err := MultipartDecoder{}.Decode(req)
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, "Track", up.Name)
	assert.Equal(t, "application/octet-stream", up.Pic.ContentType)
	assert.Nil(t, up.Audio.Body)

	pic, _ := io.ReadAll(up.Pic.Body)
	assert.Equal(t, "cover-bytes", string(pic))
}

func TestBodyTooLarge(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(`{"name":"`+strings.Repeat("x", 100)+`"}`))
	req.Body = http.MaxBytesReader(rec, req.Body, 10)

	_, _, err := EncodedDecoder{}.Decode(req)
	require.Error(t, err)
	assert.Equal(t, "request body too large", apperr.Message(err, ""))
}
