package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/maneesh/musicbox/internal/apperr"
	"github.com/maneesh/musicbox/internal/media"
)

// Content types stored for encoded-field uploads, whatever the data URI header says.
const (
	encodedPicContentType   = "image/jpeg"
	encodedAudioContentType = "audio/mpeg"
	fallbackContentType     = "application/octet-stream"
)

// multipartMemory is how much of a multipart body is buffered in memory
// before parts spill to temporary files.
const multipartMemory = 32 << 20

// Decoder turns an upload request into a media.Upload. The returned cleanup
// func releases request resources and must be called once the upload is done.
type Decoder interface {
	Decode(r *http.Request) (*media.Upload, func(), error)
}

// DecoderFor picks the decoder matching the request content type.
func DecoderFor(r *http.Request) Decoder {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err == nil && mediaType == "multipart/form-data" {
		return MultipartDecoder{}
	}
	return EncodedDecoder{}
}

// EncodedDecoder reads a JSON body whose pic and audio fields are data URIs.
type EncodedDecoder struct{}

type encodedUpload struct {
	Name  string `json:"name"`
	Pic   string `json:"pic"`
	Audio string `json:"audio"`
}

func (EncodedDecoder) Decode(r *http.Request) (*media.Upload, func(), error) {
	var body encodedUpload
	if err := decodeJSON(r, &body); err != nil {
		return nil, noop, err
	}

	up := &media.Upload{Name: body.Name}
	if body.Pic != "" {
		data, err := decodeDataURI(body.Pic)
		if err != nil {
			return nil, noop, apperr.Validation("upload.decode", "pic must be a base64 data URI")
		}
		up.Pic = media.Part{Body: bytes.NewReader(data), ContentType: encodedPicContentType}
	}
	if body.Audio != "" {
		data, err := decodeDataURI(body.Audio)
		if err != nil {
			return nil, noop, apperr.Validation("upload.decode", "audio must be a base64 data URI")
		}
		up.Audio = media.Part{Body: bytes.NewReader(data), ContentType: encodedAudioContentType}
	}
	return up, noop, nil
}

// decodeDataURI strips everything up to the first comma and decodes the rest
// as standard base64, padded or not.
func decodeDataURI(s string) ([]byte, error) {
	idx := strings.IndexByte(s, ',')
	if idx < 0 {
		return nil, errors.New("missing data URI header")
	}
	payload := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s[idx+1:])

	if data, err := base64.StdEncoding.DecodeString(payload); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
}

// MultipartDecoder reads a name field and pic/audio file parts.
type MultipartDecoder struct{}

func (MultipartDecoder) Decode(r *http.Request) (*media.Upload, func(), error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, noop, bodyError("upload.decode", err, "invalid multipart body")
	}

	var files []multipart.File
	cleanup := func() {
		for _, f := range files {
			f.Close()
		}
		if r.MultipartForm != nil {
			r.MultipartForm.RemoveAll()
		}
	}

	up := &media.Upload{Name: r.FormValue("name")}
	for _, field := range []struct {
		name string
		part *media.Part
	}{
		{"pic", &up.Pic},
		{"audio", &up.Audio},
	} {
		f, header, err := r.FormFile(field.name)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		} else if err != nil {
			cleanup()
			return nil, noop, bodyError("upload.decode", err, "invalid "+field.name+" part")
		}
		files = append(files, f)

		contentType := header.Header.Get("Content-Type")
		if contentType == "" {
			contentType = fallbackContentType
		}
		*field.part = media.Part{Body: f, ContentType: contentType}
	}
	return up, cleanup, nil
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return bodyError("decode_json", err, "invalid JSON body")
	}
	return nil
}

func bodyError(op string, err error, message string) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperr.Validation(op, "request body too large")
	}
	return apperr.Validation(op, message)
}

func noop() {}
