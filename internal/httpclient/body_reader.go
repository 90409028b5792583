package httpclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/torosent/apiprobe/internal/match"
)

// BodySource produces a fresh request body for every attempt.
type BodySource interface {
	NewReader() (io.ReadCloser, error)
	ContentType() string
}

// ResourceError reports a local file that could not be used for a request
// body. It is the one failure Execute returns as an error.
type ResourceError struct {
	Path string
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("upload file %q: %v", e.Path, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

var bodyMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// NewBodySource picks the encoding for a call. Upload files produce a
// multipart body with any map body sent alongside as form fields.
// Otherwise a non-nil body on POST, PUT, PATCH or DELETE is sent as JSON
// when contentType is application/json and as form or raw data otherwise.
func NewBodySource(method string, body any, contentType string, uploadFiles map[string]string) (BodySource, error) {
	if len(uploadFiles) > 0 {
		files := make([]uploadFile, 0, len(uploadFiles))
		for field, path := range uploadFiles {
			info, err := os.Stat(path)
			if err != nil {
				return nil, &ResourceError{Path: path, Err: err}
			}
			if info.IsDir() {
				return nil, &ResourceError{Path: path, Err: fmt.Errorf("is a directory")}
			}
			files = append(files, uploadFile{field: field, path: path})
		}
		sort.Slice(files, func(i, j int) bool { return files[i].field < files[j].field })

		var fields map[string]any
		if m, ok := body.(map[string]any); ok {
			fields = m
		}
		return &multipartBodySource{
			files:    files,
			fields:   fields,
			boundary: multipart.NewWriter(io.Discard).Boundary(),
		}, nil
	}

	if body == nil || !bodyMethods[strings.ToUpper(method)] {
		return emptyBodySource{}, nil
	}

	if isJSON(contentType) {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode json body: %w", err)
		}
		return &inlineBodySource{data: data, contentType: contentType}, nil
	}

	switch b := body.(type) {
	case map[string]any:
		form := url.Values{}
		for k, v := range b {
			addFormValue(form, k, v)
		}
		ct := contentType
		if ct == "" {
			ct = "application/x-www-form-urlencoded"
		}
		return &inlineBodySource{data: []byte(form.Encode()), contentType: ct}, nil
	case []byte:
		return &inlineBodySource{data: b, contentType: contentType}, nil
	default:
		return &inlineBodySource{data: []byte(match.Stringify(b)), contentType: contentType}, nil
	}
}

func isJSON(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return ct == "application/json" || strings.HasPrefix(ct, "application/json;")
}

func addFormValue(form url.Values, key string, v any) {
	if list, ok := v.([]any); ok {
		for _, item := range list {
			form.Add(key, match.Stringify(item))
		}
		return
	}
	form.Add(key, match.Stringify(v))
}

type inlineBodySource struct {
	data        []byte
	contentType string
}

func (s *inlineBodySource) NewReader() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

func (s *inlineBodySource) ContentType() string {
	return s.contentType
}

type uploadFile struct {
	field string
	path  string
}

type multipartBodySource struct {
	files    []uploadFile
	fields   map[string]any
	boundary string
}

// NewReader opens every upload file, copies it into a multipart body and
// closes it again before returning.
func (s *multipartBodySource) NewReader() (io.ReadCloser, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(s.boundary); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(s.fields))
	for k := range s.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := w.WriteField(k, match.Stringify(s.fields[k])); err != nil {
			return nil, err
		}
	}

	for _, f := range s.files {
		if err := copyFilePart(w, f); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return io.NopCloser(&buf), nil
}

func copyFilePart(w *multipart.Writer, f uploadFile) error {
	file, err := os.Open(f.path)
	if err != nil {
		return &ResourceError{Path: f.path, Err: err}
	}
	defer file.Close()

	part, err := w.CreateFormFile(f.field, filepath.Base(f.path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return &ResourceError{Path: f.path, Err: err}
	}
	return nil
}

func (s *multipartBodySource) ContentType() string {
	return "multipart/form-data; boundary=" + s.boundary
}

type emptyBodySource struct{}

func (emptyBodySource) NewReader() (io.ReadCloser, error) {
	return http.NoBody, nil
}

func (emptyBodySource) ContentType() string {
	return ""
}
