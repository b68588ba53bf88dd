package handlers

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/storefront/api/internal/platform/storage"
	"github.com/storefront/api/internal/services"
)

func multipartRequest(t *testing.T, field string, files map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.WriteField("note", "ignored"); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadHandlersUploadsFiles(t *testing.T) {
	ta := newTestAuth(t)
	var contents []string
	uploads := &stubUploadService{
		uploadFn: func(_ context.Context, caller services.Principal, files []storage.File) ([]string, error) {
			if caller.ID != testAdmin.ID {
				t.Fatalf("unexpected caller %+v", caller)
			}
			urls := make([]string, 0, len(files))
			for _, f := range files {
				rc, err := f.Open()
				if err != nil {
					t.Fatalf("open %s: %v", f.Name, err)
				}
				data, _ := io.ReadAll(rc)
				_ = rc.Close()
				contents = append(contents, string(data))
				urls = append(urls, "https://cdn.example.com/"+f.Name)
			}
			return urls, nil
		},
	}
	h := NewUploadHandlers(ta.authn, uploads, 0)

	req := multipartRequest(t, "images", map[string]string{"shirt.png": "\x89PNG-data"})
	req.Header.Set("Authorization", ta.bearer(t, testAdmin))
	rr := serve(h.Routes, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody[uploadResponse](t, rr)
	if len(body.URLs) != 1 || !strings.HasSuffix(body.URLs[0], "shirt.png") {
		t.Fatalf("unexpected urls %v", body.URLs)
	}
	if len(contents) != 1 || contents[0] != "\x89PNG-data" {
		t.Fatalf("unexpected contents %q", contents)
	}
}

func TestUploadHandlersRejections(t *testing.T) {
	ta := newTestAuth(t)
	uploads := &stubUploadService{
		uploadFn: func(context.Context, services.Principal, []storage.File) ([]string, error) {
			return nil, services.ErrUploadInvalidInput
		},
	}
	h := NewUploadHandlers(ta.authn, uploads, 0)

	req := multipartRequest(t, "images", map[string]string{"a.png": "x"})
	req.Header.Set("Authorization", ta.bearer(t, testShopper))
	if rr := serve(h.Routes, req); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for shopper, got %d", rr.Code)
	}

	req = multipartRequest(t, "attachment", map[string]string{"a.png": "x"})
	req.Header.Set("Authorization", ta.bearer(t, testAdmin))
	rr := serve(h.Routes, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without image fields, got %d", rr.Code)
	}
	if body := decodeBody[map[string]any](t, rr); body["field"] != "images" {
		t.Fatalf("expected field images, got %v", body["field"])
	}

	req = multipartRequest(t, "image", map[string]string{"a.txt": "plain"})
	req.Header.Set("Authorization", ta.bearer(t, testAdmin))
	rr = serve(h.Routes, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "invalid_upload" {
		t.Fatalf("unexpected code %s", code)
	}

	req = jsonRequest(t, http.MethodPost, "/", map[string]string{"image": "nope"})
	req.Header.Set("Authorization", ta.bearer(t, testAdmin))
	if rr := serve(h.Routes, req); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-multipart body, got %d", rr.Code)
	}
}

func TestUploadHandlersRequestLimit(t *testing.T) {
	ta := newTestAuth(t)
	h := NewUploadHandlers(ta.authn, &stubUploadService{}, 16)

	req := multipartRequest(t, "images", map[string]string{"big.png": strings.Repeat("x", 512)})
	req.Header.Set("Authorization", ta.bearer(t, testAdmin))
	rr := serve(h.Routes, req)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}
