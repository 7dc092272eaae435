package imagegen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/datachat-io/datachat/internal/log"
	"github.com/datachat-io/datachat/internal/tools"
)

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New("", log.NewNop())
	if !errors.Is(err, ErrBaseURLRequired) {
		t.Errorf("err = %v, want ErrBaseURLRequired", err)
	}
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate-image" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Prompt != "a red bridge" {
			t.Errorf("prompt = %q", req.Prompt)
		}
		if req.ImageData != "YW5jaG9y" || req.MIMEType != "image/jpeg" {
			t.Errorf("anchor not forwarded: %+v", req)
		}
		json.NewEncoder(w).Encode(response{
			MIMEType: "image/png",
			Data:     "aGVsbG8=",
			URL:      "https://img/out.png",
			FileName: "out.png",
		})
	}))
	defer srv.Close()

	c, err := New(srv.URL, log.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	img, err := c.Generate(context.Background(), "a red bridge",
		&tools.ImageRef{Data: "YW5jaG9y", MIMEType: "image/jpeg"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if img.URL != "https://img/out.png" || img.Data != "aGVsbG8=" {
		t.Errorf("image = %+v", img)
	}
}

func TestGenerateServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(response{Error: "model overloaded"})
	}))
	defer srv.Close()

	c, _ := New(srv.URL, log.NewNop())
	_, err := c.Generate(context.Background(), "x", nil)
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Errorf("err = %v", err)
	}
}

func TestGenerateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := New(srv.URL, log.NewNop())
	_, err := c.Generate(context.Background(), "x", nil)
	if err == nil || !strings.Contains(err.Error(), "status 500") {
		t.Errorf("err = %v", err)
	}
}

func TestGenerateEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(response{})
	}))
	defer srv.Close()

	c, _ := New(srv.URL, log.NewNop())
	_, err := c.Generate(context.Background(), "x", nil)
	if err == nil || !strings.Contains(err.Error(), "no image") {
		t.Errorf("err = %v", err)
	}
}
