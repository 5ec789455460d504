package decode

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/narrahq/narra/internal/respond"
)

var emailSchema = MustCompile("email.json", `{
	"type": "object",
	"required": ["email"],
	"properties": {
		"email": {"type": "string", "minLength": 3},
		"count": {"type": "integer", "minimum": 1}
	}
}`)

type emailRequest struct {
	Email string `json:"email"`
	Count int    `json:"count"`
}

func TestDecodeValid(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"email":"ana@example.com","count":2}`))
	var req emailRequest
	if err := emailSchema.Decode(r, &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.Email != "ana@example.com" || req.Count != 2 {
		t.Errorf("req = %+v", req)
	}
}

func TestDecodeInvalid(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"malformed", `{"email":`, ""},
		{"empty", ``, ""},
		{"missing field", `{}`, ""},
		{"wrong type", `{"email": 42}`, "email"},
		{"below minimum", `{"email":"ana@example.com","count":0}`, "count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/", strings.NewReader(tt.body))
			var req emailRequest
			err := emailSchema.Decode(r, &req)
			if err == nil {
				t.Fatal("expected error")
			}
			if respond.Status(err) != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", respond.Status(err))
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if ve.Field != tt.wantField {
				t.Errorf("field = %q, want %q", ve.Field, tt.wantField)
			}
		})
	}
}

func TestDecodeForm(t *testing.T) {
	form := url.Values{"email": {"ana@example.com"}}
	r := httptest.NewRequest("POST", "/", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var req emailRequest
	if err := emailSchema.Decode(r, &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.Email != "ana@example.com" {
		t.Errorf("email = %q", req.Email)
	}
}

func TestValues(t *testing.T) {
	s := MustCompile("q.json", `{"type":"object","required":["token"],"properties":{"token":{"type":"string","minLength":1}}}`)
	var dst struct {
		Token string `json:"token"`
	}
	if err := s.Values(url.Values{"token": {"abc"}}, &dst); err != nil {
		t.Fatalf("values: %v", err)
	}
	if dst.Token != "abc" {
		t.Errorf("token = %q", dst.Token)
	}
	if err := s.Values(url.Values{}, &dst); err == nil {
		t.Error("expected error for missing token")
	}
}
