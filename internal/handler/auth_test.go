package handler

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestSendLoginPINUnknownEmail(t *testing.T) {
	e := newEnv(t)
	e.noUsers()
	h := NewAuthHandler(e.cfg, e.supabase, e.email, e.logger)

	rec := httptest.NewRecorder()
	h.SendLoginPIN(rec, jsonRequest("POST", "/api/send-login-pin", `{"email":"Nadie@Example.com"}`))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := decodeBody(t, rec)["error"]; got != MsgAccountNotFound {
		t.Errorf("error = %v, want %q", got, MsgAccountNotFound)
	}
	if n := len(e.sb.find("POST /auth/v1/admin/generate_link")); n != 0 {
		t.Errorf("generate_link calls = %d, want 0", n)
	}
	if e.mail.total() != 0 {
		t.Error("no email should be sent")
	}
}

func TestSendLoginPIN(t *testing.T) {
	e := newEnv(t)
	e.existingUser("user-1", "ana@example.com")
	e.sb.reply("POST /auth/v1/admin/generate_link", http.StatusOK, map[string]string{
		"action_link": "https://proj.supabase.co/auth/v1/verify?token=x",
		"email_otp":   "482913",
	})
	h := NewAuthHandler(e.cfg, e.supabase, e.email, e.logger)

	rec := httptest.NewRecorder()
	h.SendLoginPIN(rec, jsonRequest("POST", "/api/send-login-pin", `{"email":"  Ana@Example.com "}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody(t, rec)["success"]; got != true {
		t.Errorf("success = %v", got)
	}

	gl := e.sb.find("POST /auth/v1/admin/generate_link")
	if len(gl) != 1 {
		t.Fatalf("generate_link calls = %d, want 1", len(gl))
	}
	if body := gl[0].JSON(t); body["email"] != "ana@example.com" || body["type"] != "magiclink" {
		t.Errorf("generate_link body = %v", body)
	}

	mails := e.mail.find("POST /emails")
	if len(mails) != 1 {
		t.Fatalf("emails sent = %d, want 1", len(mails))
	}
	if !strings.Contains(string(mails[0].Body), "482913") {
		t.Error("email should contain the PIN")
	}
	if to := e.sentTo(t); to[0] != "ana@example.com" {
		t.Errorf("to = %v", to)
	}
}

func TestSendLoginPINEmailFailure(t *testing.T) {
	e := newEnv(t)
	e.existingUser("user-1", "ana@example.com")
	e.sb.reply("POST /auth/v1/admin/generate_link", http.StatusOK, map[string]string{"email_otp": "482913"})
	e.mail.reply("POST /emails", http.StatusUnprocessableEntity, map[string]string{"message": "invalid from"})
	h := NewAuthHandler(e.cfg, e.supabase, e.email, e.logger)

	rec := httptest.NewRecorder()
	h.SendLoginPIN(rec, jsonRequest("POST", "/api/send-login-pin", `{"email":"ana@example.com"}`))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := decodeBody(t, rec)
	details, ok := body["details"].(map[string]any)
	if !ok || details["message"] != "invalid from" {
		t.Errorf("details = %v, want upstream body", body["details"])
	}
}

func TestVerifyLoginPIN(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		response any
		want     int
	}{
		{"valid", http.StatusOK, map[string]any{"access_token": "at", "refresh_token": "rt", "expires_in": 3600, "user": map[string]string{"id": "user-1"}}, http.StatusOK},
		{"wrong pin", http.StatusForbidden, map[string]string{"msg": "Token has expired or is invalid"}, http.StatusUnauthorized},
		{"upstream down", http.StatusBadGateway, "bad gateway", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.sb.reply("POST /auth/v1/verify", tt.status, tt.response)
			h := NewAuthHandler(e.cfg, e.supabase, e.email, e.logger)

			rec := httptest.NewRecorder()
			h.VerifyLoginPIN(rec, jsonRequest("POST", "/api/verify-login-pin", `{"email":"ana@example.com","pin":"123456"}`))

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK {
				body := decodeBody(t, rec)
				if body["access_token"] != "at" || body["refresh_token"] != "rt" {
					t.Errorf("body = %v", body)
				}
				if v := e.sb.find("POST /auth/v1/verify")[0].JSON(t); v["type"] != "email" || v["token"] != "123456" {
					t.Errorf("verify body = %v", v)
				}
			}
		})
	}
}

func TestVerifyLoginPINRejectsMalformedPIN(t *testing.T) {
	e := newEnv(t)
	h := NewAuthHandler(e.cfg, e.supabase, e.email, e.logger)
	for _, pin := range []string{"12345", "abcdef", "1234567"} {
		rec := httptest.NewRecorder()
		h.VerifyLoginPIN(rec, jsonRequest("POST", "/api/verify-login-pin", `{"email":"ana@example.com","pin":"`+pin+`"}`))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("pin %q: status = %d, want 400", pin, rec.Code)
		}
	}
}

func TestSendMagicLinkRepairsLink(t *testing.T) {
	e := newEnv(t)
	e.existingUser("user-1", "ana@example.com")
	e.sb.reply("POST /auth/v1/admin/generate_link", http.StatusOK, map[string]any{
		"properties": map[string]string{
			"action_link": "https://proj.supabase.co/auth/v1/verify?token=tok&type=magiclink&redirect_to=http://localhost:3000/app/app/",
		},
	})
	h := NewAuthHandler(e.cfg, e.supabase, e.email, e.logger)

	rec := httptest.NewRecorder()
	h.SendMagicLink(rec, jsonRequest("POST", "/api/send-magic-link", `{"email":"ana@example.com","redirectTo":"https://evil.example/steal"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	gl := e.sb.find("POST /auth/v1/admin/generate_link")[0].JSON(t)
	opts, _ := gl["options"].(map[string]any)
	if opts["redirect_to"] != "https://narra.app/app/" {
		t.Errorf("redirect_to = %v, want app root for foreign host", opts["redirect_to"])
	}

	text, _ := e.mail.find("POST /emails")[0].JSON(t)["text"].(string)
	want := "redirect_to=" + url.QueryEscape("https://narra.app/app/")
	if !strings.Contains(text, want) {
		t.Errorf("email text missing repaired redirect %q:\n%s", want, text)
	}
	if strings.Contains(text, "localhost") {
		t.Errorf("email still links to localhost:\n%s", text)
	}
}

func TestSendCustomMagicLink(t *testing.T) {
	e := newEnv(t)
	e.existingUser("user-1", "ana@example.com")
	e.sb.reply("POST /rest/v1/magic_link_tokens", http.StatusCreated, nil)
	h := NewAuthHandler(e.cfg, e.supabase, e.email, e.logger)

	rec := httptest.NewRecorder()
	h.SendCustomMagicLink(rec, jsonRequest("POST", "/api/send-custom-magic-link", `{"email":"ana@example.com"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	row := e.sb.find("POST /rest/v1/magic_link_tokens")[0].JSON(t)
	token, _ := row["token"].(string)
	if len(token) != 64 {
		t.Errorf("token length = %d, want 64", len(token))
	}
	text, _ := e.mail.find("POST /emails")[0].JSON(t)["text"].(string)
	if !strings.Contains(text, "https://narra.app/app/magic?token="+token) {
		t.Errorf("email missing link with token:\n%s", text)
	}
}

func TestValidateMagicToken(t *testing.T) {
	const token = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	tests := []struct {
		name   string
		result map[string]any
		want   int
	}{
		{"valid", map[string]any{"valid": true, "email": "ana@example.com", "user_id": "user-1"}, http.StatusOK},
		{"expired", map[string]any{"valid": false, "reason": "expired"}, http.StatusForbidden},
		{"used", map[string]any{"valid": false, "reason": "used"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.sb.reply("POST /rest/v1/rpc/validate_magic_link_token", http.StatusOK, tt.result)
			e.sb.reply("POST /auth/v1/admin/generate_link", http.StatusOK, map[string]string{
				"action_link":  "https://proj.supabase.co/auth/v1/verify",
				"hashed_token": "hashed-abc",
			})
			e.sb.reply("POST /auth/v1/verify", http.StatusOK, map[string]any{"access_token": "at", "refresh_token": "rt"})
			h := NewAuthHandler(e.cfg, e.supabase, e.email, e.logger)

			req := jsonRequest("POST", "/api/validate-magic-token", `{"token":"`+token+`"}`)
			req.Header.Set("User-Agent", "narra-test")
			req.Header.Set("X-Forwarded-For", "198.51.100.7")
			rec := httptest.NewRecorder()
			h.ValidateMagicToken(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			args := e.sb.find("POST /rest/v1/rpc/validate_magic_link_token")[0].JSON(t)
			if args["p_token"] != token || args["p_ip"] != "198.51.100.7" || args["p_user_agent"] != "narra-test" {
				t.Errorf("rpc args = %v", args)
			}

			verifies := e.sb.find("POST /auth/v1/verify")
			if tt.want != http.StatusOK {
				if len(verifies) != 0 {
					t.Error("invalid token should not create a session")
				}
				return
			}
			if v := verifies[0].JSON(t); v["type"] != "magiclink" || v["token_hash"] != "hashed-abc" {
				t.Errorf("verify body = %v", v)
			}
			if decodeBody(t, rec)["access_token"] != "at" {
				t.Errorf("body = %s", rec.Body.String())
			}
		})
	}
}

func TestFixRedirectURL(t *testing.T) {
	const base = "https://narra.app"
	tests := []struct {
		in   string
		want string
	}{
		{"http://localhost:3000/app/", "https://narra.app/app/"},
		{"http://127.0.0.1:8080/app/app/stories", "https://narra.app/app/stories"},
		{"https://narra.app//app//app/", "https://narra.app/app/"},
		{"https://narra.app/blog/post", "https://narra.app/blog/post"},
		{"https://narra.app/blog/blog/post", "https://narra.app/blog/post"},
		{"https://narra.app/app/app/app/", "https://narra.app/app/"},
		{"https://narra.app/blog/historias/historias", "https://narra.app/blog/historias/historias"},
		{"https://narra.app/app/historias/historias/", "https://narra.app/app/historias/historias/"},
		{
			"https://proj.supabase.co/auth/v1/verify?redirect_to=http%3A%2F%2Flocalhost%3A3000%2Fapp%2Fapp%2F&token=t",
			"https://proj.supabase.co/auth/v1/verify?redirect_to=https%3A%2F%2Fnarra.app%2Fapp%2F&token=t",
		},
		{"not a url", "not a url"},
	}
	for _, tt := range tests {
		if got := FixRedirectURL(tt.in, base); got != tt.want {
			t.Errorf("FixRedirectURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRedirectTarget(t *testing.T) {
	const base = "https://narra.app"
	tests := map[string]string{
		"":                           "https://narra.app/app/",
		"/app/historias":             "https://narra.app/app/historias",
		"//evil.example/x":           "https://narra.app/app/",
		"https://evil.example/x":     "https://narra.app/app/",
		"https://narra.app/app/app/": "https://narra.app/app/",
	}
	for in, want := range tests {
		if got := redirectTarget(in, base); got != want {
			t.Errorf("redirectTarget(%q) = %q, want %q", in, got, want)
		}
	}
}
