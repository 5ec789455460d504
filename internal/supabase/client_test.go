package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	return NewClient(server.URL, "service-key", WithHTTPClient(server.Client()))
}

func TestFindUserByEmailPages(t *testing.T) {
	var pages []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("apikey"); got != "service-key" {
			t.Errorf("apikey = %q, want %q", got, "service-key")
		}
		if got := r.Header.Get("Authorization"); got != "Bearer service-key" {
			t.Errorf("Authorization = %q", got)
		}
		page := r.URL.Query().Get("page")
		pages = append(pages, page)

		var users []User
		if page == "1" {
			users = make([]User, usersPerPage)
			for i := range users {
				users[i] = User{ID: strconv.Itoa(i), Email: "user" + strconv.Itoa(i) + "@example.com"}
			}
		} else {
			users = []User{{ID: "target", Email: "Ana@Example.com"}}
		}
		json.NewEncoder(w).Encode(listUsersResponse{Users: users})
	})

	u, err := c.FindUserByEmail(context.Background(), " ana@example.com ")
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if u == nil || u.ID != "target" {
		t.Fatalf("user = %+v, want target", u)
	}
	if len(pages) != 2 {
		t.Errorf("requested pages %v, want 2 pages", pages)
	}
}

func TestFindUserByEmailNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(listUsersResponse{Users: []User{{ID: "1", Email: "other@example.com"}}})
	})

	u, err := c.FindUserByEmail(context.Background(), "ana@example.com")
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if u != nil {
		t.Errorf("user = %+v, want nil", u)
	}
}

func TestGenerateLinkNestedProperties(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["type"] != LinkMagic {
			t.Errorf("type = %v", body["type"])
		}
		opts, _ := body["options"].(map[string]any)
		if opts["redirect_to"] != "https://narra.test/app/" {
			t.Errorf("redirect_to = %v", opts["redirect_to"])
		}
		w.Write([]byte(`{"id":"u1","properties":{"action_link":"https://x.supabase.co/auth/v1/verify?token=t","email_otp":"123456","hashed_token":"h"}}`))
	})

	link, err := c.GenerateLink(context.Background(), GenerateLinkParams{
		Type:       LinkMagic,
		Email:      "ana@example.com",
		RedirectTo: "https://narra.test/app/",
	})
	if err != nil {
		t.Fatalf("generate link: %v", err)
	}
	if link.EmailOTP != "123456" || link.HashedToken != "h" {
		t.Errorf("link = %+v", link)
	}
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"msg":"email exists"}`))
	})

	_, err := c.CreateUser(context.Background(), CreateUserParams{Email: "ana@example.com"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d", apiErr.StatusCode)
	}
	detail, _ := apiErr.Detail().(map[string]any)
	if detail["msg"] != "email exists" {
		t.Errorf("detail = %v", apiErr.Detail())
	}
}

func TestUpsertPreferHeader(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/story_reactions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("on_conflict"); got != "author_id,story_id,subscriber_id" {
			t.Errorf("on_conflict = %q", got)
		}
		if got := r.Header.Get("Prefer"); got != "resolution=merge-duplicates,return=representation" {
			t.Errorf("Prefer = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		w.Write([]byte("[" + string(body) + "]"))
	})

	var rows []map[string]any
	err := c.Upsert(context.Background(), "story_reactions", "author_id,story_id,subscriber_id",
		map[string]any{"reaction_type": "heart"}, &rows)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if len(rows) != 1 || rows[0]["reaction_type"] != "heart" {
		t.Errorf("rows = %v", rows)
	}
}

func TestFilterAndDelete(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		q := r.URL.Query()
		if q.Get("id") != "eq.s1" || q.Get("author_id") != "eq.a1" {
			t.Errorf("query = %v", q)
		}
		if got := r.Header.Get("Prefer"); got != "return=minimal" {
			t.Errorf("Prefer = %q", got)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.Delete(context.Background(), "subscribers", Filter("id", "s1", "author_id", "a1")); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestParseAccessToken(t *testing.T) {
	secret := "jwt-secret"
	sign := func(claims jwt.Claims, key string) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}

	valid := sign(Claims{
		Email: "ana@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, secret)

	claims, err := ParseAccessToken(valid, secret)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "user-1" || claims.Email != "ana@example.com" {
		t.Errorf("claims = %+v", claims)
	}

	expired := sign(Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}}, secret)

	tests := map[string]string{
		"empty":      "",
		"expired":    expired,
		"wrong key":  sign(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}, "other"),
		"no subject": sign(Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}, secret),
	}
	for name, tok := range tests {
		if _, err := ParseAccessToken(tok, secret); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: err = %v, want ErrInvalidToken", name, err)
		}
	}
}
