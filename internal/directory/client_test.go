package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/hitoshi/secureops/internal/model"
	"github.com/hitoshi/secureops/internal/upstream"
)

func newTestClient(t *testing.T, server *httptest.Server, config Config, recorder PhotoRecorder) *Client {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	config.BaseURL = server.URL
	req := upstream.NewRequester(server.Client(), SourceName, logger)
	return NewClient(req, logger, config, recorder)
}

type countingRecorder struct {
	n atomic.Int32
}

func (r *countingRecorder) RecordPhotoFallback() { r.n.Add(1) }

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func license(sku string) []map[string]string {
	return []map[string]string{{"skuId": sku}}
}

func TestClient_FetchUsers_FollowsNextLink(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1.0/users" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("page") == "2" {
			writeJSON(w, map[string]any{
				"value": []map[string]any{
					{"id": "u3", "displayName": "Bianca", "mail": "bianca@contoso.com"},
				},
			})
			return
		}
		if got := r.URL.Query().Get("$select"); got != usersSelect {
			t.Errorf("$select = %q, want %q", got, usersSelect)
		}
		if got := r.URL.Query().Get("$top"); got != "999" {
			t.Errorf("$top = %q, want 999", got)
		}
		writeJSON(w, map[string]any{
			"value": []map[string]any{
				{"id": "u1", "displayName": "Adele", "mail": "adele@contoso.com", "jobTitle": "PM", "department": "Product"},
				{"id": "u2", "displayName": "Alex", "mail": "alex@contoso.com"},
			},
			"@odata.nextLink": server.URL + "/v1.0/users?page=2",
		})
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{}, nil)

	users, err := c.FetchUsers(context.Background())
	if err != nil {
		t.Fatalf("FetchUsers returned error: %v", err)
	}
	if len(users) != 3 {
		t.Fatalf("len(users) = %d, want 3", len(users))
	}
	for i, want := range []string{"u1", "u2", "u3"} {
		if users[i].ID != want {
			t.Errorf("users[%d].ID = %q, want %q", i, users[i].ID, want)
		}
	}
	if users[0].JobTitle != "PM" || users[0].Department != "Product" {
		t.Errorf("users[0] = %+v", users[0])
	}
	if users[0].Role != model.RoleViewer {
		t.Errorf("Role = %q, want Viewer", users[0].Role)
	}
}

func TestClient_FetchUsers_FiltersByLicense(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"value": []map[string]any{
				{"id": "u1", "mail": "a@contoso.com", "assignedLicenses": license(DefaultLicenseSKUs[0])},
				{"id": "u2", "mail": "b@contoso.com", "assignedLicenses": license("00000000-0000-0000-0000-000000000000")},
				{"id": "u3", "mail": "c@contoso.com"},
				{"id": "u4", "mail": "d@contoso.com", "assignedLicenses": license(strings.ToUpper(DefaultLicenseSKUs[3]))},
			},
		})
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{LicenseSKUs: DefaultLicenseSKUs}, nil)

	users, err := c.FetchUsers(context.Background())
	if err != nil {
		t.Fatalf("FetchUsers returned error: %v", err)
	}
	if len(users) != 2 || users[0].ID != "u1" || users[1].ID != "u4" {
		t.Errorf("users = %+v, want u1 and u4", users)
	}
}

func TestClient_FetchUsers_AssignsAdminRole(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"value": []map[string]any{
				{"id": "u1", "mail": "Admin@Contoso.com"},
				{"id": "u2", "mail": "viewer@contoso.com"},
				{"id": "u3", "mail": ""},
			},
		})
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{AdminEmails: []string{" admin@contoso.com ", ""}}, nil)

	users, err := c.FetchUsers(context.Background())
	if err != nil {
		t.Fatalf("FetchUsers returned error: %v", err)
	}
	if users[0].Role != model.RoleAdmin {
		t.Errorf("users[0].Role = %q, want Admin", users[0].Role)
	}
	if users[1].Role != model.RoleViewer || users[2].Role != model.RoleViewer {
		t.Errorf("roles = %q, %q, want Viewer", users[1].Role, users[2].Role)
	}
}

func TestClient_FetchUsers_PhotoFallbackPerUser(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1.0/users":
			writeJSON(w, map[string]any{
				"value": []map[string]any{
					{"id": "u1", "mail": "a@contoso.com"},
					{"id": "u2", "mail": "b@contoso.com"},
					{"id": "u3", "mail": "c@contoso.com"},
				},
			})
		case "/v1.0/users/u1/photo/$value":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("png"))
		case "/v1.0/users/u3/photo/$value":
			w.Write([]byte("jpg"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	rec := &countingRecorder{}
	c := newTestClient(t, server, Config{FetchPhotos: true, PhotoConcurrency: 2}, rec)

	users, err := c.FetchUsers(context.Background())
	if err != nil {
		t.Fatalf("FetchUsers returned error: %v", err)
	}

	if users[0].PhotoURL != "data:image/png;base64,cG5n" {
		t.Errorf("users[0].PhotoURL = %q", users[0].PhotoURL)
	}
	if users[1].PhotoURL != FallbackPhotoURL("b@contoso.com") {
		t.Errorf("users[1].PhotoURL = %q, want fallback", users[1].PhotoURL)
	}
	// Content-Typeが画像でない場合はimage/jpegとして扱う
	if !strings.HasPrefix(users[2].PhotoURL, "data:image/jpeg;base64,") {
		t.Errorf("users[2].PhotoURL = %q", users[2].PhotoURL)
	}
	if rec.n.Load() != 1 {
		t.Errorf("fallback count = %d, want 1", rec.n.Load())
	}
}

func TestClient_FetchUsers_PhotosDisabledUsesFallback(t *testing.T) {
	var photoCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/photo/$value") {
			photoCalls.Add(1)
		}
		writeJSON(w, map[string]any{"value": []map[string]any{{"id": "u1", "mail": "a@contoso.com"}}})
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{FetchPhotos: false}, nil)

	users, err := c.FetchUsers(context.Background())
	if err != nil {
		t.Fatalf("FetchUsers returned error: %v", err)
	}
	if users[0].PhotoURL != FallbackPhotoURL("a@contoso.com") {
		t.Errorf("PhotoURL = %q", users[0].PhotoURL)
	}
	if photoCalls.Load() != 0 {
		t.Errorf("photo calls = %d, want 0", photoCalls.Load())
	}
}

func TestClient_FetchUsers_AuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":"Authorization_RequestDenied"}}`)
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{}, nil)

	_, err := c.FetchUsers(context.Background())
	fe, ok := model.AsFetchError(err)
	if !ok {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fe.Source != SourceName || fe.Kind != model.FetchKindAuth {
		t.Errorf("FetchError = (%q, %q), want (directory, auth)", fe.Source, fe.Kind)
	}
}

func TestFallbackPhotoURL_Deterministic(t *testing.T) {
	a := FallbackPhotoURL("a+b@contoso.com")
	if a != FallbackPhotoURL("a+b@contoso.com") {
		t.Error("fallback URL should be deterministic")
	}
	if a != "https://i.pravatar.cc/150?u=a%2Bb%40contoso.com" {
		t.Errorf("FallbackPhotoURL = %q", a)
	}
}
