package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestAuthWithPassword(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/collections/users/auth-with-password" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode auth body: %v", err)
		}
		if body["identity"] != "user@example.com" {
			t.Errorf("identity = %v, want user@example.com", body["identity"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"token":  "test-token",
			"record": map[string]any{"id": "usr1"},
		})
	}))
	defer server.Close()

	client := New(server.URL, nil)
	if err := client.AuthWithPassword(context.Background(), "user@example.com", "hunter2"); err != nil {
		t.Fatalf("AuthWithPassword failed: %v", err)
	}
	if client.Token() != "test-token" {
		t.Errorf("Token() = %q, want test-token", client.Token())
	}
}

func TestListPagination(t *testing.T) {
	pages := map[string][]map[string]any{
		"1": {{"id": "a"}, {"id": "b"}},
		"2": {{"id": "c"}},
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		pageNum := 1
		if page == "2" {
			pageNum = 2
		}
		json.NewEncoder(w).Encode(map[string]any{
			"page":       pageNum,
			"totalPages": 2,
			"items":      pages[page],
		})
	}))
	defer server.Close()

	client := New(server.URL, nil)
	records, err := client.List(context.Background(), "transactions")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[2]["id"] != "c" {
		t.Errorf("last record id = %v, want c", records[2]["id"])
	}
}

func TestCreateReturnsStoredRecord(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		payload["id"] = "remote123"
		json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := New(server.URL, nil)
	created, err := client.Create(context.Background(), "allocations", Record{"name": "Living"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created["id"] != "remote123" {
		t.Errorf("created id = %v, want remote123", created["id"])
	}
	if created["name"] != "Living" {
		t.Errorf("created name = %v, want Living", created["name"])
	}
}

func TestUpdateAndDeletePaths(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]any{"id": "rec1"})
	}))
	defer server.Close()

	client := New(server.URL, nil)
	ctx := context.Background()

	if _, err := client.Update(ctx, "debts", "rec1", Record{"remaining": "50"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if gotMethod != http.MethodPatch || gotPath != "/api/collections/debts/records/rec1" {
		t.Errorf("update request = %s %s", gotMethod, gotPath)
	}

	if err := client.Delete(ctx, "debts", "rec1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/api/collections/debts/records/rec1" {
		t.Errorf("delete request = %s %s", gotMethod, gotPath)
	}
}

func TestValidationErrorSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"code":    400,
			"message": "Failed to create record.",
			"data":    map[string]any{"amount": map[string]any{"code": "validation_required"}},
		})
	}))
	defer server.Close()

	client := New(server.URL, nil)
	_, err := client.Create(context.Background(), "transactions", Record{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsValidation(err) {
		t.Errorf("IsValidation(%v) = false, want true", err)
	}
	if IsRetryable(err) {
		t.Errorf("IsRetryable(%v) = true, want false", err)
	}
}

func TestServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(server.URL, nil)
	err := client.Health(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRetryable(err) {
		t.Errorf("IsRetryable(%v) = false, want true", err)
	}
	if IsValidation(err) {
		t.Errorf("IsValidation(%v) = true, want false", err)
	}
}

func TestConnectionRefusedIsRetryable(t *testing.T) {
	// Grab a port that is not listening.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := New(server.URL, nil)
	err := client.Health(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRetryable(err) {
		t.Errorf("IsRetryable(%v) = false, want true", err)
	}
}

func TestCancelledRequestIsNoOp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := New(server.URL, nil)
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := client.Health(ctx)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsCancelled(err) {
		t.Errorf("IsCancelled(%v) = false, want true", err)
	}
	if IsRetryable(err) {
		t.Errorf("IsRetryable(%v) = true, want false", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	wantExp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  "usr1",
		"exp": wantExp.Unix(),
	})
	signed, err := token.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}

	exp, err := tokenExpiry(signed)
	if err != nil {
		t.Fatalf("tokenExpiry failed: %v", err)
	}
	if !exp.Equal(wantExp) {
		t.Errorf("expiry = %v, want %v", exp, wantExp)
	}

	if _, err := tokenExpiry("not-a-jwt"); err == nil {
		t.Error("expected error for malformed token")
	}
}
