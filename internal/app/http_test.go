package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"dochub/api/internal/events"
)

func newTestServer(t *testing.T) (*httptest.Server, *Service) {
	t.Helper()
	fake := newFakeStore()
	clock := newFakeClock()
	bus := events.New(16)
	t.Cleanup(bus.Close)
	svc := NewWithClock(testConfig(), fake, bus, nil, zerolog.Nop(), clock.Now)
	server := httptest.NewServer(NewHTTPServer(svc, "*", zerolog.Nop()).Handler())
	t.Cleanup(server.Close)
	return server, svc
}

func doJSON(t *testing.T, method, url, key string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, payload
}

func TestHealthEndpoints(t *testing.T) {
	server, _ := newTestServer(t)

	status, payload := doJSON(t, http.MethodGet, server.URL+"/api/health", "", nil)
	if status != http.StatusOK || payload["ok"] != true {
		t.Fatalf("health = %d %v", status, payload)
	}

	status, payload = doJSON(t, http.MethodGet, server.URL+"/api/ready", "", nil)
	if status != http.StatusOK || payload["status"] != "ready" {
		t.Fatalf("ready = %d %v", status, payload)
	}
}

func TestOpenAPIDocument(t *testing.T) {
	server, _ := newTestServer(t)

	status, payload := doJSON(t, http.MethodGet, server.URL+"/api/v1/openapi.json", "", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if payload["openapi"] == "" || payload["paths"] == nil {
		t.Fatalf("unexpected openapi document: %v", payload)
	}
}

func TestWorkspaceDocumentFlow(t *testing.T) {
	server, _ := newTestServer(t)
	base := server.URL + "/api/v1"

	status, created := doJSON(t, http.MethodPost, base+"/workspaces", "", map[string]any{
		"name": "Docs Team", "is_public": true,
	})
	if status != http.StatusCreated {
		t.Fatalf("create workspace = %d %v", status, created)
	}
	workspaceID := created["id"].(string)
	manageKey := created["manage_key"].(string)

	status, doc := doJSON(t, http.MethodPost, base+"/workspaces/"+workspaceID+"/docs", manageKey, map[string]any{
		"title": "Release Guide", "content": "Line one\nLine two", "status": "published",
	})
	if status != http.StatusCreated {
		t.Fatalf("create document = %d %v", status, doc)
	}
	if doc["slug"] != "release-guide" {
		t.Fatalf("slug = %v", doc["slug"])
	}
	docID := doc["id"].(string)

	status, fetched := doJSON(t, http.MethodGet, base+"/workspaces/"+workspaceID+"/docs/release-guide", "", nil)
	if status != http.StatusOK {
		t.Fatalf("get by slug = %d %v", status, fetched)
	}
	lockState := fetched["lock"].(map[string]any)
	if lockState["locked"] != false {
		t.Fatalf("lock = %v, want unlocked", lockState)
	}

	status, updated := doJSON(t, http.MethodPatch, base+"/workspaces/"+workspaceID+"/docs/"+docID, manageKey, map[string]any{
		"content": "Line one\nLine three",
	})
	if status != http.StatusOK {
		t.Fatalf("update document = %d %v", status, updated)
	}
	if updated["version"] != float64(2) {
		t.Fatalf("version = %v, want 2", updated["version"])
	}

	status, diff := doJSON(t, http.MethodGet, base+"/workspaces/"+workspaceID+"/docs/"+docID+"/diff?from=1&to=2", "", nil)
	if status != http.StatusOK {
		t.Fatalf("diff = %d %v", status, diff)
	}
	stats := diff["stats"].(map[string]any)
	if stats["insertions"] != float64(1) || stats["removals"] != float64(1) {
		t.Fatalf("stats = %v", stats)
	}

	status, versions := doJSON(t, http.MethodGet, base+"/workspaces/"+workspaceID+"/docs/"+docID+"/versions", "", nil)
	if status != http.StatusOK {
		t.Fatalf("versions = %d %v", status, versions)
	}
	list := versions["versions"].([]any)
	if len(list) != 2 {
		t.Fatalf("version count = %d, want 2", len(list))
	}
	newest := list[0].(map[string]any)
	if newest["sequence_number"] != float64(2) {
		t.Fatalf("newest sequence = %v, want 2", newest["sequence_number"])
	}
}

func TestErrorEnvelope(t *testing.T) {
	server, _ := newTestServer(t)

	status, payload := doJSON(t, http.MethodGet, server.URL+"/api/v1/workspaces/ws_missing", "", nil)
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
	if payload["code"] != "NOT_FOUND" {
		t.Fatalf("code = %v, want NOT_FOUND", payload["code"])
	}
	if payload["error"] == "" {
		t.Fatal("error message missing")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server, _ := newTestServer(t)

	status, payload := doJSON(t, http.MethodPut, server.URL+"/api/v1/workspaces", "", map[string]any{})
	if status != http.StatusMethodNotAllowed || payload["code"] != "METHOD_NOT_ALLOWED" {
		t.Fatalf("got %d %v", status, payload)
	}
}

func TestDiffRequiresQueryParams(t *testing.T) {
	server, svc := newTestServer(t)
	workspaceID, manageKey := createTestWorkspace(t, svc)
	docID := createTestDocument(t, svc, workspaceID, manageKey, "Guide", "text")

	url := fmt.Sprintf("%s/api/v1/workspaces/%s/docs/%s/diff?to=2", server.URL, workspaceID, docID)
	status, payload := doJSON(t, http.MethodGet, url, "", nil)
	if status != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("got %d %v", status, payload)
	}
}

func TestRateLimitOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)
	base := server.URL + "/api/v1/workspaces"

	post := func(ip string) (int, map[string]any) {
		var buf bytes.Buffer
		_ = json.NewEncoder(&buf).Encode(map[string]any{"name": "W"})
		req, err := http.NewRequest(http.MethodPost, base, &buf)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("X-Forwarded-For", ip)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		defer resp.Body.Close()
		var payload map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return resp.StatusCode, payload
	}

	for i := 0; i < 3; i++ {
		if status, payload := post("203.0.113.7"); status != http.StatusCreated {
			t.Fatalf("request %d = %d %v", i+1, status, payload)
		}
	}

	status, payload := post("203.0.113.7")
	if status != http.StatusTooManyRequests || payload["code"] != "RATE_LIMIT_EXCEEDED" {
		t.Fatalf("got %d %v, want 429 RATE_LIMIT_EXCEEDED", status, payload)
	}
	details := payload["details"].(map[string]any)
	if details["retry_after_secs"] == nil {
		t.Fatalf("details = %v, want retry_after_secs", details)
	}

	// A different client IP is unaffected.
	if status, payload := post("203.0.113.8"); status != http.StatusCreated {
		t.Fatalf("other client = %d %v", status, payload)
	}
}

func TestLockConflictOverHTTP(t *testing.T) {
	server, svc := newTestServer(t)
	workspaceID, manageKey := createTestWorkspace(t, svc)
	docID := createTestDocument(t, svc, workspaceID, manageKey, "Guide", "text")
	url := fmt.Sprintf("%s/api/v1/workspaces/%s/docs/%s/lock", server.URL, workspaceID, docID)

	status, payload := doJSON(t, http.MethodPost, url, manageKey, map[string]any{
		"editor": "alice", "ttl_seconds": 120,
	})
	if status != http.StatusOK || payload["status"] != "locked" {
		t.Fatalf("acquire = %d %v", status, payload)
	}

	status, payload = doJSON(t, http.MethodPost, url, manageKey, map[string]any{"editor": "bob"})
	if status != http.StatusConflict || payload["code"] != "LOCK_CONFLICT" {
		t.Fatalf("got %d %v, want 409 LOCK_CONFLICT", status, payload)
	}

	status, payload = doJSON(t, http.MethodDelete, url, manageKey, nil)
	if status != http.StatusOK || payload["status"] != "unlocked" {
		t.Fatalf("release = %d %v", status, payload)
	}
}

func TestManageKeyInQueryParam(t *testing.T) {
	server, svc := newTestServer(t)
	workspaceID, manageKey := createTestWorkspace(t, svc)

	url := fmt.Sprintf("%s/api/v1/workspaces/%s/docs?key=%s", server.URL, workspaceID, manageKey)
	status, payload := doJSON(t, http.MethodPost, url, "", map[string]any{"title": "Keyed"})
	if status != http.StatusCreated {
		t.Fatalf("got %d %v, want 201", status, payload)
	}
}

func TestCommentThreadOverHTTP(t *testing.T) {
	server, svc := newTestServer(t)
	workspaceID, manageKey := createTestWorkspace(t, svc)
	docID := createTestDocument(t, svc, workspaceID, manageKey, "Guide", "text")
	base := fmt.Sprintf("%s/api/v1/workspaces/%s/docs/%s/comments", server.URL, workspaceID, docID)

	status, root := doJSON(t, http.MethodPost, base, "", map[string]any{
		"author_name": "Sam", "content": "First pass looks good",
	})
	if status != http.StatusCreated {
		t.Fatalf("create comment = %d %v", status, root)
	}
	rootID := root["id"].(string)

	status, reply := doJSON(t, http.MethodPost, base, "", map[string]any{
		"author_name": "Priya", "content": "Agreed", "parent_id": rootID,
	})
	if status != http.StatusCreated || reply["parent_id"] != rootID {
		t.Fatalf("reply = %d %v", status, reply)
	}

	status, list := doJSON(t, http.MethodGet, base, "", nil)
	if status != http.StatusOK {
		t.Fatalf("list = %d %v", status, list)
	}
	if comments := list["comments"].([]any); len(comments) != 2 {
		t.Fatalf("comment count = %d, want 2", len(comments))
	}

	status, payload := doJSON(t, http.MethodPatch, base+"/"+rootID, manageKey, map[string]any{"resolved": true})
	if status != http.StatusOK {
		t.Fatalf("resolve = %d %v", status, payload)
	}
}
