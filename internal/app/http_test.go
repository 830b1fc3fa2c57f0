package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestServer(t *testing.T, fs *fakeStore) (*httptest.Server, *Service) {
	t.Helper()
	svc := newTestService(t, fs)
	server := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	t.Cleanup(server.Close)
	return server, svc
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
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
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func loginHTTP(t *testing.T, server *httptest.Server, name string) string {
	t.Helper()
	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/session/login", "", map[string]any{"name": name})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, body %v", resp.StatusCode, payload)
	}
	token, _ := payload["token"].(string)
	if token == "" {
		t.Fatalf("no token in login response: %v", payload)
	}
	return token
}

func TestHealthAndReady(t *testing.T) {
	server, _ := newTestServer(t, newFakeStore())

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/health", "", nil)
	if resp.StatusCode != http.StatusOK || payload["ok"] != true {
		t.Fatalf("health = %d %v", resp.StatusCode, payload)
	}

	resp, payload = doJSON(t, http.MethodGet, server.URL+"/api/ready", "", nil)
	if resp.StatusCode != http.StatusOK || payload["ok"] != true {
		t.Fatalf("ready = %d %v", resp.StatusCode, payload)
	}
}

func TestRequiresAuthentication(t *testing.T) {
	server, _ := newTestServer(t, newFakeStore())

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/threads", "", nil)
	if resp.StatusCode != http.StatusUnauthorized || payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("unauthenticated = %d %v", resp.StatusCode, payload)
	}

	resp, _ = doJSON(t, http.MethodGet, server.URL+"/api/threads", "not-a-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d", resp.StatusCode)
	}
}

func TestSessionEndpoint(t *testing.T) {
	server, _ := newTestServer(t, newFakeStore())
	token := loginHTTP(t, server, "Alice")

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/session", token, nil)
	if resp.StatusCode != http.StatusOK || payload["authenticated"] != true || payload["userName"] != "Alice" {
		t.Fatalf("session = %d %v", resp.StatusCode, payload)
	}

	// No token is not an error, just unauthenticated.
	resp, payload = doJSON(t, http.MethodGet, server.URL+"/api/session", "", nil)
	if resp.StatusCode != http.StatusOK || payload["authenticated"] != false {
		t.Fatalf("anonymous session = %d %v", resp.StatusCode, payload)
	}
}

func TestThreadLifecycleOverHTTP(t *testing.T) {
	server, _ := newTestServer(t, newFakeStore())
	token := loginHTTP(t, server, "Alice")

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/threads", token, map[string]any{
		"title":   "Deploy",
		"content": "rollout plan",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d %v", resp.StatusCode, payload)
	}
	thread := payload["thread"].(map[string]any)
	threadID := thread["id"].(string)
	if thread["status"] != "pending" {
		t.Fatalf("thread = %v", thread)
	}

	resp, payload = doJSON(t, http.MethodPost, server.URL+"/api/threads/"+threadID+"/replies", token, map[string]any{
		"content": "on it",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("reply = %d %v", resp.StatusCode, payload)
	}

	resp, payload = doJSON(t, http.MethodPost, server.URL+"/api/threads/"+threadID+"/reactions", token, map[string]any{
		"emoji": "👍",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("react = %d %v", resp.StatusCode, payload)
	}

	resp, payload = doJSON(t, http.MethodGet, server.URL+"/api/threads", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list = %d %v", resp.StatusCode, payload)
	}
	threads := payload["threads"].([]any)
	if len(threads) != 1 {
		t.Fatalf("threads = %v", threads)
	}
	got := threads[0].(map[string]any)
	if len(got["replies"].([]any)) != 1 || len(got["reactions"].([]any)) != 1 {
		t.Fatalf("nested thread = %v", got)
	}

	resp, payload = doJSON(t, http.MethodPost, server.URL+"/api/threads/"+threadID+"/status", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("toggle status = %d %v", resp.StatusCode, payload)
	}
	if payload["thread"].(map[string]any)["status"] != "completed" {
		t.Fatalf("toggled = %v", payload)
	}

	resp, payload = doJSON(t, http.MethodDelete, server.URL+"/api/threads/"+threadID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete = %d %v", resp.StatusCode, payload)
	}
}

func TestDeleteForbiddenForOtherMember(t *testing.T) {
	server, _ := newTestServer(t, newFakeStore())
	alice := loginHTTP(t, server, "Alice")
	bob := loginHTTP(t, server, "Bob")

	_, payload := doJSON(t, http.MethodPost, server.URL+"/api/threads", alice, map[string]any{
		"title": "Mine", "content": "x",
	})
	threadID := payload["thread"].(map[string]any)["id"].(string)

	resp, payload := doJSON(t, http.MethodDelete, server.URL+"/api/threads/"+threadID, bob, nil)
	if resp.StatusCode != http.StatusForbidden || payload["code"] != "FORBIDDEN" {
		t.Fatalf("delete by other member = %d %v", resp.StatusCode, payload)
	}
}

func TestMentionCandidatesEndpoint(t *testing.T) {
	server, _ := newTestServer(t, newFakeStore())
	token := loginHTTP(t, server, "Alice")
	loginHTTP(t, server, "Bob")

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/mentions/candidates?q=bo", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("candidates = %d %v", resp.StatusCode, payload)
	}
	candidates := payload["candidates"].([]any)
	if len(candidates) != 1 {
		t.Fatalf("candidates = %v, want just Bob", candidates)
	}
	if candidates[0].(map[string]any)["display"] != "Bob" {
		t.Fatalf("candidate = %v", candidates[0])
	}
}

func TestRenderEndpoint(t *testing.T) {
	server, _ := newTestServer(t, newFakeStore())
	token := loginHTTP(t, server, "Alice")

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/mentions/render", token, map[string]any{
		"content": "hello @Alice",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("render = %d %v", resp.StatusCode, payload)
	}
	if payload["mentionsYou"] != true {
		t.Fatalf("payload = %v", payload)
	}
	if html, _ := payload["html"].(string); !strings.Contains(html, "mention-self") {
		t.Fatalf("html = %q", html)
	}
}

func TestValidationErrors(t *testing.T) {
	server, _ := newTestServer(t, newFakeStore())
	token := loginHTTP(t, server, "Alice")

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/threads?team=abc", token, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("bad team param = %d %v", resp.StatusCode, payload)
	}

	resp, payload = doJSON(t, http.MethodPost, server.URL+"/api/threads", token, map[string]any{"content": "no title"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("missing title = %d %v", resp.StatusCode, payload)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	server, _ := newTestServer(t, newFakeStore())
	token := loginHTTP(t, server, "Alice")

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/nope", token, nil)
	if resp.StatusCode != http.StatusNotFound || payload["code"] != "NOT_FOUND" {
		t.Fatalf("unknown route = %d %v", resp.StatusCode, payload)
	}
}

// readStreamEvent reads one "event: feed" block from an SSE stream, skipping
// heartbeat comments.
func readStreamEvent(t *testing.T, reader *bufio.Reader) map[string]any {
	t.Helper()
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &payload); err != nil {
			t.Fatalf("decode stream payload %q: %v", line, err)
		}
		return payload
	}
}

func TestFeedStream(t *testing.T) {
	server, svc := newTestServer(t, newFakeStore())
	token := loginHTTP(t, server, "Alice")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// EventSource cannot set headers, so the token rides in the query string.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/feed/stream?token="+token, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	initial := readStreamEvent(t, reader)
	if len(initial["threads"].([]any)) != 0 {
		t.Fatalf("initial snapshot = %v, want empty feed", initial)
	}

	// A mutation elsewhere must reach the stream via the change
	// notification, without this connection doing anything.
	session, err := svc.SessionFromToken(ctx, token)
	if err != nil {
		t.Fatalf("SessionFromToken() error = %v", err)
	}
	if _, err := svc.CreateThread(ctx, session, CreateThreadInput{Title: "Live", Content: "x"}); err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		payload := readStreamEvent(t, reader)
		threads := payload["threads"].([]any)
		if len(threads) == 1 {
			got := threads[0].(map[string]any)
			if got["title"] != "Live" {
				t.Fatalf("streamed thread = %v", got)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stream never delivered the new thread")
		}
	}
}

func TestFeedStreamRequiresToken(t *testing.T) {
	server, _ := newTestServer(t, newFakeStore())

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/feed/stream", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("stream without token = %d %v", resp.StatusCode, payload)
	}
}

func TestSearchDisabledReturns503(t *testing.T) {
	server, _ := newTestServer(t, newFakeStore())
	token := loginHTTP(t, server, "Alice")

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/search?q=deploy", token, nil)
	if resp.StatusCode != http.StatusServiceUnavailable || payload["code"] != "SEARCH_DISABLED" {
		t.Fatalf("search = %d %v", resp.StatusCode, payload)
	}
}

func TestAttachmentsDisabledReturns503(t *testing.T) {
	server, _ := newTestServer(t, newFakeStore())
	token := loginHTTP(t, server, "Alice")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("threadId", "t1"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	part, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("hello")); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, server.URL+"/api/attachments", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("upload without object store = %d", resp.StatusCode)
	}
}
