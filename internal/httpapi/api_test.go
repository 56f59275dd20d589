package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"pagehall.org/internal/auth"
	"pagehall.org/internal/catalog"
	"pagehall.org/internal/delivery"
	"pagehall.org/internal/gateway"
	"pagehall.org/internal/ids"
	"pagehall.org/internal/store/memory"
)

const testSecret = "test-secret-0123456789"

type testEnv struct {
	api   *API
	srv   *httptest.Server
	auth  *auth.Service
	store *memory.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.New()
	authSvc, err := auth.NewService(store, store, testSecret)
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	gw := gateway.New(authSvc, store)
	api := New(Services{
		Auth:     authSvc,
		Catalog:  catalog.NewService(store, nil),
		Delivery: delivery.NewService(store, delivery.WithPusher(gw)),
		Gateway:  gw,
	}, ReadyProbe{DB: store}, Config{Version: "test"})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{api: api, srv: srv, auth: authSvc, store: store}
}

// userWithRole stores a user and returns an access token for it.
func (e *testEnv) userWithRole(t *testing.T, name string, role auth.Role) (*auth.User, string) {
	t.Helper()
	hash, err := auth.HashPassword("password123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := &auth.User{
		ID:           ids.NewEntity(),
		UserName:     name,
		PasswordHash: hash,
		Role:         role,
		FullName:     name,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	pair, err := e.auth.Issue(context.Background(), u)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return u, pair.AccessToken
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, out
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["status"] != "ok" || out["version"] != "test" {
		t.Fatalf("unexpected body: %v", out)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestRegisterLoginRefreshLogout(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/register", "", map[string]string{
		"userName": "reader", "password": "password123", "fullName": "Avid Reader",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodPost, "/register", "", map[string]string{
		"userName": "READER", "password": "password123", "fullName": "Copy",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register: expected 409, got %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, "/login", "", map[string]string{"userName": "reader", "password": "wrong-pass"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login: expected 401, got %d", resp.StatusCode)
	}

	resp, body := env.do(t, http.MethodPost, "/login", "", map[string]string{"userName": "reader", "password": "password123"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", resp.StatusCode, body)
	}
	var login loginResponse
	if err := json.Unmarshal(body, &login); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if login.AccessToken == "" || login.RefreshToken == "" {
		t.Fatalf("missing tokens: %+v", login.TokenPair)
	}

	resp, body = env.do(t, http.MethodPost, "/refresh", "", map[string]string{"refreshToken": login.RefreshToken})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d: %s", resp.StatusCode, body)
	}
	var rotated auth.TokenPair
	if err := json.Unmarshal(body, &rotated); err != nil {
		t.Fatalf("decode refresh: %v", err)
	}

	resp, _ = env.do(t, http.MethodPost, "/refresh", "", map[string]string{"refreshToken": login.RefreshToken})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("reused refresh: expected 401, got %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, "/logout", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("logout without token: expected 401, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodPost, "/logout", rotated.AccessToken, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", resp.StatusCode)
	}
}

func TestCatalogMutationsRequirePolicy(t *testing.T) {
	env := newTestEnv(t)
	_, member := env.userWithRole(t, "member", auth.RoleMember)
	_, staff := env.userWithRole(t, "staff", auth.RoleStaff)

	payload := map[string]string{"name": "Poetry"}
	resp, _ := env.do(t, http.MethodPost, "/api/CreateCategory", "", payload)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous create: expected 401, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodPost, "/api/CreateCategory", "not-a-jwt", payload)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token: expected 401, got %d", resp.StatusCode)
	}
	resp, body := env.do(t, http.MethodPost, "/api/CreateCategory", member, payload)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("member create: expected 403, got %d", resp.StatusCode)
	}
	if diff := cmp.Diff(`{"error":"forbidden"}`, string(bytes.TrimSpace(body))); diff != "" {
		t.Fatalf("forbidden body mismatch (-want +got):\n%s", diff)
	}

	resp, body = env.do(t, http.MethodPost, "/api/CreateCategory", staff, payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("staff create: expected 200, got %d: %s", resp.StatusCode, body)
	}
	var env201 struct {
		ResultCd    int          `json:"resultCd"`
		MessageCode string       `json:"MessageCode"`
		Data        catalog.Item `json:"Data"`
	}
	if err := json.Unmarshal(body, &env201); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env201.MessageCode != codeCreated || env201.Data.Name != "Poetry" {
		t.Fatalf("unexpected envelope: %+v", env201)
	}

	resp, _ = env.do(t, http.MethodDelete, "/api/DeleteCategory/"+env201.Data.ID.String(), staff, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("staff delete: expected 403, got %d", resp.StatusCode)
	}
	if _, err := env.store.GetItem(context.Background(), catalog.KindCategory, env201.Data.ID); err != nil {
		t.Fatalf("item must survive forbidden delete: %v", err)
	}
}

func TestDeleteEnvelopeIdenticalForMissingID(t *testing.T) {
	env := newTestEnv(t)
	_, admin := env.userWithRole(t, "admin", auth.RoleAdmin)

	_, body := env.do(t, http.MethodPost, "/api/CreateAuthor", admin, map[string]string{"name": "Abai"})
	var created struct {
		Data catalog.Item `json:"Data"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	respA, bodyA := env.do(t, http.MethodDelete, "/api/DeleteAuthor/"+created.Data.ID.String(), admin, nil)
	respB, bodyB := env.do(t, http.MethodDelete, "/api/DeleteAuthor/"+ids.NewEntity().String(), admin, nil)
	respC, bodyC := env.do(t, http.MethodDelete, "/api/DeleteAuthor/not-a-uuid", admin, nil)
	for _, code := range []int{respA.StatusCode, respB.StatusCode, respC.StatusCode} {
		if code != http.StatusOK {
			t.Fatalf("expected 200 for every delete, got %d", code)
		}
	}
	if diff := cmp.Diff(string(bodyA), string(bodyB)); diff != "" {
		t.Fatalf("existing and missing delete differ (-existing +missing):\n%s", diff)
	}
	if diff := cmp.Diff(string(bodyA), string(bodyC)); diff != "" {
		t.Fatalf("existing and malformed delete differ (-existing +malformed):\n%s", diff)
	}

	resp, _ := env.do(t, http.MethodGet, "/api/GetAuthorById/"+created.Data.ID.String(), "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted author: expected 404, got %d", resp.StatusCode)
	}
}

func TestUpdateItem(t *testing.T) {
	env := newTestEnv(t)
	_, staff := env.userWithRole(t, "staff", auth.RoleStaff)

	_, body := env.do(t, http.MethodPost, "/api/CreateBook", staff, map[string]string{"name": "Draft"})
	var created struct {
		Data catalog.Item `json:"Data"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id := created.Data.ID.String()

	resp, _ := env.do(t, http.MethodPut, "/api/UpdateBook/"+id, staff, map[string]string{"id": ids.NewEntity().String(), "name": "Other"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("mismatched id: expected 400, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodPut, "/api/UpdateBook/"+id, staff, map[string]string{"id": id, "name": "Final"})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("update: expected 204, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodPut, "/api/UpdateBook/"+ids.NewEntity().String(), staff, map[string]string{"name": "Ghost"})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("update of missing id: expected 204, got %d", resp.StatusCode)
	}

	resp, body = env.do(t, http.MethodGet, "/api/GetBookByName/final", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get by name: expected 200, got %d", resp.StatusCode)
	}
	var got struct {
		Data catalog.Item `json:"Data"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Data.ID != created.Data.ID || got.Data.Name != "Final" {
		t.Fatalf("unexpected item: %+v", got.Data)
	}
}

func TestListItemsPagination(t *testing.T) {
	env := newTestEnv(t)
	_, staff := env.userWithRole(t, "staff", auth.RoleStaff)
	for _, name := range []string{"Golang", "Go Patterns", "Rust", "Go Fast", "Python", "Going Home", "Gopher"} {
		resp, _ := env.do(t, http.MethodPost, "/api/CreateBook", staff, map[string]string{"name": name})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("create %q: %d", name, resp.StatusCode)
		}
	}

	resp, body := env.do(t, http.MethodGet, "/api/GetAllBook?search=GO&sortBy=name_desc&page=1&pageSize=2", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	var page struct {
		Data  []catalog.Item `json:"Data"`
		Count int            `json:"count"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Count != 5 {
		t.Fatalf("expected count 5, got %d", page.Count)
	}
	var names []string
	for _, it := range page.Data {
		names = append(names, it.Name)
	}
	if diff := cmp.Diff([]string{"Gopher", "Golang"}, names); diff != "" {
		t.Fatalf("page mismatch (-want +got):\n%s", diff)
	}

	_, body = env.do(t, http.MethodGet, "/api/GetAllBook", "", nil)
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Count != 7 || len(page.Data) != 5 {
		t.Fatalf("default page: count=%d len=%d", page.Count, len(page.Data))
	}

	resp, body = env.do(t, http.MethodGet, "/api/GetAllBook?page=9223372036854775807&pageSize=100", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("huge page: expected 200, got %d: %s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Count != 7 || len(page.Data) != 0 {
		t.Fatalf("huge page: count=%d len=%d", page.Count, len(page.Data))
	}

	_, body = env.do(t, http.MethodGet, "/api/GetAllBook?page=9", "", nil)
	var empty map[string]json.RawMessage
	if err := json.Unmarshal(body, &empty); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(empty["Data"]) != "[]" || string(empty["count"]) != "7" {
		t.Fatalf("past-end page: %s", body)
	}
}

func TestMessageLifecycle(t *testing.T) {
	env := newTestEnv(t)
	_, sender := env.userWithRole(t, "sender", auth.RoleMember)
	recipient, recipientToken := env.userWithRole(t, "recipient", auth.RoleMember)

	resp, body := env.do(t, http.MethodPost, "/api/CreateMessage", sender, map[string]string{
		"recipientId": recipient.ID.String(),
		"title":       "Hello",
		"body":        "<b>hi</b><script>x</script>",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create message: expected 200, got %d: %s", resp.StatusCode, body)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/CreateNotification", sender, map[string]any{
		"recipients": []string{recipient.ID.String()}, "title": "t", "body": "b",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("member notification: expected 403, got %d", resp.StatusCode)
	}

	resp, body = env.do(t, http.MethodGet, "/api/messages/pending", recipientToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pending: expected 200, got %d", resp.StatusCode)
	}
	var pending struct {
		Data  []delivery.Pending `json:"Data"`
		Count int                `json:"count"`
	}
	if err := json.Unmarshal(body, &pending); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pending.Count != 1 || pending.Data[0].Event.Body != "<b>hi</b>" {
		t.Fatalf("unexpected pending: %+v", pending)
	}
	recordID := pending.Data[0].Record.ID

	resp, _ = env.do(t, http.MethodPost, "/api/deliveries/"+recordID+"/ack", sender, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("ack by non-recipient: expected 404, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodPost, "/api/deliveries/"+recordID+"/ack", recipientToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ack: expected 200, got %d", resp.StatusCode)
	}

	_, body = env.do(t, http.MethodGet, "/api/messages/pending", recipientToken, nil)
	if err := json.Unmarshal(body, &pending); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected nothing pending after ack, got %d", pending.Count)
	}
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/api/GetAllWidget", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil || out["error"] != "not found" {
		t.Fatalf("unexpected body %s (%v)", body, err)
	}
}
