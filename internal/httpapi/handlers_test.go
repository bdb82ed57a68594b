package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"rhythmflow.app/internal/auth"
	"rhythmflow.app/internal/booking"
	"rhythmflow.app/internal/roster"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	store   *booking.InMemory
	t       *testing.T
}

func newTestAPI(t *testing.T, devTokens bool) *apiClient {
	t.Helper()

	issuer, err := auth.NewIssuer("test-secret")
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	store := booking.NewInMemory()
	api := New(Deps{
		Service:    booking.NewService(store),
		Admin:      booking.NewAdmin(store),
		Users:      store,
		Issuer:     issuer,
		Version:    "test",
		DevTokens:  devTokens,
		RateBurst:  1000,
		RatePerSec: 1000,
	})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), store: store, t: t}
}

func (c *apiClient) do(method, path, token string, body any) *http.Response {
	c.t.Helper()
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) token(user string, role booking.Role) string {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/v1/auth/token", "", map[string]string{
		"user": user, "role": string(role), "full_name": strings.ToUpper(user[:1]) + user[1:],
	})
	var out tokenResponse
	expectStatus(c.t, resp, http.StatusOK, &out)
	if out.Token == "" || out.TokenType != "Bearer" {
		c.t.Fatalf("unexpected token response: %+v", out)
	}
	return out.Token
}

func (c *apiClient) createClass(adminToken string, capacity int) booking.DanceClass {
	c.t.Helper()
	start := time.Now().UTC().Add(72 * time.Hour).Truncate(time.Minute)
	resp := c.do(http.MethodPost, "/v1/classes", adminToken, map[string]any{
		"title":      "Contemporary Flow",
		"level":      "Intermediate",
		"teacher":    "Jessica Pearson",
		"start_time": start,
		"end_time":   start.Add(90 * time.Minute),
		"capacity":   capacity,
	})
	var out booking.DanceClass
	expectStatus(c.t, resp, http.StatusCreated, &out)
	if resp.Header.Get("Location") != "/v1/classes/"+out.ID {
		c.t.Fatalf("unexpected Location %q", resp.Header.Get("Location"))
	}
	return out
}

func expectStatus(t *testing.T, resp *http.Response, want int, dst any) {
	t.Helper()
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		t.Fatalf("%s %s: expected %d, got %d: %s", resp.Request.Method, resp.Request.URL.Path, want, resp.StatusCode, body)
	}
	if dst != nil {
		if err := json.Unmarshal(body, dst); err != nil {
			t.Fatalf("decode response: %v (%s)", err, body)
		}
	}
}

func expectErrorCode(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	var body map[string]any
	expectStatus(t, resp, status, &body)
	if body["code"] != code {
		t.Fatalf("expected code %q, got %v", code, body)
	}
	if body["request_id"] == nil || body["request_id"] == "" {
		t.Fatalf("expected request_id in error body: %v", body)
	}
}

func TestProbes(t *testing.T) {
	c := newTestAPI(t, false)

	var health map[string]any
	expectStatus(t, c.do(http.MethodGet, "/healthz", "", nil), http.StatusOK, &health)
	if health["status"] != "ok" || health["version"] != "test" {
		t.Fatalf("unexpected health payload: %v", health)
	}
	expectStatus(t, c.do(http.MethodGet, "/readyz", "", nil), http.StatusOK, nil)
	expectStatus(t, c.do(http.MethodGet, "/v1/info", "", nil), http.StatusOK, nil)

	resp := c.do(http.MethodGet, "/metrics", "", nil)
	expectStatus(t, resp, http.StatusOK, nil)
}

func TestAuthRequired(t *testing.T) {
	c := newTestAPI(t, true)

	resp := c.do(http.MethodGet, "/v1/classes", "", nil)
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}
	expectErrorCode(t, resp, http.StatusUnauthorized, "unauthorized")

	expectErrorCode(t, c.do(http.MethodGet, "/v1/classes", "not-a-token", nil), http.StatusUnauthorized, "unauthorized")
}

func TestDevTokensDisabled(t *testing.T) {
	c := newTestAPI(t, false)
	resp := c.do(http.MethodPost, "/v1/auth/token", "", map[string]string{"user": "alice"})
	expectStatus(t, resp, http.StatusNotFound, nil)
}

func TestTokenRequestValidation(t *testing.T) {
	c := newTestAPI(t, true)
	expectStatus(t, c.do(http.MethodPost, "/v1/auth/token", "", map[string]string{"user": " "}), http.StatusBadRequest, nil)
	expectStatus(t, c.do(http.MethodPost, "/v1/auth/token", "", map[string]string{"user": "a", "role": "teacher"}), http.StatusBadRequest, nil)
	expectStatus(t, c.do(http.MethodPost, "/v1/auth/token", "", map[string]any{"user": "a", "extra": true}), http.StatusBadRequest, nil)
}

func TestEnrollmentFlow(t *testing.T) {
	c := newTestAPI(t, true)
	adminTok := c.token("charlie", booking.RoleAdmin)
	aliceTok := c.token("alice", booking.RoleStudent)
	bobTok := c.token("bob", booking.RoleStudent)

	class := c.createClass(adminTok, 1)
	enrollPath := "/v1/classes/" + class.ID + "/enrollments"

	resp := c.do(http.MethodPost, enrollPath, aliceTok, nil)
	var alice booking.Enrollment
	expectStatus(t, resp, http.StatusCreated, &alice)
	if alice.StudentID != "alice" || resp.Header.Get("Location") != "/v1/enrollments/"+alice.ID {
		t.Fatalf("unexpected enrollment %+v (Location %q)", alice, resp.Header.Get("Location"))
	}

	expectErrorCode(t, c.do(http.MethodPost, enrollPath, aliceTok, nil), http.StatusConflict, "already_enrolled")
	expectErrorCode(t, c.do(http.MethodPost, enrollPath, bobTok, nil), http.StatusConflict, "class_full")

	var view booking.ClassView
	expectStatus(t, c.do(http.MethodGet, "/v1/classes/"+class.ID, aliceTok, nil), http.StatusOK, &view)
	if view.Occupancy != 1 || !view.Full || !view.Enrolled {
		t.Fatalf("unexpected class view: %+v", view)
	}

	expectErrorCode(t, c.do(http.MethodDelete, "/v1/enrollments/"+alice.ID, bobTok, nil), http.StatusForbidden, "forbidden")
	expectStatus(t, c.do(http.MethodDelete, "/v1/enrollments/"+alice.ID, aliceTok, nil), http.StatusNoContent, nil)
	expectErrorCode(t, c.do(http.MethodDelete, "/v1/enrollments/"+alice.ID, aliceTok, nil), http.StatusNotFound, "not_found")

	expectStatus(t, c.do(http.MethodPost, enrollPath, bobTok, nil), http.StatusCreated, nil)

	var mine myEnrollmentsResponse
	expectStatus(t, c.do(http.MethodGet, "/v1/me/enrollments", bobTok, nil), http.StatusOK, &mine)
	if len(mine.Items) != 1 || mine.Items[0].Class.ID != class.ID {
		t.Fatalf("unexpected schedule: %+v", mine)
	}
	expectStatus(t, c.do(http.MethodGet, "/v1/me/enrollments", aliceTok, nil), http.StatusOK, &mine)
	if len(mine.Items) != 0 {
		t.Fatalf("alice should have no enrollments: %+v", mine)
	}

	var list listClassesResponse
	expectStatus(t, c.do(http.MethodGet, "/v1/classes", aliceTok, nil), http.StatusOK, &list)
	if len(list.Items) != 1 || list.Items[0].Occupancy != 1 || list.Items[0].Enrolled {
		t.Fatalf("unexpected listing: %+v", list.Items)
	}
}

func TestEnrollUnknownClass(t *testing.T) {
	c := newTestAPI(t, true)
	tok := c.token("alice", booking.RoleStudent)
	expectErrorCode(t, c.do(http.MethodPost, "/v1/classes/missing/enrollments", tok, nil), http.StatusNotFound, "not_found")
	expectErrorCode(t, c.do(http.MethodGet, "/v1/classes/missing", tok, nil), http.StatusNotFound, "not_found")
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	c := newTestAPI(t, true)
	adminTok := c.token("charlie", booking.RoleAdmin)
	studentTok := c.token("alice", booking.RoleStudent)
	class := c.createClass(adminTok, 5)

	cases := []struct{ method, path string }{
		{http.MethodPost, "/v1/classes"},
		{http.MethodPatch, "/v1/classes/" + class.ID},
		{http.MethodDelete, "/v1/classes/" + class.ID},
		{http.MethodGet, "/v1/classes/" + class.ID + "/enrollments"},
		{http.MethodGet, "/v1/classes/" + class.ID + "/roster.xlsx"},
	}
	for _, tc := range cases {
		resp := c.do(tc.method, tc.path, studentTok, map[string]any{})
		expectErrorCode(t, resp, http.StatusForbidden, "forbidden")
	}
}

func TestCreateClassValidation(t *testing.T) {
	c := newTestAPI(t, true)
	adminTok := c.token("charlie", booking.RoleAdmin)
	start := time.Now().Add(time.Hour)

	resp := c.do(http.MethodPost, "/v1/classes", adminTok, map[string]any{
		"title": "Jz", "level": "Beginner", "teacher": "Harvey",
		"start_time": start, "end_time": start.Add(time.Hour), "capacity": 10,
	})
	expectErrorCode(t, resp, http.StatusBadRequest, "invalid_class")

	resp = c.do(http.MethodPost, "/v1/classes", adminTok, map[string]any{"title": "Jazz", "colour": "red"})
	expectStatus(t, resp, http.StatusBadRequest, nil)
}

func TestUpdateAndDeleteClass(t *testing.T) {
	c := newTestAPI(t, true)
	adminTok := c.token("charlie", booking.RoleAdmin)
	aliceTok := c.token("alice", booking.RoleStudent)
	class := c.createClass(adminTok, 5)
	expectStatus(t, c.do(http.MethodPost, "/v1/classes/"+class.ID+"/enrollments", aliceTok, nil), http.StatusCreated, nil)

	var updated booking.DanceClass
	expectStatus(t, c.do(http.MethodPatch, "/v1/classes/"+class.ID, adminTok, map[string]any{"capacity": 1, "teacher": "Mike Ross"}), http.StatusOK, &updated)
	if updated.Capacity != 1 || updated.Teacher != "Mike Ross" || updated.Title != class.Title {
		t.Fatalf("unexpected update: %+v", updated)
	}
	expectErrorCode(t, c.do(http.MethodPatch, "/v1/classes/"+class.ID, adminTok, map[string]any{"capacity": 0}), http.StatusBadRequest, "invalid_class")

	expectStatus(t, c.do(http.MethodDelete, "/v1/classes/"+class.ID, adminTok, nil), http.StatusNoContent, nil)
	expectErrorCode(t, c.do(http.MethodGet, "/v1/classes/"+class.ID, aliceTok, nil), http.StatusNotFound, "not_found")

	var mine myEnrollmentsResponse
	expectStatus(t, c.do(http.MethodGet, "/v1/me/enrollments", aliceTok, nil), http.StatusOK, &mine)
	if len(mine.Items) != 0 {
		t.Fatalf("enrollments should be removed with the class: %+v", mine)
	}
}

func TestRosterEndpoints(t *testing.T) {
	c := newTestAPI(t, true)
	adminTok := c.token("charlie", booking.RoleAdmin)
	aliceTok := c.token("alice", booking.RoleStudent)
	class := c.createClass(adminTok, 5)
	expectStatus(t, c.do(http.MethodPost, "/v1/classes/"+class.ID+"/enrollments", aliceTok, nil), http.StatusCreated, nil)

	var ro booking.Roster
	expectStatus(t, c.do(http.MethodGet, "/v1/classes/"+class.ID+"/enrollments", adminTok, nil), http.StatusOK, &ro)
	if ro.Occupancy != 1 || len(ro.Entries) != 1 || ro.Entries[0].Student.FullName != "Alice" {
		t.Fatalf("unexpected roster: %+v", ro)
	}

	resp := c.do(http.MethodGet, "/v1/classes/"+class.ID+"/roster.xlsx", adminTok, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != roster.ContentType {
		t.Fatalf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(resp.Header.Get("Content-Disposition"), roster.Filename(class)) {
		t.Fatalf("unexpected disposition %q", resp.Header.Get("Content-Disposition"))
	}
	f, err := excelize.OpenReader(resp.Body)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(roster.SheetName)
	if err != nil || len(rows) == 0 {
		t.Fatalf("GetRows: %v", err)
	}
}

func TestConcurrentEnrollOverHTTP(t *testing.T) {
	c := newTestAPI(t, true)
	adminTok := c.token("charlie", booking.RoleAdmin)
	class := c.createClass(adminTok, 3)

	const students = 20
	tokens := make([]string, students)
	for i := range tokens {
		tokens[i] = c.token(fmt.Sprintf("student-%02d", i), booking.RoleStudent)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[int]int{}
	)
	for _, tok := range tokens {
		wg.Add(1)
		go func(tok string) {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodPost, c.baseURL+"/v1/classes/"+class.ID+"/enrollments", nil)
			req.Header.Set("Authorization", "Bearer "+tok)
			resp, err := c.client.Do(req)
			if err != nil {
				t.Errorf("request: %v", err)
				return
			}
			resp.Body.Close()
			mu.Lock()
			statuses[resp.StatusCode]++
			mu.Unlock()
		}(tok)
	}
	wg.Wait()

	if statuses[http.StatusCreated] != 3 || statuses[http.StatusConflict] != students-3 {
		t.Fatalf("unexpected status distribution: %v", statuses)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	c := newTestAPI(t, true)
	tok := c.token("alice", booking.RoleStudent)
	resp := c.do(http.MethodPut, "/v1/classes", tok, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestOversizedBodyRejected(t *testing.T) {
	c := newTestAPI(t, true)
	adminTok := c.token("charlie", booking.RoleAdmin)

	huge := strings.Repeat("x", maxBodyBytes+1)
	expectErrorCode(t, c.do(http.MethodPost, "/v1/auth/token", "", map[string]string{"user": huge}), http.StatusRequestEntityTooLarge, "body_too_large")
	expectErrorCode(t, c.do(http.MethodPost, "/v1/classes", adminTok, map[string]string{"title": huge}), http.StatusRequestEntityTooLarge, "body_too_large")
}
