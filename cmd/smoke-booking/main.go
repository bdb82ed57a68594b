package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"rhythmflow.app/internal/booking"
)

// smoke-booking drives a running API started with RHYTHMFLOW_DEV_TOKENS=true:
// it races many students for a small class and checks nobody is overbooked.
func main() {
	base := flag.String("addr", envOr("RHYTHMFLOW_API_URL", "http://localhost:8080"), "API base URL")
	capacity := flag.Int("capacity", 3, "class capacity")
	students := flag.Int("students", 25, "concurrent students")
	flag.Parse()

	c := &client{base: *base, http: &http.Client{Timeout: 10 * time.Second}}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	run := uuid.NewString()[:8]
	adminTok := c.mustToken(ctx, "smoke-admin-"+run, booking.RoleAdmin, "")

	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Minute)
	var class booking.DanceClass
	if code := c.call(ctx, http.MethodPost, "/v1/classes", adminTok, "", map[string]any{
		"title":      "Smoke Test Salsa " + run,
		"level":      booking.LevelBeginner,
		"teacher":    "Smoke Runner",
		"start_time": start,
		"end_time":   start.Add(time.Hour),
		"capacity":   *capacity,
	}, &class); code != http.StatusCreated {
		log.Fatalf("create class: status %d", code)
	}

	tokens := make([]string, *students)
	for i := range tokens {
		tokens[i] = c.mustToken(ctx, fmt.Sprintf("smoke-%s-%03d", run, i), booking.RoleStudent, studentAddr(i))
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[int]int{}
		winners  []booking.Enrollment
	)
	for i, tok := range tokens {
		wg.Add(1)
		go func(i int, tok string) {
			defer wg.Done()
			var e booking.Enrollment
			code := c.call(ctx, http.MethodPost, "/v1/classes/"+class.ID+"/enrollments", tok, studentAddr(i), nil, &e)
			mu.Lock()
			defer mu.Unlock()
			statuses[code]++
			if code == http.StatusCreated {
				winners = append(winners, e)
			}
		}(i, tok)
	}
	wg.Wait()

	if statuses[http.StatusCreated] != *capacity || statuses[http.StatusConflict] != *students-*capacity {
		log.Fatalf("overbooking check failed: %v", statuses)
	}

	var view booking.ClassView
	if code := c.call(ctx, http.MethodGet, "/v1/classes/"+class.ID, adminTok, "", nil, &view); code != http.StatusOK {
		log.Fatalf("get class: status %d", code)
	}
	if view.Occupancy != *capacity || !view.Full {
		log.Fatalf("unexpected occupancy %d (full=%t)", view.Occupancy, view.Full)
	}

	// free a seat and hand it to someone who lost the race
	if len(winners) > 0 {
		freed := winners[0]
		i := indexOf(tokens, freed.StudentID, run)
		if code := c.call(ctx, http.MethodDelete, "/v1/enrollments/"+freed.ID, tokens[i], studentAddr(i), nil, nil); code != http.StatusNoContent {
			log.Fatalf("cancel: status %d", code)
		}
		late := c.mustToken(ctx, "smoke-late-"+run, booking.RoleStudent, studentAddr(*students))
		if code := c.call(ctx, http.MethodPost, "/v1/classes/"+class.ID+"/enrollments", late, studentAddr(*students), nil, nil); code != http.StatusCreated {
			log.Fatalf("re-enroll after cancel: status %d", code)
		}
	}

	if code := c.call(ctx, http.MethodDelete, "/v1/classes/"+class.ID, adminTok, "", nil, nil); code != http.StatusNoContent {
		log.Fatalf("cleanup: status %d", code)
	}

	fmt.Printf("✅ booking smoke test passed: class=%s capacity=%d students=%d statuses=%v\n", class.ID, *capacity, *students, statuses)
}

type client struct {
	base string
	http *http.Client
}

func (c *client) mustToken(ctx context.Context, user string, role booking.Role, addr string) string {
	var out struct {
		Token string `json:"token"`
	}
	if code := c.call(ctx, http.MethodPost, "/v1/auth/token", "", addr, map[string]string{
		"user": user, "role": string(role),
	}, &out); code != http.StatusOK {
		log.Fatalf("token for %s: status %d (is RHYTHMFLOW_DEV_TOKENS enabled?)", user, code)
	}
	return out.Token
}

func (c *client) call(ctx context.Context, method, path, token, forwardedFor string, body, dst any) int {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			log.Fatalf("marshal: %v", err)
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		log.Fatalf("request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if dst != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			log.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func indexOf(tokens []string, studentID, run string) int {
	var i int
	if _, err := fmt.Sscanf(studentID, "smoke-"+run+"-%03d", &i); err != nil || i >= len(tokens) {
		log.Fatalf("unexpected student id %q", studentID)
	}
	return i
}

// studentAddr gives each simulated student its own client address so the
// per-IP rate limiter stays out of the race.
func studentAddr(i int) string {
	return fmt.Sprintf("10.77.%d.%d", i/250, i%250+1)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
