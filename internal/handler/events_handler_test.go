package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/evyataryagoni/membermap/internal/logger"
	"github.com/evyataryagoni/membermap/internal/metrics"
	"github.com/evyataryagoni/membermap/internal/models"
	"github.com/evyataryagoni/membermap/internal/realtime"
	"github.com/evyataryagoni/membermap/internal/service"
	"github.com/evyataryagoni/membermap/internal/store"
)

// readLines pushes stream lines to a channel until the body closes
func readLines(body *bufio.Scanner) <-chan string {
	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		for body.Scan() {
			lines <- body.Text()
		}
	}()
	return lines
}

func nextMatching(t *testing.T, lines <-chan string, prefix string) string {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("stream closed before a %q line", prefix)
			}
			if strings.HasPrefix(line, prefix) {
				return line
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q line", prefix)
		}
	}
}

// TestEventsHandler_StreamsChanges tests SSE framing and event content
func TestEventsHandler_StreamsChanges(t *testing.T) {
	broker := realtime.NewMemoryBroker(16)
	svc := service.NewMemberService(store.NewMemoryStore(), broker, nil, logger.Nop())
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	handler := NewEventsHandler(svc, m, logger.Nop(), 20*time.Millisecond)

	srv := httptest.NewServer(handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %s", ct)
	}

	lines := readLines(bufio.NewScanner(resp.Body))
	nextMatching(t, lines, ": connected")

	if got := testutil.ToFloat64(m.EventSubscribers); got != 1 {
		t.Errorf("expected 1 subscriber, got %v", got)
	}

	created, err := svc.Create(context.Background(), models.MemberDraft{Name: "Jean Dupont", Latitude: 48.8566, Longitude: 2.3522})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	line := nextMatching(t, lines, "data: ")
	var ev models.ChangeEvent
	if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if ev.EventType != models.EventInsert || ev.New == nil || ev.New.ID != created.ID {
		t.Errorf("unexpected event: %+v", ev)
	}

	if err := svc.Delete(context.Background(), created.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	line = nextMatching(t, lines, "data: ")
	if !strings.Contains(line, `"eventType":"delete"`) || !strings.Contains(line, created.ID) {
		t.Errorf("unexpected delete frame: %s", line)
	}

	nextMatching(t, lines, ": ping")
}

// TestEventsHandler_EndsWhenBrokerCloses tests that dropped subscriptions end the response
func TestEventsHandler_EndsWhenBrokerCloses(t *testing.T) {
	broker := realtime.NewMemoryBroker(16)
	svc := service.NewMemberService(store.NewMemoryStore(), broker, nil, logger.Nop())
	handler := NewEventsHandler(svc, nil, nil, time.Minute)

	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	lines := readLines(bufio.NewScanner(resp.Body))
	nextMatching(t, lines, ": connected")

	broker.Close()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-lines:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("expected stream to end after broker close")
		}
	}
}

// TestEventsHandler_SubscribeFailure tests 503 when no subscription can be opened
func TestEventsHandler_SubscribeFailure(t *testing.T) {
	broker := realtime.NewMemoryBroker(16)
	broker.Close()
	svc := service.NewMemberService(store.NewMemoryStore(), broker, nil, logger.Nop())
	handler := NewEventsHandler(svc, nil, nil, 0)

	req := httptest.NewRequest(http.MethodGet, "/v1/members/events", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rec.Code)
	}
}
