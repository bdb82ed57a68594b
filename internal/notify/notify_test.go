package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	skafka "github.com/segmentio/kafka-go"

	"rhythmflow.app/internal/booking"
	"rhythmflow.app/internal/obs"
)

type fakeWriter struct {
	msgs []skafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...skafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func testNotice() booking.Notice {
	return booking.Notice{
		Kind:       booking.NoticeClassUpdated,
		Class:      booking.DanceClass{ID: "c2", Title: "Contemporary Flow", Capacity: 15},
		StudentIDs: []string{"1", "2"},
		At:         time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
	}
}

func TestKafkaNotify(t *testing.T) {
	fw := &fakeWriter{}
	k := NewKafkaWithWriter(fw)
	if err := k.Notify(context.Background(), testNotice()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fw.msgs))
	}
	msg := fw.msgs[0]
	if string(msg.Key) != "c2" {
		t.Fatalf("unexpected key %q", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != booking.NoticeClassUpdated {
		t.Fatalf("unexpected headers: %v", msg.Headers)
	}
	var got booking.Notice
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if got.Kind != booking.NoticeClassUpdated || len(got.StudentIDs) != 2 {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestKafkaNotifyError(t *testing.T) {
	boom := errors.New("leader not available")
	k := NewKafkaWithWriter(&fakeWriter{err: boom})
	if err := k.Notify(context.Background(), testNotice()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped writer error, got %v", err)
	}
}

func TestLogNotify(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	if err := (Log{}).Notify(context.Background(), testNotice()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["kind"] != booking.NoticeClassUpdated || entry["class_id"] != "c2" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}
