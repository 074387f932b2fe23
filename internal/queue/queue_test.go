package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(TypeAuditEvent, map[string]string{"actorId": "t1"})
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}
	if msg.Type != TypeAuditEvent {
		t.Errorf("type = %q", msg.Type)
	}
	var payload map[string]string
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		t.Fatalf("body not valid JSON: %v", err)
	}
	if payload["actorId"] != "t1" {
		t.Errorf("payload = %v", payload)
	}
}

func TestInMemoryRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	q := NewInMemory(4)
	msg, _ := NewMessage(TypeFaceVerify, map[string]string{"recordId": "r1"})
	if err := q.Publish(ctx, msg); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	out, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	select {
	case got := <-out:
		if got.Type != TypeFaceVerify {
			t.Errorf("type = %q, want %q", got.Type, TypeFaceVerify)
		}
	case <-ctx.Done():
		t.Fatal("no message received")
	}
}

func TestInMemoryPublishCancelled(t *testing.T) {
	q := NewInMemory(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Publish(ctx, Message{Type: TypeAuditEvent}); err == nil {
		t.Fatal("Publish() on cancelled context succeeded")
	}
}
