// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"io"
	"strings"
	"testing"
)

func TestSSEReader_SingleEvent(t *testing.T) {
	reader := newSSEReader(strings.NewReader("data: {\"x\":1}\n\n"))

	_, data, err := reader.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent returned error: %v", err)
	}
	if got, want := string(data), `{"x":1}`; got != want {
		t.Errorf("data = %q, want %q", got, want)
	}

	if _, _, err := reader.ReadEvent(); err != io.EOF {
		t.Errorf("expected io.EOF after last event, got %v", err)
	}
}

func TestSSEReader_MultipleEvents(t *testing.T) {
	input := "data: one\n\ndata: two\n\ndata: [DONE]\n\n"
	reader := newSSEReader(strings.NewReader(input))

	var events []string
	for {
		_, data, err := reader.ReadEvent()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadEvent returned error: %v", err)
		}
		events = append(events, string(data))
	}

	want := []string{"one", "two", "[DONE]"}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %v", len(events), len(want), events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, events[i], want[i])
		}
	}
}

// Multi-line data fields join with a newline per the SSE spec.
func TestSSEReader_MultiLineData(t *testing.T) {
	input := "data: line1\ndata: line2\n\n"
	reader := newSSEReader(strings.NewReader(input))

	_, data, err := reader.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent returned error: %v", err)
	}
	if got, want := string(data), "line1\nline2"; got != want {
		t.Errorf("data = %q, want %q", got, want)
	}
}

func TestSSEReader_CRLFLineEndings(t *testing.T) {
	input := "data: hello\r\n\r\n"
	reader := newSSEReader(strings.NewReader(input))

	_, data, err := reader.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent returned error: %v", err)
	}
	if got, want := string(data), "hello"; got != want {
		t.Errorf("data = %q, want %q", got, want)
	}
}

func TestSSEReader_EventType(t *testing.T) {
	input := "event: message_stop\ndata: {}\n\n"
	reader := newSSEReader(strings.NewReader(input))

	eventType, data, err := reader.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent returned error: %v", err)
	}
	if eventType != "message_stop" {
		t.Errorf("eventType = %q, want %q", eventType, "message_stop")
	}
	if string(data) != "{}" {
		t.Errorf("data = %q, want %q", string(data), "{}")
	}
}

// A final event missing its trailing blank line must still be delivered
// when the stream ends.
func TestSSEReader_EOFWithPendingData(t *testing.T) {
	input := "data: trailing"
	reader := newSSEReader(strings.NewReader(input))

	_, data, err := reader.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent returned error: %v", err)
	}
	if got, want := string(data), "trailing"; got != want {
		t.Errorf("data = %q, want %q", got, want)
	}

	if _, _, err := reader.ReadEvent(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestSSEReader_IgnoresComments(t *testing.T) {
	input := ": keep-alive\n\ndata: real\n\n"
	reader := newSSEReader(strings.NewReader(input))

	_, data, err := reader.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent returned error: %v", err)
	}
	if got, want := string(data), "real"; got != want {
		t.Errorf("data = %q, want %q", got, want)
	}
}

func TestIsDoneSentinel(t *testing.T) {
	tests := []struct {
		data string
		want bool
	}{
		{"[DONE]", true},
		{"[done]", false},
		{`{"x":1}`, false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isDoneSentinel([]byte(tt.data)); got != tt.want {
			t.Errorf("isDoneSentinel(%q) = %v, want %v", tt.data, got, tt.want)
		}
	}
}
