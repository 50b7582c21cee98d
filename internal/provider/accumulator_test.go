// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"testing"
)

// Providers deliver the function name in the first delta and argument
// text spread across later deltas; the accumulator must reassemble them.
func TestToolCallAccumulator_FragmentAssembly(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.Add(0, "call_1", "web_search", "")
	acc.Add(0, "", "", `{"queries":`)
	acc.Add(0, "", "", `["go 1.24 release"]}`)

	calls := acc.Calls()
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if calls[0].ID != "call_1" {
		t.Errorf("ID = %q, want %q", calls[0].ID, "call_1")
	}
	if calls[0].Name != "web_search" {
		t.Errorf("Name = %q, want %q", calls[0].Name, "web_search")
	}
	if want := `{"queries":["go 1.24 release"]}`; calls[0].Arguments != want {
		t.Errorf("Arguments = %q, want %q", calls[0].Arguments, want)
	}
}

// A later fragment with an empty name must not clear the name set by the
// first fragment.
func TestToolCallAccumulator_NameSetOnce(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.Add(0, "call_1", "web_search", "")
	acc.Add(0, "call_other", "other_name", "{}")

	calls := acc.Calls()
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if calls[0].ID != "call_1" || calls[0].Name != "web_search" {
		t.Errorf("got ID=%q Name=%q, want first-set values preserved", calls[0].ID, calls[0].Name)
	}
}

func TestToolCallAccumulator_MultipleIndexes(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.Add(1, "call_b", "search_b", `{"q":"b"}`)
	acc.Add(0, "call_a", "search_a", `{"q":"a"}`)
	acc.Add(1, "", "", ``)

	calls := acc.Calls()
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	// First-seen order, not numeric index order.
	if calls[0].ID != "call_b" || calls[1].ID != "call_a" {
		t.Errorf("order = [%s, %s], want [call_b, call_a]", calls[0].ID, calls[1].ID)
	}
}

func TestToolCallAccumulator_Empty(t *testing.T) {
	acc := newToolCallAccumulator()
	if !acc.Empty() {
		t.Error("new accumulator should be empty")
	}
	if calls := acc.Calls(); calls != nil {
		t.Errorf("Calls() on empty accumulator = %v, want nil", calls)
	}

	acc.Add(0, "id", "name", "")
	if acc.Empty() {
		t.Error("accumulator with a fragment should not be empty")
	}
}
