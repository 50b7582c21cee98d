// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"strings"

	"github.com/jeranaias/sidekick/internal/model"
)

// toolCallAccumulator merges streamed tool-call fragments into complete
// calls. Providers deliver fragments keyed by an integer index: the id
// and function name arrive once (on the first fragment), then argument
// text streams in as raw string pieces to concatenate. Indexes may be
// sparse and arrive out of order, so the accumulator keys a map by index
// and emits results ordered by first-seen index.
type toolCallAccumulator struct {
	calls map[int]*pendingToolCall
	seen  []int // indexes in first-seen order
}

type pendingToolCall struct {
	id   string
	name string
	args strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int]*pendingToolCall)}
}

// Add folds one fragment into the call at index. Empty id/name fields on
// later fragments never overwrite values already set.
func (a *toolCallAccumulator) Add(index int, id, name, argsFragment string) {
	call, ok := a.calls[index]
	if !ok {
		call = &pendingToolCall{}
		a.calls[index] = call
		a.seen = append(a.seen, index)
	}
	if call.id == "" {
		call.id = id
	}
	if call.name == "" {
		call.name = name
	}
	call.args.WriteString(argsFragment)
}

// Empty reports whether any fragments were accumulated.
func (a *toolCallAccumulator) Empty() bool {
	return len(a.calls) == 0
}

// Calls returns the completed tool calls ordered by first-seen index.
func (a *toolCallAccumulator) Calls() []model.ToolCall {
	if len(a.calls) == 0 {
		return nil
	}

	out := make([]model.ToolCall, 0, len(a.seen))
	for _, idx := range a.seen {
		call := a.calls[idx]
		out = append(out, model.ToolCall{
			ID:        call.id,
			Name:      call.name,
			Arguments: call.args.String(),
		})
	}
	return out
}
