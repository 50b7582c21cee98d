// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeranaias/sidekick/internal/config"
	"github.com/jeranaias/sidekick/internal/model"
	"github.com/jeranaias/sidekick/internal/provider"
	"github.com/jeranaias/sidekick/internal/websearch"
)

// maxFollowUps bounds the tool-call loop: at most this many follow-up
// requests after the initial one. Reaching the cap stops silently with
// the accumulated text; runaway chaining is a liveness problem, not an
// error.
const maxFollowUps = 5

// runTurn executes the request/search/follow-up loop for one turn.
// Returned text is the concatenation of every round's chunks in order.
func (s *Session) runTurn(ctx context.Context, adapter provider.Adapter, req provider.Request, cfg *config.Config, handlers Handlers) (string, string, []model.Source, error) {
	var text, reasoning strings.Builder

	var sources []model.Source
	seen := make(map[string]bool)
	addSources := func(list []model.Source) {
		for _, src := range list {
			if src.URL != "" && seen[src.URL] {
				continue
			}
			if src.URL != "" {
				seen[src.URL] = true
			}
			sources = append(sources, src)
		}
	}

	// The new-message boundary is emitted once per turn, immediately
	// before the first text chunk that follows a search round. Until a
	// follow-up actually produces text, each round's last result stays
	// the pending candidate.
	var boundary model.WebSearch
	boundaryPending := false
	boundaryEmitted := false

	streamHandlers := provider.Handlers{
		OnChunk: func(t string) {
			if boundaryPending && !boundaryEmitted {
				boundaryEmitted = true
				boundaryPending = false
				handlers.webSearch(SearchEvent{WebSearch: boundary, StartNewMessage: true})
			}
			text.WriteString(t)
			handlers.chunk(t)
		},
		OnReasoning: func(t string) {
			reasoning.WriteString(t)
			handlers.reasoning(t)
		},
		OnImage: handlers.image,
	}

	searcher := websearch.NewExecutor(cfg)

	for followUps := 0; ; followUps++ {
		res, err := adapter.Stream(ctx, req, streamHandlers)
		if err != nil {
			return text.String(), reasoning.String(), sources, err
		}
		addSources(res.Sources)

		if len(req.Tools) == 0 || !res.HasToolCalls() {
			return text.String(), reasoning.String(), sources, nil
		}
		if followUps >= maxFollowUps {
			s.log.Warn().
				Int("follow_ups", followUps).
				Msg("tool-call iteration cap reached, returning accumulated text")
			return text.String(), reasoning.String(), sources, nil
		}

		// Cooperative cancellation check before the next network round.
		if err := ctx.Err(); err != nil {
			return text.String(), reasoning.String(), sources, err
		}

		folded, last, err := s.searchRound(ctx, searcher, res.ToolCalls, handlers)
		if err != nil {
			return text.String(), reasoning.String(), sources, err
		}
		if !boundaryEmitted && last.Query != "" {
			boundary = last
			boundaryPending = true
		}

		// Fold the round back: a synthetic assistant message
		// reconstructing the claimed calls, one tool result per call id,
		// then follow up with the tool still offered so the model may
		// chain further searches.
		assistant := model.NewAssistantMessage()
		assistant.ToolCalls = res.ToolCalls

		msgs := make([]*model.Message, 0, len(req.Messages)+1+len(folded))
		msgs = append(msgs, req.Messages...)
		msgs = append(msgs, assistant)
		for _, f := range folded {
			msgs = append(msgs, model.NewToolMessage(f.callID, f.content))
		}
		req.Messages = msgs

		s.log.Debug().
			Int("round", followUps+1).
			Int("tool_calls", len(res.ToolCalls)).
			Msg("search round folded, following up")
	}
}

// foldedResult is the answer to one tool call: every query result of the
// call concatenated under labeled headers.
type foldedResult struct {
	callID  string
	content string
}

// searchRound executes every query claimed by the round's tool calls
// concurrently and folds the outcomes back per call id. Individual
// failures become error-bearing result text; only cancellation aborts
// the round. The last completed search is returned as the boundary
// candidate.
func (s *Session) searchRound(ctx context.Context, searcher *websearch.Executor, calls []model.ToolCall, handlers Handlers) ([]foldedResult, model.WebSearch, error) {
	type task struct {
		call  int
		slot  int
		query string
	}

	perCall := make([][]string, len(calls))
	var tasks []task

	for i, tc := range calls {
		if tc.Name != "" && tc.Name != websearch.ToolName {
			perCall[i] = []string{fmt.Sprintf("unknown tool: %s", tc.Name)}
			continue
		}

		var args websearch.Arguments
		if err := tc.DecodeArguments(&args); err != nil {
			perCall[i] = []string{fmt.Sprintf("web search failed: could not parse tool arguments: %v", err)}
			continue
		}

		queries := args.Flatten()
		if len(queries) == 0 {
			perCall[i] = []string{"web search failed: no query provided"}
			continue
		}

		perCall[i] = make([]string, len(queries))
		for slot, q := range queries {
			tasks = append(tasks, task{call: i, slot: slot, query: q})
		}
	}

	// Announce every query before launching so the statuses arrive on
	// the caller's goroutine in batch order.
	for _, tk := range tasks {
		handlers.webSearch(SearchEvent{WebSearch: model.WebSearch{Query: tk.query, IsSearching: true}})
	}

	type outcome struct {
		task   task
		result *model.WebSearchResult
		err    error
	}

	// Fan out, fan in. Partial failures never cancel siblings; the
	// executor already folds them into result content.
	ch := make(chan outcome, len(tasks))
	for _, tk := range tasks {
		go func(tk task) {
			result, err := searcher.Execute(ctx, tk.query)
			ch <- outcome{task: tk, result: result, err: err}
		}(tk)
	}

	var last model.WebSearch
	var cancelErr error
	for range tasks {
		out := <-ch
		if out.err != nil {
			cancelErr = out.err
			continue
		}
		ws := model.WebSearch{Query: out.task.query, Result: out.result}
		handlers.webSearch(SearchEvent{WebSearch: ws})
		last = ws
		perCall[out.task.call][out.task.slot] = formatSearchResult(out.task.query, out.result)
	}
	if cancelErr != nil {
		return nil, model.WebSearch{}, cancelErr
	}

	folded := make([]foldedResult, 0, len(calls))
	for i, tc := range calls {
		folded = append(folded, foldedResult{
			callID:  tc.ID,
			content: strings.Join(perCall[i], "\n\n"),
		})
	}
	return folded, last, nil
}

// formatSearchResult renders one query's outcome as tool-message text,
// labeled so multiple results folded into one call stay attributable.
func formatSearchResult(query string, result *model.WebSearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Search results for: %s]\n%s", query, result.Content)
	if len(result.Sources) > 0 {
		b.WriteString("\n\nSources:\n")
		for _, src := range result.Sources {
			if src.Title != "" {
				fmt.Fprintf(&b, "- %s: %s\n", src.Title, src.URL)
			} else {
				fmt.Fprintf(&b, "- %s\n", src.URL)
			}
		}
	}
	return b.String()
}
