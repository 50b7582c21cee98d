// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"encoding/json"

	"github.com/jeranaias/sidekick/internal/model"
)

// sourceCollector accumulates web sources in arrival order, deduplicated
// by URL. Providers report the same source through several channels
// (citations, search_results, annotations); the first sighting wins and
// later ones only fill in missing title/snippet fields.
type sourceCollector struct {
	index map[string]int
	list  []model.Source
}

func newSourceCollector() *sourceCollector {
	return &sourceCollector{index: make(map[string]int)}
}

func (c *sourceCollector) Add(src model.Source) {
	if src.URL == "" {
		return
	}
	if i, ok := c.index[src.URL]; ok {
		if c.list[i].Title == "" {
			c.list[i].Title = src.Title
		}
		if c.list[i].Snippet == "" {
			c.list[i].Snippet = src.Snippet
		}
		return
	}
	c.index[src.URL] = len(c.list)
	c.list = append(c.list, src)
}

func (c *sourceCollector) List() []model.Source {
	return c.list
}

// decodeCitation handles the two shapes Perplexity uses for citation
// entries: a bare URL string, or an object with url/title fields.
func decodeCitation(raw json.RawMessage) (model.Source, bool) {
	var urlStr string
	if err := json.Unmarshal(raw, &urlStr); err == nil {
		return model.Source{URL: urlStr}, urlStr != ""
	}

	var obj struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Name    string `json:"name"`
		Snippet string `json:"snippet"`
		Text    string `json:"text"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return model.Source{}, false
	}
	src := model.Source{URL: obj.URL, Title: obj.Title, Snippet: obj.Snippet}
	if src.Title == "" {
		src.Title = obj.Name
	}
	if src.Snippet == "" {
		src.Snippet = obj.Text
	}
	return src, src.URL != ""
}
