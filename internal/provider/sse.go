// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bufio"
	"bytes"
	"io"
)

// STREAMING: Robust SSE parsing with error handling

// doneSentinel terminates OpenAI-style event streams.
var doneSentinel = []byte("[DONE]")

// sseReader parses Server-Sent Events from a response body.
//
// Handles CRLF line endings, multi-line data fields, and a final event
// that arrives without a trailing blank line before EOF. Fields other
// than event: and data: (id:, retry:, comment lines) are ignored.
type sseReader struct {
	reader *bufio.Reader
}

// newSSEReader creates an SSE reader over r.
func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{reader: bufio.NewReader(r)}
}

// ReadEvent reads the next SSE event and returns its type and data.
// Multi-line data fields are joined with newlines. Returns io.EOF when
// the stream ends with no pending event.
func (s *sseReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				// A final event may arrive without its blank-line
				// terminator; deliver it before reporting EOF.
				if len(dataLines) > 0 {
					return eventType, bytes.Join(dataLines, []byte("\n")), nil
				}
				return "", nil, io.EOF
			}
			return "", nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		// Empty line signals end of event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[6:]))
		case bytes.HasPrefix(line, []byte("data:")):
			dataLines = append(dataLines, bytes.TrimSpace(line[5:]))
		}
	}
}

// isDoneSentinel reports whether an SSE data payload is the literal
// [DONE] terminator.
func isDoneSentinel(data []byte) bool {
	return bytes.Equal(data, doneSentinel)
}
