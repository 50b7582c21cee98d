// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// jsonstream.go - Incremental reader for bare concatenated-JSON-object
// streams.
//
// Google's streamGenerateContent endpoint does not speak SSE: the body is
// a sequence of JSON objects (wrapped in array punctuation and separated
// by commas and whitespace, none of which is guaranteed to align with
// network chunk boundaries). The reader tracks brace depth over raw
// bytes, honoring string literals and escapes, and emits one complete
// top-level object at a time; bytes outside objects are discarded.
//
// STREAMING: Objects split across chunk boundaries are buffered until
// complete.
package provider

import (
	"io"
)

// jsonObjectReader extracts complete top-level JSON objects from a byte
// stream.
type jsonObjectReader struct {
	reader io.Reader
	buf    []byte // unconsumed remainder carried across reads
	chunk  []byte // reusable read buffer
}

// newJSONObjectReader creates a reader over r.
func newJSONObjectReader(r io.Reader) *jsonObjectReader {
	return &jsonObjectReader{
		reader: r,
		chunk:  make([]byte, 8192),
	}
}

// Next returns the bytes of the next complete top-level object. Returns
// io.EOF when the stream ends with no complete object pending; a
// truncated trailing object is dropped.
func (j *jsonObjectReader) Next() ([]byte, error) {
	for {
		if obj := j.extract(); obj != nil {
			return obj, nil
		}

		n, err := j.reader.Read(j.chunk)
		if n > 0 {
			j.buf = append(j.buf, j.chunk[:n]...)
			continue
		}
		if err != nil {
			// Deliver a complete object that arrived exactly at EOF.
			if obj := j.extract(); obj != nil {
				return obj, nil
			}
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, err
		}
	}
}

// extract scans the buffer for one complete top-level object and consumes
// it, along with any leading non-object bytes (array punctuation,
// separators, whitespace). Returns nil when no complete object is
// buffered yet.
func (j *jsonObjectReader) extract() []byte {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, b := range j.buf {
		if start < 0 {
			if b == '{' {
				start = i
				depth = 1
			}
			continue
		}

		if escaped {
			escaped = false
			continue
		}

		switch b {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					obj := make([]byte, i+1-start)
					copy(obj, j.buf[start:i+1])
					j.buf = j.buf[i+1:]
					return obj
				}
			}
		}
	}

	// No complete object; drop bytes that precede the first brace so the
	// buffer never grows on inter-object separators.
	if start < 0 {
		j.buf = j.buf[:0]
	} else if start > 0 {
		j.buf = j.buf[start:]
	}
	return nil
}
