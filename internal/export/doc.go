// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders archived conversations to portable formats.
//
// Two formats are supported: Markdown for reading and sharing, and JSON
// as a faithful dump of the stored conversation that can be re-imported.
// Exporters implement the Exporter interface; ForFormat resolves a
// format name from the command line, and ExportToFile writes the result
// under a sanitized, timestamped filename.
package export
