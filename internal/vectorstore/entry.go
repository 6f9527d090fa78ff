// Package vectorstore keeps the Weaviate activity index convergent with the
// relational store: duplicate objects are pruned, entries for inactive
// activities removed, and active activities without an entry added in chunks.
package vectorstore

import (
	"strconv"
	"time"

	"activity_fetcher/internal/domain"
)

// Entry is one indexed object. ActivityID ties it back to the relational
// record; several entries may share an ActivityID when the content was
// chunked, so (ActivityID, ChunkIndex) identifies an entry.
type Entry struct {
	UUID       string
	ActivityID int64
	ChunkIndex int
	Properties map[string]any
}

// entriesFor maps an activity onto index entries, one per content chunk.
// Dates are rendered as RFC3339 text, absent bounds are omitted.
func entriesFor(a domain.Activity, chunkSize, chunkOverlap int) []Entry {
	base := map[string]any{
		"activity_id":   strconv.FormatInt(a.ID, 10),
		"activity_name": a.Name,
		"activity_type": string(a.Type),
		"url":           a.SiteURL,
		"keyword":       string(a.Keyword),
	}
	if a.StartDate != nil {
		base["start_date"] = a.StartDate.UTC().Format(time.RFC3339)
	}
	if a.EndDate != nil {
		base["end_date"] = a.EndDate.UTC().Format(time.RFC3339)
	}

	chunks := splitText(a.Content, chunkSize, chunkOverlap)

	entries := make([]Entry, 0, len(chunks))
	for i, chunk := range chunks {
		props := make(map[string]any, len(base)+2)
		for k, v := range base {
			props[k] = v
		}
		props["activity_content"] = chunk
		props["chunk_index"] = i

		entries = append(entries, Entry{ActivityID: a.ID, ChunkIndex: i, Properties: props})
	}
	return entries
}

// splitText cuts text into chunks of at most size runes, consecutive chunks
// sharing overlap runes. Text at most one chunk long is returned whole.
func splitText(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}
	if overlap >= size {
		overlap = size - 1
	}

	step := size - overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
