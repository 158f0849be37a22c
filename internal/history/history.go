// Package history archives completed turns on disk for diagnostic replay.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Store manages turn archive persistence.
type Store struct {
	dir string // Base directory for archive files

	mu      sync.RWMutex
	entries map[string]*Entry // In-memory cache keyed by turn ID
}

// Entry is the archived outcome of one turn.
type Entry struct {
	TurnID          string    `json:"turn_id"`
	SessionID       string    `json:"session_id"`
	StopReason      string    `json:"stop_reason"`
	Prompt          string    `json:"prompt"`
	PromptPreview   string    `json:"prompt_preview"` // First 200 chars
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	RoundTrips      int       `json:"round_trips"`
	Tokens          int       `json:"tokens"`
	ToolCalls       int       `json:"tool_calls"`
	Output          string    `json:"output,omitempty"`
	OutputPreview   string    `json:"output_preview,omitempty"` // First 200 chars
	Error           string    `json:"error,omitempty"`
	Steps           []Step    `json:"steps,omitempty"`
	HasTranscript   bool      `json:"has_transcript"` // Whether the full history was kept
}

// Step is one line of a turn outline.
type Step struct {
	Type          string `json:"type"`                     // "text", "tool_call"
	Tool          string `json:"tool,omitempty"`           // Tool name for tool_call
	Status        string `json:"status,omitempty"`         // Tool result status
	InputPreview  string `json:"input_preview,omitempty"`  // First 200 chars of arguments
	OutputPreview string `json:"output_preview,omitempty"` // First 200 chars of output
	Truncated     bool   `json:"truncated,omitempty"`
}

// ListOptions controls pagination for List.
type ListOptions struct {
	Page      int    // 1-indexed page number
	Limit     int    // Items per page (max 100)
	SessionID string // Only turns of this session when set
}

// ListResult contains paginated archive entries.
type ListResult struct {
	Entries    []EntrySummary `json:"entries"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	Total      int            `json:"total"`
	TotalPages int            `json:"total_pages"`
}

// EntrySummary is a lightweight version of Entry for list responses.
type EntrySummary struct {
	TurnID          string    `json:"turn_id"`
	SessionID       string    `json:"session_id"`
	StopReason      string    `json:"stop_reason"`
	PromptPreview   string    `json:"prompt_preview"`
	CompletedAt     time.Time `json:"completed_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	RoundTrips      int       `json:"round_trips"`
	Tokens          int       `json:"tokens"`
	Error           string    `json:"error,omitempty"`
	HasTranscript   bool      `json:"has_transcript"`
}

// Retention limits
const (
	MaxTurnEntries = 100
	MaxTranscripts = 20
	PreviewLength  = 200
)

// NewStore creates a store at dir, loading any turns already archived there.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	s := &Store{
		dir:     dir,
		entries: make(map[string]*Entry),
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	return s, nil
}

// Save persists an entry and prunes beyond the retention limits.
func (s *Store) Save(entry *Entry) error {
	if entry.TurnID == "" {
		return fmt.Errorf("turn id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry.PromptPreview = truncate(entry.Prompt, PreviewLength)
	entry.OutputPreview = truncate(entry.Output, PreviewLength)

	if err := writeJSON(s.entryPath(entry.TurnID), entry); err != nil {
		return fmt.Errorf("saving entry: %w", err)
	}
	s.entries[entry.TurnID] = entry

	s.pruneUnlocked()
	return nil
}

// SaveTranscript stores the full history of an archived turn.
func (s *Store) SaveTranscript(turnID string, transcript any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[turnID]
	if !ok {
		return fmt.Errorf("%s not found in history", turnID)
	}
	if err := writeJSON(s.transcriptPath(turnID), transcript); err != nil {
		return fmt.Errorf("saving transcript: %w", err)
	}

	entry.HasTranscript = true
	if err := writeJSON(s.entryPath(turnID), entry); err != nil {
		return fmt.Errorf("updating entry: %w", err)
	}
	return nil
}

// Get retrieves an entry by turn ID.
func (s *Store) Get(turnID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[turnID]
	if !ok {
		return nil, fmt.Errorf("%s not found in history", turnID)
	}
	return entry, nil
}

// GetTranscript returns the raw transcript JSON of an archived turn.
func (s *Store) GetTranscript(turnID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.entries[turnID]; !ok {
		return nil, fmt.Errorf("%s not found in history", turnID)
	}
	data, err := os.ReadFile(s.transcriptPath(turnID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("transcript for %s not found", turnID)
		}
		return nil, fmt.Errorf("reading transcript: %w", err)
	}
	return data, nil
}

// List returns paginated entries, newest first.
func (s *Store) List(opts ListOptions) ListResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit < 1 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}

	sorted := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if opts.SessionID != "" && e.SessionID != opts.SessionID {
			continue
		}
		sorted = append(sorted, e)
	}
	sortNewestFirst(sorted)

	total := len(sorted)
	totalPages := (total + opts.Limit - 1) / opts.Limit

	start := (opts.Page - 1) * opts.Limit
	end := start + opts.Limit
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	entries := make([]EntrySummary, 0, end-start)
	for _, e := range sorted[start:end] {
		entries = append(entries, EntrySummary{
			TurnID:          e.TurnID,
			SessionID:       e.SessionID,
			StopReason:      e.StopReason,
			PromptPreview:   e.PromptPreview,
			CompletedAt:     e.CompletedAt,
			DurationSeconds: e.DurationSeconds,
			RoundTrips:      e.RoundTrips,
			Tokens:          e.Tokens,
			Error:           e.Error,
			HasTranscript:   e.HasTranscript,
		})
	}

	return ListResult{
		Entries:    entries,
		Page:       opts.Page,
		Limit:      opts.Limit,
		Total:      total,
		TotalPages: totalPages,
	}
}

// load reads all archived entries from disk, skipping unreadable files.
func (s *Store) load() error {
	files, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return err
	}

	for _, path := range files {
		if filepath.Ext(trimExt(path)) == ".transcript" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil || entry.TurnID == "" {
			continue
		}
		_, err = os.Stat(s.transcriptPath(entry.TurnID))
		entry.HasTranscript = err == nil
		s.entries[entry.TurnID] = &entry
	}
	return nil
}

// pruneUnlocked removes entries beyond MaxTurnEntries and transcripts
// beyond MaxTranscripts, oldest first. Must be called with lock held.
func (s *Store) pruneUnlocked() {
	sorted := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		sorted = append(sorted, e)
	}
	sortNewestFirst(sorted)

	if len(sorted) > MaxTurnEntries {
		for _, e := range sorted[MaxTurnEntries:] {
			os.Remove(s.entryPath(e.TurnID))
			os.Remove(s.transcriptPath(e.TurnID))
			delete(s.entries, e.TurnID)
		}
		sorted = sorted[:MaxTurnEntries]
	}

	for i := MaxTranscripts; i < len(sorted); i++ {
		e := sorted[i]
		if !e.HasTranscript {
			continue
		}
		os.Remove(s.transcriptPath(e.TurnID))
		e.HasTranscript = false
		writeJSON(s.entryPath(e.TurnID), e)
	}
}

func sortNewestFirst(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CompletedAt.Equal(entries[j].CompletedAt) {
			return entries[i].TurnID > entries[j].TurnID
		}
		return entries[i].CompletedAt.After(entries[j].CompletedAt)
	})
}

func (s *Store) entryPath(turnID string) string {
	return filepath.Join(s.dir, turnID+".json")
}

func (s *Store) transcriptPath(turnID string) string {
	return filepath.Join(s.dir, turnID+".transcript.json")
}

func trimExt(path string) string {
	return path[:len(path)-len(filepath.Ext(path))]
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
