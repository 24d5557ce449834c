// Package state persists what the tracker has already seen: the receive
// time of the newest processed message and the IDs of every processed
// message.
package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/wesm/mailtracker/internal/fileutil"
)

// State is the sync checkpoint. The zero value is a valid first-run state.
type State struct {
	lastReceived time.Time
	processed    map[string]struct{}
}

// wire keeps the field names of existing state.json files.
type wire struct {
	LastReceivedUtc *time.Time `json:"LastReceivedUtc"`
	ProcessedIds    []string   `json:"ProcessedIds"`
}

var bom = []byte{0xEF, 0xBB, 0xBF}

// Load reads the state file at path. A missing, unreadable or corrupt file
// yields an empty state; the reason is logged at debug level only.
func Load(path string, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Debug("state unreadable, starting fresh", "path", path, "err", err)
		}
		return &State{}
	}
	st, err := Decode(data)
	if err != nil {
		logger.Debug("state corrupt, starting fresh", "path", path, "err", err)
		return &State{}
	}
	return st
}

// Decode parses a serialized state. A leading UTF-8 byte-order mark is
// accepted.
func Decode(data []byte) (*State, error) {
	var w wire
	if err := json.Unmarshal(bytes.TrimPrefix(data, bom), &w); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	st := &State{processed: make(map[string]struct{}, len(w.ProcessedIds))}
	if w.LastReceivedUtc != nil {
		st.lastReceived = w.LastReceivedUtc.UTC()
	}
	for _, id := range w.ProcessedIds {
		if id != "" {
			st.processed[id] = struct{}{}
		}
	}
	return st, nil
}

// Save writes st to path, replacing any previous file in one rename.
func Save(path string, st *State) error {
	data, err := st.Encode()
	if err != nil {
		return err
	}
	if err := fileutil.WriteFileAtomic(path, data, 0o600); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Encode serializes st as indented JSON with IDs in sorted order.
func (s *State) Encode() ([]byte, error) {
	w := wire{ProcessedIds: s.IDs()}
	if !s.lastReceived.IsZero() {
		t := s.lastReceived.UTC()
		w.LastReceivedUtc = &t
	}
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return append(data, '\n'), nil
}

// Processed reports whether id was handled by an earlier run or earlier in
// this one.
func (s *State) Processed(id string) bool {
	_, ok := s.processed[id]
	return ok
}

// MarkProcessed records id and advances the high-water mark to received
// when it is later. A zero received time leaves the mark alone.
func (s *State) MarkProcessed(id string, received time.Time) {
	if s.processed == nil {
		s.processed = make(map[string]struct{})
	}
	s.processed[id] = struct{}{}
	if !received.IsZero() && received.After(s.lastReceived) {
		s.lastReceived = received.UTC()
	}
}

// Since returns the high-water mark, or nil before the first processed
// message.
func (s *State) Since() *time.Time {
	if s.lastReceived.IsZero() {
		return nil
	}
	t := s.lastReceived
	return &t
}

// Len returns the number of processed IDs.
func (s *State) Len() int { return len(s.processed) }

// IDs returns the processed IDs in sorted order.
func (s *State) IDs() []string {
	ids := make([]string, 0, len(s.processed))
	for id := range s.processed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Rewind clears the high-water mark but keeps the processed IDs, so the
// next run scans the whole mailbox again without adding duplicates.
func (s *State) Rewind() {
	s.lastReceived = time.Time{}
}
