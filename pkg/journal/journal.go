// Package journal provides a tamper-evident, hash-chained record of attendance
// events. Each entry carries the checksum of its predecessor, so editing or
// removing any line breaks verification from that point on.
package journal

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// ErrChainBroken is returned by Verify when an entry does not match its checksum or predecessor
var ErrChainBroken = errors.New("journal chain broken")

// Entry is one journal line
type Entry struct {
	Sequence   int64           `json:"sequence"`
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	RecordedAt time.Time       `json:"recorded_at"`
	Payload    json.RawMessage `json:"payload"`
	PrevHash   string          `json:"prev_hash"`
	Checksum   string          `json:"checksum"`
}

func (e *Entry) computeChecksum() string {
	h := sha256.New()
	for _, part := range []string{
		strconv.FormatInt(e.Sequence, 10),
		e.EventID,
		e.EventType,
		e.RecordedAt.UTC().Format(time.RFC3339Nano),
		string(e.Payload),
		e.PrevHash,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Journal appends chained entries to a Store. It is safe for concurrent use.
type Journal struct {
	store    Store
	mu       sync.Mutex
	lastHash string
	sequence int64
}

// Open loads the chain head from store
func Open(store Store) (*Journal, error) {
	j := &Journal{store: store}

	lines, err := store.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return j, nil
	}

	var last Entry
	if err := json.Unmarshal(lines[len(lines)-1], &last); err != nil {
		return nil, fmt.Errorf("%w: unreadable last entry: %v", ErrChainBroken, err)
	}
	j.lastHash = last.Checksum
	j.sequence = last.Sequence
	return j, nil
}

// Append records one event
func (j *Journal) Append(eventID, eventType string, recordedAt time.Time, payload interface{}) (*Entry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entry := &Entry{
		Sequence:   j.sequence + 1,
		EventID:    eventID,
		EventType:  eventType,
		RecordedAt: recordedAt.UTC(),
		Payload:    raw,
		PrevHash:   j.lastHash,
	}
	entry.Checksum = entry.computeChecksum()

	line, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	if err := j.store.Append(line); err != nil {
		return nil, err
	}

	j.sequence = entry.Sequence
	j.lastHash = entry.Checksum
	return entry, nil
}

// Head returns the checksum of the last entry, "" for an empty journal
func (j *Journal) Head() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastHash
}

// Verify walks the whole chain and returns the number of valid entries
func (j *Journal) Verify() (int, error) {
	lines, err := j.store.ReadAll()
	if err != nil {
		return 0, err
	}

	prev := ""
	for i, line := range lines {
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return i, fmt.Errorf("%w at line %d: %v", ErrChainBroken, i+1, err)
		}
		if e.Sequence != int64(i+1) {
			return i, fmt.Errorf("%w at line %d: sequence %d", ErrChainBroken, i+1, e.Sequence)
		}
		if e.PrevHash != prev {
			return i, fmt.Errorf("%w at line %d: predecessor mismatch", ErrChainBroken, i+1)
		}
		if e.computeChecksum() != e.Checksum {
			return i, fmt.Errorf("%w at line %d: checksum mismatch", ErrChainBroken, i+1)
		}
		prev = e.Checksum
	}
	return len(lines), nil
}
