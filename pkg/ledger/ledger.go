// Package ledger implements the orchestration core's immutable, hash-chained
// audit log: a single-writer, append-only record of every consequential
// action taken by any kernel. One writer serializes appends; a
// forward-verifiable hash chain (rather than a consensus protocol) is what
// makes tampering detectable.
package ledger

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/warren-core/pkg/kerrors"
	"github.com/cuemby/warren-core/pkg/log"
	"github.com/cuemby/warren-core/pkg/metrics"
	"github.com/rs/zerolog"
)

// GenesisHash seeds the chain for the first entry: 64 hex zeros, matching
// the width of a SHA-256 digest.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is one record in the immutable log. Hash covers every other field
// via canonicalJSON, chained onto the previous entry's hash.
type Entry struct {
	ID        uint64         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Decision  map[string]any `json:"decision,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	PrevHash  string         `json:"prev_hash"`
	Hash      string         `json:"hash"`
}

// Filters narrows Search results. Zero values are wildcards.
type Filters struct {
	Actor    string
	Action   string
	Resource string
	Since    time.Time
	Until    time.Time
}

// IntegrityReport is the result of VerifyIntegrity.
type IntegrityReport struct {
	Valid      bool
	FirstBadID uint64 // only meaningful when Valid is false
}

// Log is the append-only, hash-chained ledger. Writes are serialized with a
// mutex; zero value is not usable, use Open.
type Log struct {
	mu      sync.Mutex
	logger  zerolog.Logger
	path    string
	file    *os.File
	writer  *bufio.Writer
	entries []Entry // in-memory mirror for fast Search/VerifyIntegrity
	nextID  uint64
	lastHash string
}

// Open creates or reopens a ledger backed by a newline-delimited JSON file
// at path, replaying any existing entries to rebuild the in-memory mirror
// and chain tip.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w: %v", path, kerrors.ErrPersistence, err)
	}

	l := &Log{
		logger:   log.WithComponent("ledger"),
		path:     path,
		file:     f,
		writer:   bufio.NewWriter(f),
		lastHash: GenesisHash,
	}

	if err := l.replay(); err != nil {
		f.Close()
		return nil, err
	}

	l.logger.Info().Int("entries", len(l.entries)).Msg("ledger opened")
	return l, nil
}

func (l *Log) replay() error {
	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("ledger: seek: %w: %v", kerrors.ErrPersistence, err)
	}
	scanner := bufio.NewScanner(l.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return fmt.Errorf("ledger: corrupt entry during replay: %w: %v", kerrors.ErrPersistence, err)
		}
		l.entries = append(l.entries, e)
		l.lastHash = e.Hash
		l.nextID = e.ID + 1
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("ledger: scan: %w: %v", kerrors.ErrPersistence, err)
	}
	if _, err := l.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("ledger: seek end: %w: %v", kerrors.ErrPersistence, err)
	}
	return nil
}

// Close flushes and closes the backing file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}

// Append computes prev_hash from the current chain tip, serializes the new
// entry canonically, computes its hash, persists it, and advances the
// chain. Append is linearizable with respect to other Append calls. A
// persistence failure does not advance the chain.
func (l *Log) Append(actor, action, resource string, decision, metadata map[string]any) (uint64, error) {
	if actor == "" {
		return 0, fmt.Errorf("ledger: append: %w: actor must be non-empty", kerrors.ErrContractViolation)
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.LedgerAppendDuration)

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		ID:        l.nextID,
		Timestamp: time.Now(),
		Actor:     actor,
		Action:    action,
		Resource:  resource,
		Decision:  decision,
		Metadata:  metadata,
		PrevHash:  l.lastHash,
	}
	entry.Hash = computeHash(entry)

	line, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("ledger: marshal: %w: %v", kerrors.ErrPersistence, err)
	}
	line = append(line, '\n')

	if _, err := l.writer.Write(line); err != nil {
		return 0, fmt.Errorf("ledger: write: %w: %v", kerrors.ErrPersistence, err)
	}
	if err := l.writer.Flush(); err != nil {
		return 0, fmt.Errorf("ledger: flush: %w: %v", kerrors.ErrPersistence, err)
	}

	l.entries = append(l.entries, entry)
	l.lastHash = entry.Hash
	l.nextID++

	l.logger.Debug().Uint64("id", entry.ID).Str("actor", actor).Str("action", action).Msg("ledger append")
	return entry.ID, nil
}

// Search returns entries matching filters, newest-first, capped at limit (0
// means unbounded). Pure read, never mutates the log.
func (l *Log) Search(filters Filters, limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	matches := make([]Entry, 0, len(l.entries))
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if filters.Actor != "" && e.Actor != filters.Actor {
			continue
		}
		if filters.Action != "" && e.Action != filters.Action {
			continue
		}
		if filters.Resource != "" && e.Resource != filters.Resource {
			continue
		}
		if !filters.Since.IsZero() && e.Timestamp.Before(filters.Since) {
			continue
		}
		if !filters.Until.IsZero() && e.Timestamp.After(filters.Until) {
			continue
		}
		matches = append(matches, e)
		if limit > 0 && len(matches) >= limit {
			break
		}
	}
	return matches
}

// VerifyIntegrity recomputes every entry's hash forward from genesis and
// reports the first entry whose recorded hash does not match.
func (l *Log) VerifyIntegrity() IntegrityReport {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := GenesisHash
	for _, e := range l.entries {
		if e.PrevHash != prev {
			metrics.LedgerIntegrityValid.Set(0)
			return IntegrityReport{Valid: false, FirstBadID: e.ID}
		}
		if computeHash(e) != e.Hash {
			metrics.LedgerIntegrityValid.Set(0)
			return IntegrityReport{Valid: false, FirstBadID: e.ID}
		}
		prev = e.Hash
	}
	metrics.LedgerIntegrityValid.Set(1)
	return IntegrityReport{Valid: true}
}

// Len returns the number of committed entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// computeHash derives an entry's hash from prev_hash and the canonical
// serialization of every other field. The Hash field itself must be empty
// on the entry passed in.
func computeHash(e Entry) string {
	e.Hash = ""
	canon := canonicalJSON(e)
	sum := sha256.Sum256([]byte(e.PrevHash + canon))
	return hex.EncodeToString(sum[:])
}

// canonicalJSON collects e's hashed fields (every field except Hash) into a
// map and renders it with marshalSorted, so the same logical entry always
// hashes identically.
func canonicalJSON(e Entry) string {
	obj := map[string]any{
		"id":        e.ID,
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
		"actor":     e.Actor,
		"action":    e.Action,
		"resource":  e.Resource,
		"prev_hash": e.PrevHash,
	}
	if e.Decision != nil {
		obj["decision"] = e.Decision
	}
	if e.Metadata != nil {
		obj["metadata"] = e.Metadata
	}
	return marshalSorted(obj)
}

// marshalSorted renders a map[string]any as JSON with keys in sorted order,
// recursing into nested maps so nested key order is also stable.
func marshalSorted(v any) string {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "{"
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			kb, _ := json.Marshal(k)
			out += string(kb) + ":" + marshalSorted(val[k])
		}
		return out + "}"
	default:
		b, _ := json.Marshal(val)
		return string(b)
	}
}
