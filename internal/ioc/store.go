package ioc

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/orion-sentinel/netsec/internal/platform/errs"
)

// Match records a single lookup hit for audit purposes.
type Match struct {
	IOCValue  string    `json:"ioc_value"`
	Source    string    `json:"source"`
	DeviceID  string    `json:"device_id,omitempty"`
	MatchedAt time.Time `json:"matched_at"`
}

// Stats summarizes store contents for the health-score service and
// operator HTTP surface.
type Stats struct {
	TotalIOCs      int          `json:"total_iocs"`
	ByType         map[Type]int `json:"by_type"`
	MatchesLast24h int          `json:"matches_last_24h"`
}

// Store is a durable keyed store of IOCs, file-backed by a JSON-lines log
// replayed at startup. It follows a single-writer/many-reader discipline:
// ingest serializes writers, correlation reads take only the RLock.
type Store struct {
	path      string
	matchPath string

	mu    sync.RWMutex
	byKey map[string][]*IOC // index key -> records across sources, newest first

	matchMu sync.Mutex
	matches []Match
	file    *os.File
}

// Open loads (or creates) the IOC store backed by path. matchLogPath may be
// empty to disable on-disk match auditing (in-memory only, useful in tests).
func Open(path, matchLogPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.Wrap("create ioc store directory", err)
	}

	s := &Store{
		path:      path,
		matchPath: matchLogPath,
		byKey:     make(map[string][]*IOC),
	}

	if err := s.replay(); err != nil {
		return nil, errs.Wrap("replay ioc store", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errs.Wrap("open ioc store for append", err)
	}
	s.file = f
	return s, nil
}

func (s *Store) replay() error {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec IOC
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		s.upsertInMemory(rec)
	}
	return scanner.Err()
}

// Close flushes and closes the backing file.
func (s *Store) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

func (s *Store) appendLocked(rec IOC) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	_, err = s.file.Write(line)
	return err
}

// upsertInMemory applies rec to the index, honoring the (value, type,
// source) uniqueness invariant and the last-seen/confidence max rule. The
// caller must hold s.mu for writing (or be the single-threaded replay path).
func (s *Store) upsertInMemory(rec IOC) {
	rec.Value = Normalize(rec.Type, rec.Value)
	rec.Confidence = clamp01(rec.Confidence)
	key := rec.Key()

	list := s.byKey[key]
	for _, existing := range list {
		if existing.Source == rec.Source {
			if rec.LastSeen.After(existing.LastSeen) {
				existing.LastSeen = rec.LastSeen
			}
			if rec.FirstSeen.Before(existing.FirstSeen) || existing.FirstSeen.IsZero() {
				existing.FirstSeen = rec.FirstSeen
			}
			if rec.Confidence > existing.Confidence {
				existing.Confidence = rec.Confidence
			}
			if rec.Category != "" {
				existing.Category = rec.Category
			}
			if rec.MalwareFamily != "" {
				existing.MalwareFamily = rec.MalwareFamily
			}
			if rec.Description != "" {
				existing.Description = rec.Description
			}
			for _, t := range rec.Tags {
				found := false
				for _, et := range existing.Tags {
					if et == t {
						found = true
						break
					}
				}
				if !found {
					existing.Tags = append(existing.Tags, t)
				}
			}
			s.reorderLocked(key)
			return
		}
	}

	if rec.FirstSeen.IsZero() {
		rec.FirstSeen = rec.LastSeen
	}
	cp := rec
	s.byKey[key] = append([]*IOC{&cp}, list...)
}

// reorderLocked restores newest-first ordering after an in-place update
// bumped a record's last-seen.
func (s *Store) reorderLocked(key string) {
	list := s.byKey[key]
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LastSeen.After(list[j].LastSeen)
	})
	s.byKey[key] = list
}

// UpsertBatch is idempotent on (value, type, source): it updates last-seen
// and confidence (max) for existing records, appends new ones.
func (s *Store) UpsertBatch(iocs []IOC) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, rec := range iocs {
		if rec.LastSeen.IsZero() {
			rec.LastSeen = now
		}
		if rec.FirstSeen.IsZero() {
			rec.FirstSeen = rec.LastSeen
		}
		rec.Value = Normalize(rec.Type, rec.Value)
		s.upsertInMemory(rec)
		if err := s.appendLocked(rec); err != nil {
			return errs.Wrap("append ioc", err)
		}
	}
	return nil
}

// Lookup returns every IOC matching (value, type) across all sources,
// newest first.
func (s *Store) Lookup(value string, typ Type) []IOC {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := string(typ) + "|" + Normalize(typ, value)
	list := s.byKey[key]
	out := make([]IOC, len(list))
	for i, rec := range list {
		out[i] = *rec
	}
	return out
}

// LookupMany is the bulk variant of Lookup, returning a map from the
// queried value to its matches (values with zero matches are omitted).
func (s *Store) LookupMany(values []string, typ Type) map[string][]IOC {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]IOC)
	for _, v := range values {
		key := string(typ) + "|" + Normalize(typ, v)
		list := s.byKey[key]
		if len(list) == 0 {
			continue
		}
		matches := make([]IOC, len(list))
		for i, rec := range list {
			matches[i] = *rec
		}
		out[v] = matches
	}
	return out
}

// PurgeOlderThan deletes records whose last-seen is older than (now -
// horizon).
func (s *Store) PurgeOlderThan(horizon time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-horizon)
	purged := 0
	for key, list := range s.byKey {
		kept := list[:0:0]
		for _, rec := range list {
			if rec.LastSeen.Before(cutoff) {
				purged++
				continue
			}
			kept = append(kept, rec)
		}
		if len(kept) == 0 {
			delete(s.byKey, key)
		} else {
			s.byKey[key] = kept
		}
	}

	if purged > 0 {
		if err := s.rewriteLocked(); err != nil {
			return purged, errs.Wrap("rewrite ioc store after purge", err)
		}
	}
	return purged, nil
}

// rewriteLocked compacts the backing file to match the in-memory index.
// Caller must hold s.mu.
func (s *Store) rewriteLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, list := range s.byKey {
		for _, rec := range list {
			line, err := json.Marshal(rec)
			if err != nil {
				f.Close()
				return err
			}
			if _, err := w.Write(append(line, '\n')); err != nil {
				f.Close()
				return err
			}
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := s.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	nf, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	s.file = nf
	return nil
}

// RecordMatch appends a match to the audit log (in-memory, and to the match
// log file if configured).
func (s *Store) RecordMatch(m Match) {
	s.matchMu.Lock()
	defer s.matchMu.Unlock()
	s.matches = append(s.matches, m)

	if s.matchPath == "" {
		return
	}
	f, err := os.OpenFile(s.matchPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	line, err := json.Marshal(m)
	if err != nil {
		return
	}
	f.Write(append(line, '\n'))
}

// Stats reports counts by type, total IOCs, and matches in the last 24h.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	byType := make(map[Type]int)
	total := 0
	for key, list := range s.byKey {
		total += len(list)
		typ := Type(key[:indexOf(key, '|')])
		byType[typ] += len(list)
	}
	s.mu.RUnlock()

	cutoff := time.Now().Add(-24 * time.Hour)
	s.matchMu.Lock()
	matches24h := 0
	for _, m := range s.matches {
		if m.MatchedAt.After(cutoff) {
			matches24h++
		}
	}
	s.matchMu.Unlock()

	return Stats{TotalIOCs: total, ByType: byType, MatchesLast24h: matches24h}
}

func indexOf(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return len(s)
}
