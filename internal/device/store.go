package device

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/orion-sentinel/netsec/internal/platform/errs"
)

// Filter narrows List results. A zero-value Filter matches every device.
type Filter struct {
	Tag         string
	GuessedType Type
	UnknownOnly bool // tags empty and guessed_type == unknown
}

// Store is a durable keyed store of devices, file-backed by an append-only
// JSON-lines log replayed at startup, with an in-memory map plus a
// secondary index by current IP. Writes are serialized per identifier via a
// striped lock map; reads take only the store-wide RLock, which for an
// in-memory map is effectively lock-free under read concurrency.
type Store struct {
	path string

	mu      sync.RWMutex
	byID    map[string]*Device
	idByIP  map[string]string
	file    *os.File

	idLocksMu sync.Mutex
	idLocks   map[string]*sync.Mutex

	fingerprints []FingerprintRule
}

// FingerprintRule maps a hostname substring to a guessed type. The active
// rule set is whatever SetFingerprintRules installed; the store does not
// load rules from a file.
type FingerprintRule struct {
	Contains string
	Type     Type
}

// DefaultFingerprintRules returns the built-in hostname-pattern table.
func DefaultFingerprintRules() []FingerprintRule {
	return []FingerprintRule{
		{Contains: "iphone", Type: TypePhone},
		{Contains: "android", Type: TypePhone},
		{Contains: "pixel", Type: TypePhone},
		{Contains: "galaxy", Type: TypePhone},
		{Contains: "appletv", Type: TypeTV},
		{Contains: "roku", Type: TypeTV},
		{Contains: "chromecast", Type: TypeTV},
		{Contains: "samsung-tv", Type: TypeTV},
		{Contains: "synology", Type: TypeNAS},
		{Contains: "qnap", Type: TypeNAS},
		{Contains: "nas", Type: TypeNAS},
		{Contains: "macbook", Type: TypeLaptop},
		{Contains: "laptop", Type: TypeLaptop},
		{Contains: "thinkpad", Type: TypeLaptop},
		{Contains: "imac", Type: TypeDesktop},
		{Contains: "desktop", Type: TypeDesktop},
		{Contains: "pc-", Type: TypeDesktop},
		{Contains: "printer", Type: TypePrinter},
		{Contains: "hp-", Type: TypePrinter},
		{Contains: "echo", Type: TypeIOT},
		{Contains: "nest", Type: TypeIOT},
		{Contains: "hue", Type: TypeIOT},
		{Contains: "ring", Type: TypeIOT},
		{Contains: "sonos", Type: TypeIOT},
	}
}

// Open loads (or creates) the device store backed by path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.Wrap("create device store directory", err)
	}

	s := &Store{
		path:         path,
		byID:         make(map[string]*Device),
		idByIP:       make(map[string]string),
		idLocks:      make(map[string]*sync.Mutex),
		fingerprints: DefaultFingerprintRules(),
	}

	if err := s.replay(); err != nil {
		return nil, errs.Wrap("replay device store", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errs.Wrap("open device store for append", err)
	}
	s.file = f
	return s, nil
}

// SetFingerprintRules replaces the hostname-pattern table.
func (s *Store) SetFingerprintRules(rules []FingerprintRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fingerprints = rules
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
		var d Device
		if err := json.Unmarshal(line, &d); err != nil {
			continue // corrupt line: skip, last-writer-wins on subsequent valid records
		}
		rec := d
		s.byID[rec.ID] = &rec
		s.idByIP[rec.IP] = rec.ID
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

func (s *Store) appendLocked(d *Device) error {
	line, err := json.Marshal(d)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	_, err = s.file.Write(line)
	return err
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.idLocksMu.Lock()
	defer s.idLocksMu.Unlock()
	l, ok := s.idLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.idLocks[id] = l
	}
	return l
}

// UpsertFromObservation is the idempotent discovery write: it advances
// last-seen to max(current, seenAt), never moves first-seen, and allows IP
// to change on an existing MAC. Returns the updated device and whether it
// was newly created.
func (s *Store) UpsertFromObservation(ip, mac, hostname string, seenAt time.Time) (Device, bool, error) {
	if ip == "" && mac == "" {
		return Device{}, false, errs.Wrap("upsert observation", errs.ErrInvalid)
	}

	id := Identifier(mac, ip)
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byID[id]
	created := false
	if !ok {
		// No record under this identifier: an existing record keyed by the
		// current IP may still cover this host (an "ip:" identifier created
		// before a MAC was ever observed). Identifiers are immutable, so
		// the record keeps its "ip:" key; the MAC is recorded on it below.
		if altID, found := s.idByIP[ip]; found {
			existing, ok = s.byID[altID]
		}
	}

	if !ok || existing == nil {
		d := &Device{
			ID:          id,
			IP:          ip,
			MAC:         NormalizeMAC(mac),
			Hostname:    hostname,
			FirstSeen:   seenAt,
			LastSeen:    seenAt,
			GuessedType: TypeUnknown,
		}
		s.applyFingerprintLocked(d)
		s.byID[id] = d
		s.idByIP[ip] = id
		if err := s.appendLocked(d); err != nil {
			return Device{}, false, err
		}
		return d.clone(), true, nil
	}

	// Last-seen advances to max(current, seenAt); first-seen stays pinned
	// at the creating observation and never moves.
	if seenAt.After(existing.LastSeen) {
		existing.LastSeen = seenAt
	}
	if ip != "" && ip != existing.IP {
		delete(s.idByIP, existing.IP)
		existing.IP = ip
		s.idByIP[ip] = existing.ID
	}
	if mac != "" && existing.MAC == "" {
		existing.MAC = NormalizeMAC(mac)
	}
	if hostname != "" {
		existing.Hostname = hostname
	}
	s.applyFingerprintLocked(existing)

	if err := s.appendLocked(existing); err != nil {
		return Device{}, false, err
	}
	return existing.clone(), created, nil
}

// applyFingerprintLocked sets guessed_type from the hostname-pattern table
// when it is currently unknown and the operator has not set it explicitly.
// Caller must hold s.mu.
func (s *Store) applyFingerprintLocked(d *Device) {
	if d.TypeSetByOperator || d.GuessedType != TypeUnknown && d.GuessedType != "" {
		return
	}
	if d.Hostname == "" {
		return
	}
	host := strings.ToLower(d.Hostname)
	for _, rule := range s.fingerprints {
		if strings.Contains(host, rule.Contains) {
			d.GuessedType = rule.Type
			return
		}
	}
}

// Get returns a snapshot copy of the device with identifier id.
func (s *Store) Get(id string) (Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byID[id]
	if !ok {
		return Device{}, errs.NewNotFound("device", id)
	}
	return d.clone(), nil
}

// List returns snapshot copies of devices matching filter, sorted by
// identifier for deterministic output.
func (s *Store) List(filter Filter) []Device {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Device, 0, len(s.byID))
	for _, d := range s.byID {
		if filter.Tag != "" && !d.HasTag(filter.Tag) {
			continue
		}
		if filter.GuessedType != "" && d.GuessedType != filter.GuessedType {
			continue
		}
		if filter.UnknownOnly && !(len(d.Tags) == 0 && (d.GuessedType == TypeUnknown || d.GuessedType == "")) {
			continue
		}
		out = append(out, d.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddTag is idempotent: adding the same tag twice leaves the device
// unchanged after the first call.
func (s *Store) AddTag(id, tag string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[id]
	if !ok {
		return errs.NewNotFound("device", id)
	}
	d.addTag(tag)
	return s.appendLocked(d)
}

// RemoveTag removes tag if present; a no-op otherwise.
func (s *Store) RemoveTag(id, tag string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[id]
	if !ok {
		return errs.NewNotFound("device", id)
	}
	d.removeTag(tag)
	return s.appendLocked(d)
}

// SetType sets the operator-chosen device type; once set, fingerprinting
// never overrides it.
func (s *Store) SetType(id string, t Type) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[id]
	if !ok {
		return errs.NewNotFound("device", id)
	}
	d.GuessedType = t
	d.TypeSetByOperator = true
	return s.appendLocked(d)
}

// SetOwner sets the operator-assigned owner string.
func (s *Store) SetOwner(id, owner string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[id]
	if !ok {
		return errs.NewNotFound("device", id)
	}
	d.Owner = owner
	return s.appendLocked(d)
}

// SetRiskScore records a numeric risk score in [0,1] for id, used by the
// health-score service's high-risk-device metric.
func (s *Store) SetRiskScore(id string, score float64) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[id]
	if !ok {
		return errs.NewNotFound("device", id)
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	d.RiskScore = &score
	return s.appendLocked(d)
}

// LookupByIP returns the device currently associated with ip, if any.
func (s *Store) LookupByIP(ip string) (Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.idByIP[ip]
	if !ok {
		return Device{}, false
	}
	d, ok := s.byID[id]
	if !ok {
		return Device{}, false
	}
	return d.clone(), true
}

// Count returns the total number of devices in the store.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
