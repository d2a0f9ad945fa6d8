package breaker

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Consent reports whether the operator has agreed to auto-approval.
type Consent interface {
	Granted() bool
}

// StaticConsent is consent given by configuration.
type StaticConsent bool

// Granted implements Consent.
func (s StaticConsent) Granted() bool { return bool(s) }

// AnyConsent is granted when any of its members is.
type AnyConsent []Consent

// Granted implements Consent.
func (a AnyConsent) Granted() bool {
	for _, c := range a {
		if c != nil && c.Granted() {
			return true
		}
	}
	return false
}

// ConsentRecord is the persisted consent.
type ConsentRecord struct {
	Granted   bool      `json:"granted"`
	GrantedBy string    `json:"granted_by,omitempty"`
	GrantedAt time.Time `json:"granted_at,omitempty"`
	RevokedAt time.Time `json:"revoked_at,omitempty"`
}

// ConsentStore is durable consent kept in a JSON file.
type ConsentStore struct {
	path string
	mu   sync.Mutex
}

// NewConsentStore returns a store backed by path.
func NewConsentStore(path string) *ConsentStore {
	return &ConsentStore{path: path}
}

// Granted implements Consent. Unreadable files count as no consent.
func (s *ConsentStore) Granted() bool {
	rec, err := s.Status()
	return err == nil && rec.Granted
}

// Status returns the persisted record. A missing file is no consent.
func (s *ConsentStore) Status() (ConsentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Grant records consent by operator.
func (s *ConsentStore) Grant(operator string) (ConsentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := ConsentRecord{Granted: true, GrantedBy: operator, GrantedAt: time.Now().UTC()}
	if err := writeJSONAtomic(s.path, rec); err != nil {
		return rec, fmt.Errorf("breaker: save consent: %w", err)
	}
	return rec, nil
}

// Revoke withdraws consent.
func (s *ConsentStore) Revoke() (ConsentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.read()
	if err != nil {
		rec = ConsentRecord{}
	}
	rec.Granted = false
	rec.RevokedAt = time.Now().UTC()
	if err := writeJSONAtomic(s.path, rec); err != nil {
		return rec, fmt.Errorf("breaker: save consent: %w", err)
	}
	return rec, nil
}

func (s *ConsentStore) read() (ConsentRecord, error) {
	var rec ConsentRecord
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return rec, nil
		}
		return rec, fmt.Errorf("breaker: read consent: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return ConsentRecord{}, fmt.Errorf("breaker: parse consent: %w", err)
	}
	return rec, nil
}
