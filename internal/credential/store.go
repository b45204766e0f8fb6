package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var ErrUnknownUpstream = errors.New("unknown upstream")

// SecretSource supplies the current plaintext keys, keyed by upstream name.
// The gateway reads them from the environment, so a rotation cycle picks up
// whatever the operator has exported since the last one.
type SecretSource func() (map[string]string, error)

// Store holds the derived credential records for every upstream. Records are
// replaced wholesale on each successful rotation and never mutated in place.
type Store struct {
	mu      sync.RWMutex
	records map[string]Record
	unit    *Unit
	source  SecretSource
	log     *logrus.Logger
}

func NewStore(
	unit *Unit,
	source SecretSource,
	log *logrus.Logger,
) *Store {
	return &Store{
		records: make(map[string]Record),
		unit:    unit,
		source:  source,
		log:     log,
	}
}

// Bootstrap performs the initial derivation. A failure here is fatal to
// process startup: the caller must not serve traffic without credentials.
func (s *Store) Bootstrap() error {
	records, err := s.deriveAll()
	if err != nil {
		return fmt.Errorf("credential bootstrap failed: %v", err)
	}
	s.replace(records)
	return nil
}

// Rotate re-derives every record from freshly loaded secrets. On failure the
// previous records remain valid; the error is reported, never escalated.
func (s *Store) Rotate() error {
	records, err := s.deriveAll()
	if err != nil {
		return err
	}
	s.replace(records)
	s.log.WithField("upstreams", len(records)).Info("credentials rotated")
	return nil
}

// RunRotation rotates on a fixed interval until ctx is cancelled. Scheduled
// rotation failures are logged and skipped.
func (s *Store) RunRotation(
	ctx context.Context,
	interval time.Duration,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Rotate(); err != nil {
				s.log.WithError(err).Warn("scheduled credential rotation failed, keeping previous credentials")
			}
		}
	}
}

// Verify checks a candidate key against the record for the named upstream.
func (s *Store) Verify(
	upstream string,
	candidateKey string,
) (
	bool,
	error,
) {
	s.mu.RLock()
	record, ok := s.records[upstream]
	s.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownUpstream, upstream)
	}
	return s.unit.Verify(candidateKey, record)
}

func (s *Store) deriveAll() (map[string]Record, error) {
	secrets, err := s.source()
	if err != nil {
		return nil, err
	}

	records := make(map[string]Record, len(secrets))
	for name, plaintext := range secrets {
		if plaintext == "" {
			return nil, fmt.Errorf("missing secret for upstream '%s'", name)
		}
		record, err := s.unit.Encrypt(plaintext)
		if err != nil {
			return nil, fmt.Errorf("couldn't derive credential for upstream '%s': %v", name, err)
		}
		records[name] = record
	}
	return records, nil
}

func (s *Store) replace(records map[string]Record) {
	s.mu.Lock()
	s.records = records
	s.mu.Unlock()
}
