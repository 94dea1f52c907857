package blockindex

import "github.com/Klingon-tech/klingnet-chain/internal/storage"

// flagKey builds the storage key for a named feature flag: byte 'F' ‖
// length-prefixed name, per spec §6.
func flagKey(name string) []byte {
	key := make([]byte, 0, 2+len(name))
	key = append(key, flagPrefix, byte(len(name)))
	key = append(key, name...)
	return key
}

// ReadFlag returns the stored value of a named flag, defaulting to
// false if never written.
func (s *Store) ReadFlag(name string) (bool, error) {
	data, err := s.db.Get(flagKey(name))
	if err == storage.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(data) == 1 && data[0] == '1', nil
}

// WriteFlag persists a named flag as '1'/'0'.
func (s *Store) WriteFlag(name string, value bool) error {
	b := byte('0')
	if value {
		b = '1'
	}
	return s.db.Put(flagKey(name), []byte{b})
}

// ReindexInProgress reports whether the presence-only 'R' marker is set.
func (s *Store) ReindexInProgress() (bool, error) {
	ok, err := s.db.Has([]byte{reindexFlagKey})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// SetReindexInProgress writes or clears the presence-only 'R' marker.
func (s *Store) SetReindexInProgress(inProgress bool) error {
	if inProgress {
		return s.db.Put([]byte{reindexFlagKey}, []byte{})
	}
	return s.db.Delete([]byte{reindexFlagKey})
}
