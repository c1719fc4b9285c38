// Package credstore persists the account identifier, the optional server
// override and, for stacks without persistence of their own, the network
// credentials. Every write reaches the backend before the call returns.
package credstore

import (
	"log/slog"
	"sync"

	"autovolume-go/errcode"
	"autovolume-go/x/strx"
)

const (
	KeyAccountID = "account_id"
	KeyServerURL = "server_url"
	KeyWiFiSSID  = "wifi_ssid"
	KeyWiFiPass  = "wifi_pass"

	// keyResetPending survives only between the two halves of ClearAll.
	keyResetPending = "reset_pending"
)

// Backend stores the whole document at once. Save must be durable and
// atomic: after it returns either the new document or the old one is read
// back by Load, never a mix.
type Backend interface {
	Load() (map[string]string, error)
	Save(doc map[string]string) error
}

// NetworkEraser invalidates credentials held by the network stack itself.
type NetworkEraser interface {
	Forget() error
}

type Store struct {
	mu     sync.Mutex
	be     Backend
	doc    map[string]string
	eraser NetworkEraser
	log    *slog.Logger
}

// Open loads the current document from b.
func Open(b Backend, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	doc, err := b.Load()
	if err != nil {
		return nil, errcode.Wrap(errcode.StoreFailed, "credstore.open", err)
	}
	if doc == nil {
		doc = map[string]string{}
	}
	return &Store{be: b, doc: doc, log: log.With("svc", "credstore")}, nil
}

// SetEraser binds the network stack whose credentials ClearAll invalidates.
func (s *Store) SetEraser(e NetworkEraser) {
	s.mu.Lock()
	s.eraser = e
	s.mu.Unlock()
}

// Recover completes a ClearAll that was interrupted after the document was
// wiped but before the network stack forgot its credentials.
func (s *Store) Recover() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc[keyResetPending] == "" {
		return nil
	}
	s.log.Warn("finishing interrupted credential clear")
	return s.finishClearLocked()
}

// Get returns the stored value for key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.doc[key]
	return v, ok && v != ""
}

// AccountID returns the stored account identifier, if any.
func (s *Store) AccountID() (string, bool) { return s.Get(KeyAccountID) }

// Put writes key=value durably. An empty account identifier is refused.
func (s *Store) Put(key, value string) error {
	if key == "" || key == keyResetPending {
		return errcode.New(errcode.InvalidParams, "credstore.put", "reserved or empty key")
	}
	if key == KeyAccountID && strx.Blank(value) {
		return errcode.New(errcode.InvalidAccountID, "credstore.put", "account id must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cloneLocked()
	next[key] = value
	if err := s.be.Save(next); err != nil {
		return errcode.Wrap(errcode.StoreFailed, "credstore.put", err)
	}
	s.doc = next
	s.log.Debug("stored", "key", key)
	return nil
}

// PutAll writes several keys in one save.
func (s *Store) PutAll(kv map[string]string) error {
	if v, ok := kv[KeyAccountID]; ok && strx.Blank(v) {
		return errcode.New(errcode.InvalidAccountID, "credstore.put", "account id must not be empty")
	}
	if _, ok := kv[keyResetPending]; ok {
		return errcode.New(errcode.InvalidParams, "credstore.put", "reserved key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cloneLocked()
	for k, v := range kv {
		next[k] = v
	}
	if err := s.be.Save(next); err != nil {
		return errcode.Wrap(errcode.StoreFailed, "credstore.put", err)
	}
	s.doc = next
	return nil
}

// Delete removes key durably. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.doc[key]; !ok {
		return nil
	}
	next := s.cloneLocked()
	delete(next, key)
	if err := s.be.Save(next); err != nil {
		return errcode.Wrap(errcode.StoreFailed, "credstore.delete", err)
	}
	s.doc = next
	return nil
}

// ClearAll removes every stored key and invalidates the network stack's
// credentials. The wipe is recorded first; if the eraser fails the marker
// stays and the next ClearAll or Recover finishes the job.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	marked := map[string]string{keyResetPending: "1"}
	if err := s.be.Save(marked); err != nil {
		return errcode.Wrap(errcode.StoreFailed, "credstore.clear", err)
	}
	s.doc = marked
	return s.finishClearLocked()
}

func (s *Store) finishClearLocked() error {
	if s.eraser != nil {
		if err := s.eraser.Forget(); err != nil {
			return errcode.Wrap(errcode.StoreFailed, "credstore.clear", err)
		}
	}
	empty := map[string]string{}
	if err := s.be.Save(empty); err != nil {
		return errcode.Wrap(errcode.StoreFailed, "credstore.clear", err)
	}
	s.doc = empty
	s.log.Info("credentials cleared")
	return nil
}

func (s *Store) cloneLocked() map[string]string {
	out := make(map[string]string, len(s.doc)+1)
	for k, v := range s.doc {
		out[k] = v
	}
	return out
}
