// SPDX-License-Identifier: Apache-2.0

// Package store persists review sessions, their stage artifacts and document
// renderings in badger. Values are JSON. Keys:
//
//	sessions/<session>
//	artifacts/<session>/<kind>
//	doctext/<session>/<document>
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/gemaraproj/registry-review/internal/review"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("not found")

// Kind names a stage artifact.
type Kind string

const (
	KindDocuments  Kind = "documents"
	KindMappings   Kind = "mappings"
	KindEvidence   Kind = "evidence"
	KindValidation Kind = "validation"
	KindReport     Kind = "report"
	KindReview     Kind = "review"
)

// Kinds lists every artifact kind.
var Kinds = []Kind{KindDocuments, KindMappings, KindEvidence, KindValidation, KindReport, KindReview}

// Store is the session and artifact store.
type Store struct {
	db *badger.DB
	gc *gcRunner
}

// Open opens the database described by cfg.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		s.gc = runner
		runner.start()
	}
	return s, nil
}

// OpenInMemory opens a throwaway store.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close stops background GC and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

func sessionKey(id string) []byte {
	return []byte("sessions/" + id)
}

func artifactKey(sessionID string, kind Kind) []byte {
	return []byte("artifacts/" + sessionID + "/" + string(kind))
}

func textPrefix(sessionID string) []byte {
	return []byte("doctext/" + sessionID + "/")
}

func textKey(sessionID, documentID string) []byte {
	return append(textPrefix(sessionID), documentID...)
}

// TextRef is the key under which a document rendering is stored.
func TextRef(sessionID, documentID string) string {
	return string(textKey(sessionID, documentID))
}

// Tx is a read-write transaction over one or more sessions.
type Tx struct {
	txn *badger.Txn
}

// Update runs fn in a read-write transaction committed when fn returns nil.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return fn(&Tx{txn: txn})
	})
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&Tx{txn: txn})
	})
}

func (t *Tx) put(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return t.txn.Set(key, data)
}

func (t *Tx) get(key []byte, v any) error {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, v); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return nil
	})
}

func (t *Tx) delete(key []byte) error {
	return t.txn.Delete(key)
}

// PutSession writes the session record.
func (t *Tx) PutSession(s *review.Session) error {
	return t.put(sessionKey(s.ID), s)
}

// GetSession reads a session record.
func (t *Tx) GetSession(id string) (*review.Session, error) {
	var s review.Session
	if err := t.get(sessionKey(id), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// PutArtifact replaces the artifact of the given kind.
func (t *Tx) PutArtifact(sessionID string, kind Kind, v any) error {
	return t.put(artifactKey(sessionID, kind), v)
}

// GetArtifact decodes the artifact of the given kind into v.
func (t *Tx) GetArtifact(sessionID string, kind Kind, v any) error {
	return t.get(artifactKey(sessionID, kind), v)
}

// DeleteArtifacts removes artifacts; missing ones are ignored.
func (t *Tx) DeleteArtifacts(sessionID string, kinds ...Kind) error {
	for _, kind := range kinds {
		if err := t.delete(artifactKey(sessionID, kind)); err != nil {
			return fmt.Errorf("delete %s artifact: %w", kind, err)
		}
	}
	return nil
}

// GetSession reads a session record.
func (s *Store) GetSession(ctx context.Context, id string) (*review.Session, error) {
	var out *review.Session
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.GetSession(id)
		return err
	})
	return out, err
}

// PutSession writes a session record.
func (s *Store) PutSession(ctx context.Context, session *review.Session) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.PutSession(session)
	})
}

// ListSessions returns every session ordered by creation time, then ID.
func (s *Store) ListSessions(ctx context.Context) ([]review.Session, error) {
	var sessions []review.Session
	err := s.View(ctx, func(tx *Tx) error {
		it := tx.txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("sessions/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var sess review.Session
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sess)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			sessions = append(sessions, sess)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
	return sessions, nil
}

// GetArtifact decodes the artifact of the given kind into v.
func (s *Store) GetArtifact(ctx context.Context, sessionID string, kind Kind, v any) error {
	return s.View(ctx, func(tx *Tx) error {
		return tx.GetArtifact(sessionID, kind, v)
	})
}

// PutText stores a document rendering.
func (s *Store) PutText(ctx context.Context, sessionID, documentID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(textKey(sessionID, documentID), []byte(text))
	})
}

// GetText reads a document rendering.
func (s *Store) GetText(ctx context.Context, sessionID, documentID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var text string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(textKey(sessionID, documentID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("text of document %s: %w", documentID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		text = string(val)
		return err
	})
	return text, err
}

// DeleteText removes the renderings of the given documents.
func (s *Store) DeleteText(ctx context.Context, sessionID string, documentIDs ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, id := range documentIDs {
			if err := txn.Delete(textKey(sessionID, id)); err != nil {
				return fmt.Errorf("delete text of document %s: %w", id, err)
			}
		}
		return nil
	})
}

// DeleteTexts removes every rendering stored for a session.
func (s *Store) DeleteTexts(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.DropPrefix(textPrefix(sessionID))
}

// DeleteSession removes a session with all of its artifacts and renderings.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	err := s.Update(ctx, func(tx *Tx) error {
		if _, err := tx.GetSession(sessionID); err != nil {
			return err
		}
		if err := tx.DeleteArtifacts(sessionID, Kinds...); err != nil {
			return err
		}
		return tx.delete(sessionKey(sessionID))
	})
	if err != nil {
		return err
	}
	return s.DeleteTexts(ctx, sessionID)
}
