// Copyright (C) 2026 Cookie Monster Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cookiejar

import (
	"context"
	"encoding/json"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const keyPrefix = "cookie/"

// BadgerStore is the default Store, an embedded ordered key-value store
// standing in for the out-of-scope CouchDB wire protocol (spec.md §1).
// Each object's Document is stored as one JSON value under key
// "cookie/<id>".
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) a badger database rooted at dir. Pass
// an empty dir to open an in-memory, non-persistent store (used by tests).
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func keyFor(id ID) []byte {
	return []byte(keyPrefix + string(id))
}

func idFromKey(key []byte) ID {
	return ID(strings.TrimPrefix(string(key), keyPrefix))
}

func (s *BadgerStore) Get(_ context.Context, id ID) (Document, error) {
	var doc Document
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyFor(id))
		if err == badger.ErrKeyNotFound {
			return &ErrNotFound{ID: id}
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
	})
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (s *BadgerStore) Put(_ context.Context, doc Document, expectedRevision string) (string, error) {
	newRevision := uuid.NewString()

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(keyFor(doc.ID))
		switch {
		case err == badger.ErrKeyNotFound:
			if expectedRevision != "" {
				return &ErrConflict{ID: doc.ID}
			}
		case err != nil:
			return err
		default:
			var existing Document
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); err != nil {
				return err
			}
			if existing.Revision != expectedRevision {
				return &ErrConflict{ID: doc.ID}
			}
		}

		doc.Revision = newRevision
		encoded, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		return txn.Set(keyFor(doc.ID), encoded)
	})
	if err != nil {
		return "", err
	}
	return newRevision, nil
}

func (s *BadgerStore) Delete(_ context.Context, id ID) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(keyFor(id))
	})
	if err != nil && err != badger.ErrKeyNotFound {
		return err
	}
	return nil
}

func (s *BadgerStore) ScanNotComplete(_ context.Context) ([]ID, error) {
	var ids []ID
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var doc Document
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			})
			if err != nil {
				return err
			}
			if doc.ProcessingState != StateComplete {
				ids = append(ids, idFromKey(item.Key()))
			}
		}
		return nil
	})
	return ids, err
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
