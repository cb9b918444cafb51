// Package prefs persists the user's view preferences: the list filter, the
// custom date range and the sidebar state.
package prefs

import (
	"errors"
	"fmt"
	"strconv"

	"ledger-sync/pkg/access"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

var (
	keyIncludeClosed = []byte("list.include_closed")
	keyFilter        = []byte("list.filter")
	keyRangeStart    = []byte("list.range.start")
	keyRangeEnd      = []byte("list.range.end")
	keySidebar       = []byte("ui.sidebar_collapsed")
)

// Store is a leveldb-backed preferences store.
type Store struct {
	db *leveldb.DB
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("prefs: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenStorage opens the store over an existing leveldb storage, such as
// storage.NewMemStorage().
func OpenStorage(stor storage.Storage) (*Store, error) {
	db, err := leveldb.Open(stor, nil)
	if err != nil {
		return nil, fmt.Errorf("prefs: open: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Query returns the saved list query. A fresh store yields the zero query.
func (s *Store) Query() (access.ListQuery, error) {
	var q access.ListQuery
	var err error

	if q.IncludeClosed, err = s.getBool(keyIncludeClosed); err != nil {
		return access.ListQuery{}, err
	}
	if q.Filter, err = s.getString(keyFilter); err != nil {
		return access.ListQuery{}, err
	}
	if q.Range.StartDate, err = s.getString(keyRangeStart); err != nil {
		return access.ListQuery{}, err
	}
	if q.Range.EndDate, err = s.getString(keyRangeEnd); err != nil {
		return access.ListQuery{}, err
	}
	return q, nil
}

// SaveQuery stores q atomically. Empty fields are removed.
func (s *Store) SaveQuery(q access.ListQuery) error {
	batch := new(leveldb.Batch)
	batch.Put(keyIncludeClosed, []byte(strconv.FormatBool(q.IncludeClosed)))
	putOrDelete(batch, keyFilter, q.Filter)
	putOrDelete(batch, keyRangeStart, q.Range.StartDate)
	putOrDelete(batch, keyRangeEnd, q.Range.EndDate)

	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("prefs: save query: %w", err)
	}
	return nil
}

// SidebarCollapsed reports the saved sidebar state.
func (s *Store) SidebarCollapsed() (bool, error) {
	return s.getBool(keySidebar)
}

// SetSidebarCollapsed saves the sidebar state.
func (s *Store) SetSidebarCollapsed(collapsed bool) error {
	if err := s.db.Put(keySidebar, []byte(strconv.FormatBool(collapsed)), nil); err != nil {
		return fmt.Errorf("prefs: save sidebar: %w", err)
	}
	return nil
}

func putOrDelete(batch *leveldb.Batch, key []byte, value string) {
	if value == "" {
		batch.Delete(key)
		return
	}
	batch.Put(key, []byte(value))
}

func (s *Store) getString(key []byte) (string, error) {
	v, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("prefs: get %s: %w", key, err)
	}
	return string(v), nil
}

func (s *Store) getBool(key []byte) (bool, error) {
	v, err := s.getString(key)
	if err != nil || v == "" {
		return false, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("prefs: %s: %w", key, err)
	}
	return b, nil
}
