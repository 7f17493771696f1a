package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"duel/protocol"
)

// FileStore persists the PlayerBundleMap as one file. Writes go to a
// temporary file that is renamed over the old one, so a crash never leaves
// a torn store behind.
type FileStore struct {
	path    string
	log     *zap.SugaredLogger
	pending protocol.PlayerBundleMap
}

// OpenFileStore reads the store at path. A missing file is an empty store;
// an unreadable one is logged and also starts empty.
func OpenFileStore(path string, log *zap.SugaredLogger) (*FileStore, protocol.PlayerBundleMap) {
	s := &FileStore{path: path, log: log}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, protocol.PlayerBundleMap{}
	}
	if err != nil {
		log.Errorw("reading profile store", "path", path, "err", err)
		return s, protocol.PlayerBundleMap{}
	}
	m, err := protocol.DecodeBundleMap(b)
	if err != nil {
		log.Errorw("decoding profile store, starting empty", "path", path, "err", err)
		return s, protocol.PlayerBundleMap{}
	}
	log.Infow("loaded profiles", "path", path, "count", len(m))
	return s, m
}

// Save writes m, retrying once. When both attempts fail the store is left
// dirty and m is written again by the next Flush.
func (s *FileStore) Save(m protocol.PlayerBundleMap) error {
	b := protocol.EncodeBundleMap(m)
	err := s.write(b)
	if err != nil {
		s.log.Warnw("profile store write failed, retrying", "path", s.path, "err", err)
		err = s.write(b)
	}
	if err != nil {
		s.pending = m.Clone()
		return fmt.Errorf("save profiles: %w", err)
	}
	s.pending = nil
	return nil
}

// Dirty reports whether a failed write is waiting for Flush.
func (s *FileStore) Dirty() bool {
	return s.pending != nil
}

// Flush retries the last failed write, if any.
func (s *FileStore) Flush() error {
	if s.pending == nil {
		return nil
	}
	return s.Save(s.pending)
}

func (s *FileStore) write(b []byte) error {
	f, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
