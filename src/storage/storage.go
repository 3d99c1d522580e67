// Package storage keeps the outputs of seen transactions in sqlite so that
// later spends of them can be attributed to an address.
package storage

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "storage")

type Storage struct {
	db *sql.DB
}

func NewStorage(path string) (*Storage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open database %s", path)
	}

	s := Storage{db}

	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	log.WithField("path", path).Debug("opened prevout store")
	return &s, nil
}

func (s *Storage) init() error {
	const createTables string = `
	CREATE TABLE IF NOT EXISTS "output" (
		txid       BLOB    NOT NULL,
		vout       INTEGER NOT NULL,
		value      INTEGER NOT NULL,
		pk_script  BLOB    NOT NULL,
		first_seen INTEGER NOT NULL,
		PRIMARY KEY (txid, vout)
	);
	CREATE INDEX IF NOT EXISTS output_first_seen ON "output" (first_seen);
	`
	if _, err := s.db.Exec(createTables); err != nil {
		return errors.Wrap(err, "could not create tables")
	}
	return nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}
