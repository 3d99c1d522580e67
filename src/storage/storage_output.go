package storage

import (
	"database/sql"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/0xb10c/mempool-addrindex/src/script"
)

// InsertTransactionOutputs stores all outputs of tx. Outputs that are already
// stored keep the earlier of both firstSeen timestamps.
func (s *Storage) InsertTransactionOutputs(tx *wire.MsgTx, firstSeen time.Time) error {
	// The firstSeen timestamp might not be monotonic, since transactions
	// can be inserted from multiple sources (ZMQ and getrawmempool RPC).
	// https://www.sqlite.org/lang_UPSERT.html
	const insertOutput string = `
	INSERT INTO "output" (txid, vout, value, pk_script, first_seen) VALUES(?, ?, ?, ?, ?)
	ON CONFLICT(txid, vout) DO
		UPDATE SET
			first_seen = excluded.first_seen
		WHERE
			first_seen > excluded.first_seen
	`

	dbtx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "could not begin transaction")
	}

	stmt, err := dbtx.Prepare(insertOutput)
	if err != nil {
		dbtx.Rollback()
		return errors.Wrap(err, "could not prepare statement")
	}
	defer func() {
		if err := stmt.Close(); err != nil {
			log.WithError(err).Warn("error in stmt.Close()")
		}
	}()

	txid := tx.TxHash()
	for vout, txOut := range tx.TxOut {
		_, err := stmt.Exec(txid[:], vout, txOut.Value, txOut.PkScript, firstSeen.UTC().Unix())
		if err != nil {
			dbtx.Rollback()
			return errors.Errorf("could not insert output %s:%d into table `output`: %s", txid, vout, err)
		}
	}

	return dbtx.Commit()
}

// FetchPrevOut returns the stored output at op. It returns an
// *script.ErrorPrevOutNotFound if the output was never stored or has been
// pruned.
func (s *Storage) FetchPrevOut(op wire.OutPoint) (*wire.TxOut, error) {
	const selectOutput string = `
	SELECT value, pk_script FROM "output" WHERE txid = ? AND vout = ?
	`

	var value int64
	var pkScript []byte
	err := s.db.QueryRow(selectOutput, op.Hash[:], op.Index).Scan(&value, &pkScript)
	if err == sql.ErrNoRows {
		return nil, &script.ErrorPrevOutNotFound{OutPoint: op}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not fetch output %s", op)
	}
	return wire.NewTxOut(value, pkScript), nil
}

// PruneOutputsBefore deletes all outputs first seen before t and returns how
// many were deleted.
func (s *Storage) PruneOutputsBefore(t time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM "output" WHERE first_seen < ?`, t.UTC().Unix())
	if err != nil {
		return 0, errors.Wrap(err, "could not prune outputs")
	}
	return res.RowsAffected()
}

func (s *Storage) OutputCount() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM "output"`).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "could not count outputs")
	}
	return count, nil
}
