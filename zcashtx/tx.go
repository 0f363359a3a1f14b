// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package zcashtx converts between Zcash raw transaction bytes and a
// standards-compatible transaction structure. Zcash diverges from the
// standard wire layout in the header (overwinter flag and version group
// id), after the lock time (expiry height) and in an opaque trailing
// region of sapling fields. The codec preserves every network-specific
// byte so that encode(decode(b)) == b, which is what lets Zcash
// transactions ride inside a standard PSBT container.
package zcashtx

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	// overwinterFlag is the high bit of the version field marking an
	// overwintered transaction.
	overwinterFlag = uint32(1) << 31

	// SaplingVersion is the transaction version of the sapling format.
	SaplingVersion = 4

	// SaplingVersionGroupID is the version group id of sapling
	// transactions.
	SaplingVersionGroupID = 0x892f2085

	// maxScriptLen bounds script reads when decoding. Matches the
	// standard maximum script element allowance for full scripts.
	maxScriptLen = 10000
)

var (
	// ErrNotZcash is returned when raw bytes cannot be decoded as a
	// Zcash transaction.
	ErrNotZcash = errors.New("malformed zcash transaction")
)

// Tx is a decoded Zcash transaction: the standards-compatible portion as a
// wire.MsgTx plus every field the standard model cannot hold. SaplingExtra
// is captured verbatim and never interpreted; its internal structure is not
// needed for transparent signing.
type Tx struct {
	// Version is the transaction version without the overwinter flag.
	Version uint32

	// Overwintered reports whether the version field carried the
	// overwinter flag.
	Overwintered bool

	// VersionGroupID is the per-format group id; only present when
	// Overwintered.
	VersionGroupID uint32

	// ExpiryHeight is the block height after which the transaction
	// expires; only present when Overwintered.
	ExpiryHeight uint32

	// MsgTx is the standards-compatible view: version (sans flag),
	// inputs, outputs and lock time.
	MsgTx *wire.MsgTx

	// SaplingExtra is the opaque trailing region after the expiry
	// height (value balance, shielded bundles, binding signature),
	// replayed byte for byte on encode. For pre-overwinter versions it
	// holds any join-split data trailing the lock time.
	SaplingExtra []byte
}

// Decode parses Zcash raw transaction bytes.
func Decode(raw []byte) (*Tx, error) {
	r := bytes.NewReader(raw)

	var header uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: reading version: %v", ErrNotZcash,
			err)
	}

	tx := &Tx{
		Version:      header &^ overwinterFlag,
		Overwintered: header&overwinterFlag != 0,
	}

	if tx.Overwintered {
		err := binary.Read(r, binary.LittleEndian, &tx.VersionGroupID)
		if err != nil {
			return nil, fmt.Errorf("%w: reading version group "+
				"id: %v", ErrNotZcash, err)
		}
	}

	msgTx := wire.NewMsgTx(int32(tx.Version))
	if err := readTxBody(r, msgTx); err != nil {
		return nil, err
	}
	tx.MsgTx = msgTx

	if tx.Overwintered {
		err := binary.Read(r, binary.LittleEndian, &tx.ExpiryHeight)
		if err != nil {
			return nil, fmt.Errorf("%w: reading expiry height: %v",
				ErrNotZcash, err)
		}
	}

	extra, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading trailing fields: %v",
			ErrNotZcash, err)
	}
	if len(extra) > 0 {
		tx.SaplingExtra = extra
	}

	return tx, nil
}

// readTxBody reads the standard inputs, outputs and lock time.
func readTxBody(r io.Reader, msgTx *wire.MsgTx) error {
	inputCount, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return fmt.Errorf("%w: reading input count: %v", ErrNotZcash,
			err)
	}
	for i := uint64(0); i < inputCount; i++ {
		txIn := &wire.TxIn{}
		if _, err := io.ReadFull(
			r, txIn.PreviousOutPoint.Hash[:],
		); err != nil {
			return fmt.Errorf("%w: input %d outpoint: %v",
				ErrNotZcash, i, err)
		}
		if err := binary.Read(
			r, binary.LittleEndian, &txIn.PreviousOutPoint.Index,
		); err != nil {
			return fmt.Errorf("%w: input %d index: %v",
				ErrNotZcash, i, err)
		}

		txIn.SignatureScript, err = wire.ReadVarBytes(
			r, 0, maxScriptLen, "signature script",
		)
		if err != nil {
			return fmt.Errorf("%w: input %d script: %v",
				ErrNotZcash, i, err)
		}

		if err := binary.Read(
			r, binary.LittleEndian, &txIn.Sequence,
		); err != nil {
			return fmt.Errorf("%w: input %d sequence: %v",
				ErrNotZcash, i, err)
		}
		msgTx.AddTxIn(txIn)
	}

	outputCount, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return fmt.Errorf("%w: reading output count: %v", ErrNotZcash,
			err)
	}
	for i := uint64(0); i < outputCount; i++ {
		txOut := &wire.TxOut{}
		if err := binary.Read(
			r, binary.LittleEndian, &txOut.Value,
		); err != nil {
			return fmt.Errorf("%w: output %d value: %v",
				ErrNotZcash, i, err)
		}

		txOut.PkScript, err = wire.ReadVarBytes(
			r, 0, maxScriptLen, "pk script",
		)
		if err != nil {
			return fmt.Errorf("%w: output %d script: %v",
				ErrNotZcash, i, err)
		}
		msgTx.AddTxOut(txOut)
	}

	if err := binary.Read(
		r, binary.LittleEndian, &msgTx.LockTime,
	); err != nil {
		return fmt.Errorf("%w: reading lock time: %v", ErrNotZcash, err)
	}

	return nil
}

// Encode serializes the transaction back into Zcash raw bytes. For a
// decoded transaction this reproduces the input exactly.
func (tx *Tx) Encode() ([]byte, error) {
	var buf bytes.Buffer

	header := tx.Version
	if tx.Overwintered {
		header |= overwinterFlag
	}
	if err := binary.Write(&buf, binary.LittleEndian, header); err != nil {
		return nil, err
	}

	if tx.Overwintered {
		err := binary.Write(
			&buf, binary.LittleEndian, tx.VersionGroupID,
		)
		if err != nil {
			return nil, err
		}
	}

	if err := writeTxBody(&buf, tx.MsgTx); err != nil {
		return nil, err
	}

	if tx.Overwintered {
		err := binary.Write(
			&buf, binary.LittleEndian, tx.ExpiryHeight,
		)
		if err != nil {
			return nil, err
		}
	}

	buf.Write(tx.SaplingExtra)

	return buf.Bytes(), nil
}

// writeTxBody writes the standard inputs, outputs and lock time.
func writeTxBody(w io.Writer, msgTx *wire.MsgTx) error {
	if err := wire.WriteVarInt(w, 0, uint64(len(msgTx.TxIn))); err != nil {
		return err
	}
	for _, txIn := range msgTx.TxIn {
		if _, err := w.Write(
			txIn.PreviousOutPoint.Hash[:],
		); err != nil {
			return err
		}
		if err := binary.Write(
			w, binary.LittleEndian, txIn.PreviousOutPoint.Index,
		); err != nil {
			return err
		}
		if err := wire.WriteVarBytes(
			w, 0, txIn.SignatureScript,
		); err != nil {
			return err
		}
		if err := binary.Write(
			w, binary.LittleEndian, txIn.Sequence,
		); err != nil {
			return err
		}
	}

	if err := wire.WriteVarInt(w, 0, uint64(len(msgTx.TxOut))); err != nil {
		return err
	}
	for _, txOut := range msgTx.TxOut {
		if err := binary.Write(
			w, binary.LittleEndian, txOut.Value,
		); err != nil {
			return err
		}
		if err := wire.WriteVarBytes(w, 0, txOut.PkScript); err != nil {
			return err
		}
	}

	return binary.Write(w, binary.LittleEndian, msgTx.LockTime)
}

// TxID returns the transaction id: the double SHA256 of the raw Zcash
// encoding, byte-reversed per convention. Valid for the v4 and earlier
// formats this codec handles.
func (tx *Tx) TxID() (chainhash.Hash, error) {
	raw, err := tx.Encode()
	if err != nil {
		return chainhash.Hash{}, err
	}
	return chainhash.DoubleHashH(raw), nil
}

// emptySaplingExtra is the trailing region of a transparent-only sapling
// transaction: zero value balance, empty shielded spend/output vectors and
// an empty join-split vector.
func emptySaplingExtra() []byte {
	return []byte{0, 0, 0, 0, 0, 0, 0, 0, 0x00, 0x00, 0x00}
}

// NewSapling builds a transparent-only sapling-format transaction around a
// standards-compatible unsigned transaction.
func NewSapling(msgTx *wire.MsgTx, expiryHeight uint32) *Tx {
	return &Tx{
		Version:        SaplingVersion,
		Overwintered:   true,
		VersionGroupID: SaplingVersionGroupID,
		ExpiryHeight:   expiryHeight,
		MsgTx:          msgTx,
		SaplingExtra:   emptySaplingExtra(),
	}
}
