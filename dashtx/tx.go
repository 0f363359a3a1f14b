// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package dashtx converts between Dash raw transaction bytes and a
// standards-compatible transaction structure. Dash packs a special
// transaction type into the high 16 bits of the version field and, for
// non-zero types, appends an extra payload after the lock time. The codec
// preserves both so that encode(decode(b)) == b.
package dashtx

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
	// maxScriptLen bounds script reads when decoding.
	maxScriptLen = 10000

	// maxExtraPayloadLen bounds the special transaction payload; the
	// consensus limit is 10000 bytes.
	maxExtraPayloadLen = 10000
)

var (
	// ErrNotDash is returned when raw bytes cannot be decoded as a Dash
	// transaction.
	ErrNotDash = errors.New("malformed dash transaction")
)

// Tx is a decoded Dash transaction: the standards-compatible portion as a
// wire.MsgTx plus the special transaction type and its extra payload.
type Tx struct {
	// Version is the low 16 bits of the version field.
	Version uint16

	// Type is the special transaction type from the high 16 bits of the
	// version field. Zero for classical transactions.
	Type uint16

	// MsgTx is the standards-compatible view. Its Version holds only
	// the low 16 bits.
	MsgTx *wire.MsgTx

	// ExtraPayload is the special transaction payload trailing the lock
	// time; present exactly when Type is non-zero.
	ExtraPayload []byte
}

// Decode parses Dash raw transaction bytes.
func Decode(raw []byte) (*Tx, error) {
	r := bytes.NewReader(raw)

	var header uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: reading version: %v", ErrNotDash,
			err)
	}

	tx := &Tx{
		Version: uint16(header & 0xffff),
		Type:    uint16(header >> 16),
	}

	msgTx := wire.NewMsgTx(int32(tx.Version))
	if err := readTxBody(r, msgTx); err != nil {
		return nil, err
	}
	tx.MsgTx = msgTx

	if tx.Type != 0 {
		payload, err := wire.ReadVarBytes(
			r, 0, maxExtraPayloadLen, "extra payload",
		)
		if err != nil {
			return nil, fmt.Errorf("%w: reading extra payload: %v",
				ErrNotDash, err)
		}
		tx.ExtraPayload = payload
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrNotDash,
			r.Len())
	}

	return tx, nil
}

// readTxBody reads the standard inputs, outputs and lock time.
func readTxBody(r io.Reader, msgTx *wire.MsgTx) error {
	inputCount, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return fmt.Errorf("%w: reading input count: %v", ErrNotDash,
			err)
	}
	for i := uint64(0); i < inputCount; i++ {
		txIn := &wire.TxIn{}
		if _, err := io.ReadFull(
			r, txIn.PreviousOutPoint.Hash[:],
		); err != nil {
			return fmt.Errorf("%w: input %d outpoint: %v",
				ErrNotDash, i, err)
		}
		if err := binary.Read(
			r, binary.LittleEndian, &txIn.PreviousOutPoint.Index,
		); err != nil {
			return fmt.Errorf("%w: input %d index: %v", ErrNotDash,
				i, err)
		}

		txIn.SignatureScript, err = wire.ReadVarBytes(
			r, 0, maxScriptLen, "signature script",
		)
		if err != nil {
			return fmt.Errorf("%w: input %d script: %v", ErrNotDash,
				i, err)
		}

		if err := binary.Read(
			r, binary.LittleEndian, &txIn.Sequence,
		); err != nil {
			return fmt.Errorf("%w: input %d sequence: %v",
				ErrNotDash, i, err)
		}
		msgTx.AddTxIn(txIn)
	}

	outputCount, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return fmt.Errorf("%w: reading output count: %v", ErrNotDash,
			err)
	}
	for i := uint64(0); i < outputCount; i++ {
		txOut := &wire.TxOut{}
		if err := binary.Read(
			r, binary.LittleEndian, &txOut.Value,
		); err != nil {
			return fmt.Errorf("%w: output %d value: %v", ErrNotDash,
				i, err)
		}

		txOut.PkScript, err = wire.ReadVarBytes(
			r, 0, maxScriptLen, "pk script",
		)
		if err != nil {
			return fmt.Errorf("%w: output %d script: %v",
				ErrNotDash, i, err)
		}
		msgTx.AddTxOut(txOut)
	}

	if err := binary.Read(
		r, binary.LittleEndian, &msgTx.LockTime,
	); err != nil {
		return fmt.Errorf("%w: reading lock time: %v", ErrNotDash, err)
	}

	return nil
}

// Encode serializes the transaction back into Dash raw bytes. For a
// decoded transaction this reproduces the input exactly.
func (tx *Tx) Encode() ([]byte, error) {
	var buf bytes.Buffer

	header := uint32(tx.Version) | uint32(tx.Type)<<16
	if err := binary.Write(&buf, binary.LittleEndian, header); err != nil {
		return nil, err
	}

	if err := writeTxBody(&buf, tx.MsgTx); err != nil {
		return nil, err
	}

	if tx.Type != 0 {
		err := wire.WriteVarBytes(&buf, 0, tx.ExtraPayload)
		if err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// writeTxBody writes the standard inputs, outputs and lock time.
func writeTxBody(w io.Writer, msgTx *wire.MsgTx) error {
	if err := wire.WriteVarInt(w, 0, uint64(len(msgTx.TxIn))); err != nil {
		return err
	}
	for _, txIn := range msgTx.TxIn {
		if _, err := w.Write(txIn.PreviousOutPoint.Hash[:]); err != nil {
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

// TxID returns the transaction id: the double SHA256 of the raw Dash
// encoding.
func (tx *Tx) TxID() (chainhash.Hash, error) {
	raw, err := tx.Encode()
	if err != nil {
		return chainhash.Hash{}, err
	}
	return chainhash.DoubleHashH(raw), nil
}

// NewClassical builds a classical (type zero) Dash transaction around a
// standards-compatible unsigned transaction.
func NewClassical(msgTx *wire.MsgTx) *Tx {
	return &Tx{
		Version: uint16(msgTx.Version),
		MsgTx:   msgTx,
	}
}
