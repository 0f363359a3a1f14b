// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletpsbt

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/wire"
)

// The standard PSBT library cannot decode the Dash or Zcash transaction wire
// formats, so packets on those networks are spliced at the raw keypair level:
// the outer PSBT is parsed opaquely, the global unsigned-tx value and every
// per-input non_witness_utxo value are re-coded through the network codec,
// and the original bytes are re-synthesized on serialization.

var (
	// ErrPsbtMagic is returned when the container does not start with the
	// PSBT magic bytes.
	ErrPsbtMagic = errors.New("missing psbt magic")

	// ErrPsbtStructure is returned when the keypair map structure of a
	// container is malformed.
	ErrPsbtStructure = errors.New("malformed psbt structure")
)

// psbtMagic is the five-byte container prefix.
var psbtMagic = []byte{0x70, 0x73, 0x62, 0x74, 0xff}

// Keypair types spliced by the raw layer.
const (
	rawKeyUnsignedTx     = 0x00 // global map
	rawKeyNonWitnessUtxo = 0x00 // input maps
)

// rawKeyPair is one key/value entry of a keypair map, held verbatim.
type rawKeyPair struct {
	key   []byte
	value []byte
}

// rawMap is one keypair map. Entry order is preserved so splicing does not
// reorder a counterparty's container.
type rawMap []rawKeyPair

// lookup returns the index of the entry with a single-byte key of the given
// type, or -1.
func (m rawMap) lookup(keyType byte) int {
	for i, pair := range m {
		if len(pair.key) == 1 && pair.key[0] == keyType {
			return i
		}
	}
	return -1
}

// rawPacket is an opaquely parsed PSBT: the global map followed by the
// per-input and per-output maps in wire order. The input/output split is
// derived from the decoded unsigned transaction by the caller.
type rawPacket struct {
	global rawMap
	maps   []rawMap
}

// parseRawPacket parses the keypair-level structure of a PSBT without
// interpreting any value.
func parseRawPacket(raw []byte) (*rawPacket, error) {
	if !bytes.HasPrefix(raw, psbtMagic) {
		return nil, ErrPsbtMagic
	}
	r := bytes.NewReader(raw[len(psbtMagic):])

	packet := &rawPacket{}
	global, err := parseRawMap(r)
	if err != nil {
		return nil, err
	}
	packet.global = global

	for r.Len() > 0 {
		m, err := parseRawMap(r)
		if err != nil {
			return nil, err
		}
		packet.maps = append(packet.maps, m)
	}

	return packet, nil
}

// parseRawMap reads keypairs up to and including the zero-length-key
// terminator.
func parseRawMap(r *bytes.Reader) (rawMap, error) {
	var m rawMap
	for {
		keyLen, err := wire.ReadVarInt(r, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: reading key length: %v",
				ErrPsbtStructure, err)
		}
		if keyLen == 0 {
			return m, nil
		}

		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("%w: reading key: %v",
				ErrPsbtStructure, err)
		}

		valueLen, err := wire.ReadVarInt(r, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: reading value length: %v",
				ErrPsbtStructure, err)
		}
		value := make([]byte, valueLen)
		if _, err := io.ReadFull(r, value); err != nil {
			return nil, fmt.Errorf("%w: reading value: %v",
				ErrPsbtStructure, err)
		}

		m = append(m, rawKeyPair{key: key, value: value})
	}
}

// encode re-serializes the container byte-exactly apart from any values the
// caller replaced.
func (p *rawPacket) encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(psbtMagic)

	if err := writeRawMap(&buf, p.global); err != nil {
		return nil, err
	}
	for _, m := range p.maps {
		if err := writeRawMap(&buf, m); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// writeRawMap writes one keypair map with its terminator.
func writeRawMap(w *bytes.Buffer, m rawMap) error {
	for _, pair := range m {
		if err := wire.WriteVarBytes(w, 0, pair.key); err != nil {
			return err
		}
		if err := wire.WriteVarBytes(w, 0, pair.value); err != nil {
			return err
		}
	}
	return w.WriteByte(0x00)
}

// replaceValue swaps the value of the single-byte-keyed entry, if present.
func (m rawMap) replaceValue(keyType byte, value []byte) {
	if i := m.lookup(keyType); i >= 0 {
		m[i].value = value
	}
}
