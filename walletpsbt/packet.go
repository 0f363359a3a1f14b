// Copyright (c) 2025 The go-utxo developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package walletpsbt builds, signs, verifies and finalizes partially signed
// transactions for fixed-script 2-of-3 multisig wallets across a family of
// Bitcoin-derived networks. A Packet is tagged with its network at
// construction time; every operation dispatches on that tag, and the two
// networks with non-standard transaction encodings (Dash and Zcash) are
// handled by splicing their raw bytes through the network codecs so they can
// ride inside the standard container format.
package walletpsbt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/bitgo/go-utxo/dashtx"
	"github.com/bitgo/go-utxo/fixedscript"
	"github.com/bitgo/go-utxo/netpolicy"
	"github.com/bitgo/go-utxo/zcashtx"
)

// zcashExtensions holds the Zcash transaction fields the standard PSBT model
// cannot carry. The consensus branch id lives in a global proprietary key
// instead, so it travels with the serialized container.
type zcashExtensions struct {
	overwintered   bool
	versionGroupID uint32
	expiryHeight   uint32
	saplingExtra   []byte
}

// dashExtensions holds the Dash special-transaction type and payload.
type dashExtensions struct {
	txType       uint16
	extraPayload []byte
}

// Packet is a network-tagged partially signed transaction. The tag is fixed
// at construction and never changes; accessors for another network's fields
// return errors rather than panicking.
//
// A Packet is owned by one logical signing session at a time and is not safe
// for concurrent use; independent signers exchange serialized packets and
// merge state with CombineMuSig2Nonces.
type Packet struct {
	network netpolicy.Network
	policy  netpolicy.Policy
	keys    *fixedscript.RootWalletKeys

	inner *psbt.Packet

	zcash *zcashExtensions
	dash  *dashExtensions

	// prevTxRaw preserves the original network-format previous
	// transaction bytes per input index on special-format networks.
	prevTxRaw map[int][]byte

	// nonceMtx guards the secret nonce store.
	nonceMtx sync.Mutex
	nonces   map[nonceKey]musig2.Nonces
}

// New creates an empty packet for the given network. A version of zero
// selects the network's default transaction version. The wallet keys may be
// nil for packets that will only carry externally constructed inputs, in
// which case wallet operations return ErrNoWalletKeys.
func New(network netpolicy.Network, keys *fixedscript.RootWalletKeys,
	version int32, lockTime uint32) (*Packet, error) {

	policy, err := netpolicy.PolicyFor(network)
	if err != nil {
		return nil, err
	}

	p := &Packet{
		network: network,
		policy:  policy,
		keys:    keys,
	}

	switch {
	case policy.RequiresConsensusBranchID:
		if version == 0 {
			version = zcashtx.SaplingVersion
		}
		if version != zcashtx.SaplingVersion {
			return nil, fmt.Errorf("%w: zcash requires version %d",
				ErrUnsupportedTxVersion, zcashtx.SaplingVersion)
		}
		p.zcash = &zcashExtensions{
			overwintered:   true,
			versionGroupID: zcashtx.SaplingVersionGroupID,
		}

	case policy.SpecialTransaction:
		if version == 0 {
			version = 3
		}
		p.dash = &dashExtensions{}

	default:
		if version == 0 {
			version = 2
		}
	}
	if p.policy.SpecialTransaction {
		p.prevTxRaw = make(map[int][]byte)
	}

	msgTx := wire.NewMsgTx(version)
	msgTx.LockTime = lockTime

	p.inner, err = psbt.NewFromUnsignedTx(msgTx)
	if err != nil {
		return nil, err
	}

	log.Debugf("Created empty %v packet, tx version %d", network, version)
	return p, nil
}

// Deserialize parses a serialized packet for the given network, applying the
// byte-preservation transform first on networks with non-standard
// transaction formats. Proprietary keys in our namespace with unknown
// subtypes are rejected.
func Deserialize(raw []byte, network netpolicy.Network,
	keys *fixedscript.RootWalletKeys) (*Packet, error) {

	policy, err := netpolicy.PolicyFor(network)
	if err != nil {
		return nil, err
	}

	p := &Packet{
		network: network,
		policy:  policy,
		keys:    keys,
	}

	if policy.SpecialTransaction {
		raw, err = p.spliceToStandard(raw)
		if err != nil {
			return nil, err
		}
	}

	p.inner, err = psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err != nil {
		return nil, fmt.Errorf("parsing psbt: %w", err)
	}

	if err := checkProprietaryKeys(p.inner.Unknowns); err != nil {
		return nil, err
	}
	for i := range p.inner.Inputs {
		err := checkProprietaryKeys(p.inner.Inputs[i].Unknowns)
		if err != nil {
			return nil, &InputError{Index: i, Err: err}
		}
	}

	log.Debugf("Deserialized %v packet with %d inputs, %d outputs",
		network, len(p.inner.Inputs), len(p.inner.Outputs))
	return p, nil
}

// spliceToStandard rewrites the global unsigned transaction and every
// non_witness_utxo from the network wire format into the standard one,
// capturing the original bytes and the network-specific fields.
func (p *Packet) spliceToStandard(raw []byte) ([]byte, error) {
	rawPkt, err := parseRawPacket(raw)
	if err != nil {
		return nil, err
	}

	txIdx := rawPkt.global.lookup(rawKeyUnsignedTx)
	if txIdx < 0 {
		return nil, fmt.Errorf("%w: no unsigned transaction",
			ErrPsbtStructure)
	}

	var (
		msgTx      *wire.MsgTx
		inputCount int
	)
	if p.policy.RequiresConsensusBranchID {
		ztx, err := zcashtx.Decode(rawPkt.global[txIdx].value)
		if err != nil {
			return nil, err
		}
		p.zcash = &zcashExtensions{
			overwintered:   ztx.Overwintered,
			versionGroupID: ztx.VersionGroupID,
			expiryHeight:   ztx.ExpiryHeight,
			saplingExtra:   ztx.SaplingExtra,
		}
		msgTx = ztx.MsgTx
	} else {
		dtx, err := dashtx.Decode(rawPkt.global[txIdx].value)
		if err != nil {
			return nil, err
		}
		p.dash = &dashExtensions{
			txType:       dtx.Type,
			extraPayload: dtx.ExtraPayload,
		}
		msgTx = dtx.MsgTx
	}
	rawPkt.global[txIdx].value = serializeStdTx(msgTx)
	inputCount = len(msgTx.TxIn)

	if inputCount > len(rawPkt.maps) {
		return nil, fmt.Errorf("%w: %d inputs but %d maps",
			ErrPsbtStructure, inputCount, len(rawPkt.maps))
	}

	p.prevTxRaw = make(map[int][]byte)
	for i := 0; i < inputCount; i++ {
		inputMap := rawPkt.maps[i]
		utxoIdx := inputMap.lookup(rawKeyNonWitnessUtxo)
		if utxoIdx < 0 {
			continue
		}

		prevRaw := inputMap[utxoIdx].value
		prevStd, err := p.decodeNetworkTx(prevRaw)
		if err != nil {
			return nil, &InputError{Index: i, Err: err}
		}
		inputMap[utxoIdx].value = serializeStdTx(prevStd)
		p.prevTxRaw[i] = prevRaw
	}

	return rawPkt.encode()
}

// decodeNetworkTx decodes raw transaction bytes in the packet network's wire
// format into the standards-compatible view.
func (p *Packet) decodeNetworkTx(raw []byte) (*wire.MsgTx, error) {
	if p.policy.RequiresConsensusBranchID {
		ztx, err := zcashtx.Decode(raw)
		if err != nil {
			return nil, err
		}
		return ztx.MsgTx, nil
	}
	dtx, err := dashtx.Decode(raw)
	if err != nil {
		return nil, err
	}
	return dtx.MsgTx, nil
}

// Serialize returns the packet in its network wire form. On special-format
// networks the standard container is re-spliced so the unsigned transaction
// and every preserved previous transaction reappear byte for byte in their
// network encoding.
func (p *Packet) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := p.inner.Serialize(&buf); err != nil {
		return nil, err
	}
	if !p.policy.SpecialTransaction {
		return buf.Bytes(), nil
	}

	rawPkt, err := parseRawPacket(buf.Bytes())
	if err != nil {
		return nil, err
	}

	networkTx, err := p.networkUnsignedTxBytes()
	if err != nil {
		return nil, err
	}
	rawPkt.global.replaceValue(rawKeyUnsignedTx, networkTx)

	for i := range p.inner.Inputs {
		if p.inner.Inputs[i].NonWitnessUtxo == nil {
			continue
		}
		prevRaw, ok := p.prevTxRaw[i]
		if !ok {
			return nil, &InputError{
				Index: i, Err: ErrPrevTxRequired,
			}
		}
		rawPkt.maps[i].replaceValue(rawKeyNonWitnessUtxo, prevRaw)
	}

	return rawPkt.encode()
}

// networkUnsignedTxBytes renders the unsigned transaction in the network
// wire format from the standard view plus the preserved extension fields.
func (p *Packet) networkUnsignedTxBytes() ([]byte, error) {
	switch {
	case p.zcash != nil:
		ztx := &zcashtx.Tx{
			Version:        uint32(p.inner.UnsignedTx.Version),
			Overwintered:   p.zcash.overwintered,
			VersionGroupID: p.zcash.versionGroupID,
			ExpiryHeight:   p.zcash.expiryHeight,
			MsgTx:          p.inner.UnsignedTx,
			SaplingExtra:   p.zcash.saplingExtra,
		}
		if ztx.Overwintered && len(ztx.SaplingExtra) == 0 {
			sapling := zcashtx.NewSapling(
				p.inner.UnsignedTx, p.zcash.expiryHeight,
			)
			ztx.SaplingExtra = sapling.SaplingExtra
		}
		return ztx.Encode()

	case p.dash != nil:
		dtx := &dashtx.Tx{
			Version:      uint16(p.inner.UnsignedTx.Version),
			Type:         p.dash.txType,
			MsgTx:        p.inner.UnsignedTx,
			ExtraPayload: p.dash.extraPayload,
		}
		return dtx.Encode()

	default:
		return nil, fmt.Errorf("network %v has no special format",
			p.network)
	}
}

// serializeStdTx renders a transaction in the standard wire encoding.
func serializeStdTx(msgTx *wire.MsgTx) []byte {
	var buf bytes.Buffer
	// Writing to a bytes.Buffer cannot fail.
	_ = msgTx.Serialize(&buf)
	return buf.Bytes()
}

// Network returns the packet's network tag.
func (p *Packet) Network() netpolicy.Network {
	return p.network
}

// UnsignedTx returns the standards-compatible unsigned transaction.
func (p *Packet) UnsignedTx() *wire.MsgTx {
	return p.inner.UnsignedTx
}

// Psbt exposes the underlying standard PSBT. Mutating it directly bypasses
// the network-specific bookkeeping; callers should prefer the Packet
// operations.
func (p *Packet) Psbt() *psbt.Packet {
	return p.inner
}

// UnsignedTxID returns the transaction id of the unsigned transaction in its
// network encoding.
func (p *Packet) UnsignedTxID() (chainhash.Hash, error) {
	if !p.policy.SpecialTransaction {
		return p.inner.UnsignedTx.TxHash(), nil
	}

	raw, err := p.networkUnsignedTxBytes()
	if err != nil {
		return chainhash.Hash{}, err
	}
	return chainhash.DoubleHashH(raw), nil
}

// SetConsensusBranchID records the Zcash consensus branch id as a global
// proprietary key so it travels with the serialized container.
func (p *Packet) SetConsensusBranchID(branchID uint32) error {
	if p.zcash == nil {
		return ErrNotZcashPacket
	}

	value := make([]byte, 4)
	binary.LittleEndian.PutUint32(value, branchID)
	p.inner.Unknowns = setUnknown(
		p.inner.Unknowns, proprietaryKey(SubtypeConsensusBranchID, nil),
		value,
	)
	return nil
}

// ConsensusBranchID returns the recorded Zcash consensus branch id.
func (p *Packet) ConsensusBranchID() (uint32, error) {
	if p.zcash == nil {
		return 0, ErrNotZcashPacket
	}

	value := findUnknown(
		p.inner.Unknowns, proprietaryKey(SubtypeConsensusBranchID, nil),
	)
	if len(value) != 4 {
		return 0, ErrNoConsensusBranchID
	}
	return binary.LittleEndian.Uint32(value), nil
}

// SetZcashExpiryHeight sets the block height after which the unsigned
// transaction expires.
func (p *Packet) SetZcashExpiryHeight(height uint32) error {
	if p.zcash == nil {
		return ErrNotZcashPacket
	}
	p.zcash.expiryHeight = height
	return nil
}

// ZcashExpiryHeight returns the expiry height of the unsigned transaction.
func (p *Packet) ZcashExpiryHeight() (uint32, error) {
	if p.zcash == nil {
		return 0, ErrNotZcashPacket
	}
	return p.zcash.expiryHeight, nil
}

// SetDashExtraPayload sets the Dash special transaction type and its extra
// payload.
func (p *Packet) SetDashExtraPayload(txType uint16, payload []byte) error {
	if p.dash == nil {
		return ErrNotDashPacket
	}
	p.dash.txType = txType
	p.dash.extraPayload = payload
	return nil
}

// DashExtraPayload returns the Dash special transaction type and payload.
func (p *Packet) DashExtraPayload() (uint16, []byte, error) {
	if p.dash == nil {
		return 0, nil, ErrNotDashPacket
	}
	return p.dash.txType, p.dash.extraPayload, nil
}

// MarkMessageSigningRequest flags the packet as a message-signing request.
// Transaction parsing refuses flagged packets.
func (p *Packet) MarkMessageSigningRequest() {
	p.inner.Unknowns = setUnknown(
		p.inner.Unknowns,
		proprietaryKey(SubtypeMessageSigningRequest, nil), []byte{0x01},
	)
}

// IsMessageSigningRequest reports whether the packet carries the
// message-signing marker.
func (p *Packet) IsMessageSigningRequest() bool {
	value := findUnknown(
		p.inner.Unknowns,
		proprietaryKey(SubtypeMessageSigningRequest, nil),
	)
	return value != nil
}

// ExtractTransaction returns the fully signed transaction in the standard
// structure. All inputs must be finalized.
func (p *Packet) ExtractTransaction() (*wire.MsgTx, error) {
	return psbt.Extract(p.inner)
}

// Extract returns the fully signed transaction in its network wire format.
func (p *Packet) Extract() ([]byte, error) {
	finalTx, err := p.ExtractTransaction()
	if err != nil {
		return nil, err
	}

	switch {
	case p.zcash != nil:
		ztx := &zcashtx.Tx{
			Version:        uint32(finalTx.Version),
			Overwintered:   p.zcash.overwintered,
			VersionGroupID: p.zcash.versionGroupID,
			ExpiryHeight:   p.zcash.expiryHeight,
			MsgTx:          finalTx,
			SaplingExtra:   p.zcash.saplingExtra,
		}
		if ztx.Overwintered && len(ztx.SaplingExtra) == 0 {
			ztx.SaplingExtra = zcashtx.NewSapling(
				finalTx, p.zcash.expiryHeight,
			).SaplingExtra
		}
		return ztx.Encode()

	case p.dash != nil:
		dtx := &dashtx.Tx{
			Version:      uint16(finalTx.Version),
			Type:         p.dash.txType,
			MsgTx:        finalTx,
			ExtraPayload: p.dash.extraPayload,
		}
		return dtx.Encode()

	default:
		return serializeStdTx(finalTx), nil
	}
}
