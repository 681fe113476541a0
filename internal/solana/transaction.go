package solana

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"
)

// Encoding identifies the wire encoding of a transaction.
type Encoding int

const (
	EncodingLegacy Encoding = iota
	EncodingVersioned
)

func (e Encoding) String() string {
	switch e {
	case EncodingLegacy:
		return "legacy"
	case EncodingVersioned:
		return "v0"
	default:
		return fmt.Sprintf("encoding(%d)", int(e))
	}
}

const versionPrefixMask = 0x80

// Transaction is either a *LegacyTransaction or a *VersionedTransaction.
// Callers switch on the concrete type; no other implementations exist.
type Transaction interface {
	Encoding() Encoding
	// MessageBytes returns the serialized message that signers sign.
	MessageBytes() ([]byte, error)
	// Serialize returns the full wire transaction.
	Serialize() ([]byte, error)
	// FirstSignature returns the fee payer signature, zero if unsigned.
	FirstSignature() Signature

	sealed()
}

// ErrFeePayerRequired is returned when compiling a legacy transaction without a fee payer.
var ErrFeePayerRequired = errors.New("transaction fee payer required")

// AccountMeta describes an account referenced by an instruction.
type AccountMeta struct {
	PublicKey  PublicKey
	IsSigner   bool
	IsWritable bool
}

// Instruction is an uncompiled instruction.
type Instruction struct {
	ProgramID PublicKey
	Accounts  []AccountMeta
	Data      []byte
}

// CompiledInstruction references accounts by index into the message account keys.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

// MessageHeader counts signer and read-only accounts.
type MessageHeader struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

// SignaturePair binds an optional signature to its signer key.
type SignaturePair struct {
	PublicKey PublicKey
	Signature *Signature
}

// LegacyTransaction is the mutable legacy transaction shape.
type LegacyTransaction struct {
	FeePayer             *PublicKey
	RecentBlockhash      Hash
	LastValidBlockHeight uint64
	Instructions         []Instruction
	Signatures           []SignaturePair
}

// NewLegacyTransaction builds an unsigned legacy transaction.
func NewLegacyTransaction(feePayer *PublicKey, instructions ...Instruction) *LegacyTransaction {
	return &LegacyTransaction{FeePayer: feePayer, Instructions: instructions}
}

func (*LegacyTransaction) sealed() {}

// Encoding implements Transaction.
func (*LegacyTransaction) Encoding() Encoding { return EncodingLegacy }

// Message is a compiled legacy message.
type Message struct {
	Header          MessageHeader
	AccountKeys     []PublicKey
	RecentBlockhash Hash
	Instructions    []CompiledInstruction
}

// CompileMessage orders the accounts (fee payer first, then signers, writable
// before read-only) and compiles instructions against that order.
func (tx *LegacyTransaction) CompileMessage() (Message, error) {
	if tx.FeePayer == nil {
		return Message{}, ErrFeePayerRequired
	}

	type entry struct {
		key      PublicKey
		signer   bool
		writable bool
		order    int
	}
	index := make(map[PublicKey]*entry)
	var entries []*entry
	add := func(key PublicKey, signer, writable bool) {
		if e, ok := index[key]; ok {
			e.signer = e.signer || signer
			e.writable = e.writable || writable
			return
		}
		e := &entry{key: key, signer: signer, writable: writable, order: len(entries)}
		index[key] = e
		entries = append(entries, e)
	}

	add(*tx.FeePayer, true, true)
	for _, ix := range tx.Instructions {
		for _, meta := range ix.Accounts {
			add(meta.PublicKey, meta.IsSigner, meta.IsWritable)
		}
	}
	for _, ix := range tx.Instructions {
		add(ix.ProgramID, false, false)
	}

	sort.SliceStable(entries[1:], func(i, j int) bool {
		a, b := entries[1+i], entries[1+j]
		if a.signer != b.signer {
			return a.signer
		}
		if a.writable != b.writable {
			return a.writable
		}
		return a.order < b.order
	})

	if len(entries) > 256 {
		return Message{}, fmt.Errorf("too many accounts: %d", len(entries))
	}

	msg := Message{RecentBlockhash: tx.RecentBlockhash}
	positions := make(map[PublicKey]uint8, len(entries))
	for i, e := range entries {
		positions[e.key] = uint8(i)
		msg.AccountKeys = append(msg.AccountKeys, e.key)
		switch {
		case e.signer:
			msg.Header.NumRequiredSignatures++
			if !e.writable {
				msg.Header.NumReadonlySignedAccounts++
			}
		case !e.writable:
			msg.Header.NumReadonlyUnsignedAccounts++
		}
	}

	for _, ix := range tx.Instructions {
		compiled := CompiledInstruction{
			ProgramIDIndex: positions[ix.ProgramID],
			Data:           append([]byte(nil), ix.Data...),
		}
		for _, meta := range ix.Accounts {
			compiled.Accounts = append(compiled.Accounts, positions[meta.PublicKey])
		}
		msg.Instructions = append(msg.Instructions, compiled)
	}

	return msg, nil
}

// MessageBytes implements Transaction.
func (tx *LegacyTransaction) MessageBytes() ([]byte, error) {
	msg, err := tx.CompileMessage()
	if err != nil {
		return nil, err
	}
	return msg.MarshalBinary()
}

// AddSignature records sig for pubkey, adding a slot if none exists.
func (tx *LegacyTransaction) AddSignature(pubkey PublicKey, sig Signature) {
	s := sig
	for i := range tx.Signatures {
		if tx.Signatures[i].PublicKey == pubkey {
			tx.Signatures[i].Signature = &s
			return
		}
	}
	tx.Signatures = append(tx.Signatures, SignaturePair{PublicKey: pubkey, Signature: &s})
}

// FirstSignature implements Transaction.
func (tx *LegacyTransaction) FirstSignature() Signature {
	if tx.FeePayer != nil {
		for _, pair := range tx.Signatures {
			if pair.PublicKey == *tx.FeePayer && pair.Signature != nil {
				return *pair.Signature
			}
		}
		return Signature{}
	}
	if len(tx.Signatures) > 0 && tx.Signatures[0].Signature != nil {
		return *tx.Signatures[0].Signature
	}
	return Signature{}
}

// Serialize implements Transaction. Missing signatures are encoded as zero slots.
func (tx *LegacyTransaction) Serialize() ([]byte, error) {
	msg, err := tx.CompileMessage()
	if err != nil {
		return nil, err
	}
	msgBytes, err := msg.MarshalBinary()
	if err != nil {
		return nil, err
	}

	sigs := make([]Signature, msg.Header.NumRequiredSignatures)
	for i := range sigs {
		key := msg.AccountKeys[i]
		for _, pair := range tx.Signatures {
			if pair.PublicKey == key && pair.Signature != nil {
				sigs[i] = *pair.Signature
			}
		}
	}
	return encodeTransaction(sigs, msgBytes), nil
}

// MarshalBinary serializes the legacy message.
func (m Message) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	writeMessageBody(&buf, m.Header, m.AccountKeys, m.RecentBlockhash, m.Instructions)
	return buf.Bytes(), nil
}

// IsWritable reports whether the account at index i is writable.
func (m Message) IsWritable(i int) bool {
	return isWritable(m.Header, len(m.AccountKeys), i)
}

// AddressTableLookup references accounts stored in an address lookup table.
type AddressTableLookup struct {
	AccountKey      PublicKey
	WritableIndexes []uint8
	ReadonlyIndexes []uint8
}

// MessageV0 is a versioned message. It is treated as an immutable value;
// use WithRecentBlockhash to obtain a copy with a different blockhash.
type MessageV0 struct {
	Header              MessageHeader
	StaticAccountKeys   []PublicKey
	RecentBlockhash     Hash
	Instructions        []CompiledInstruction
	AddressTableLookups []AddressTableLookup
}

// WithRecentBlockhash returns a deep copy of m with only the blockhash replaced.
func (m MessageV0) WithRecentBlockhash(h Hash) MessageV0 {
	out := MessageV0{
		Header:            m.Header,
		StaticAccountKeys: append([]PublicKey(nil), m.StaticAccountKeys...),
		RecentBlockhash:   h,
	}
	for _, ix := range m.Instructions {
		out.Instructions = append(out.Instructions, CompiledInstruction{
			ProgramIDIndex: ix.ProgramIDIndex,
			Accounts:       append([]uint8(nil), ix.Accounts...),
			Data:           append([]byte(nil), ix.Data...),
		})
	}
	for _, l := range m.AddressTableLookups {
		out.AddressTableLookups = append(out.AddressTableLookups, AddressTableLookup{
			AccountKey:      l.AccountKey,
			WritableIndexes: append([]uint8(nil), l.WritableIndexes...),
			ReadonlyIndexes: append([]uint8(nil), l.ReadonlyIndexes...),
		})
	}
	return out
}

// FeePayer returns the first static account key.
func (m MessageV0) FeePayer() (PublicKey, error) {
	if len(m.StaticAccountKeys) == 0 {
		return PublicKey{}, fmt.Errorf("message has no static account keys")
	}
	return m.StaticAccountKeys[0], nil
}

// MarshalBinary serializes the message with its version prefix.
func (m MessageV0) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(versionPrefixMask | 0)
	writeMessageBody(&buf, m.Header, m.StaticAccountKeys, m.RecentBlockhash, m.Instructions)
	writeCompactU16(&buf, len(m.AddressTableLookups))
	for _, l := range m.AddressTableLookups {
		buf.Write(l.AccountKey[:])
		writeCompactU16(&buf, len(l.WritableIndexes))
		buf.Write(l.WritableIndexes)
		writeCompactU16(&buf, len(l.ReadonlyIndexes))
		buf.Write(l.ReadonlyIndexes)
	}
	return buf.Bytes(), nil
}

// VersionedTransaction pairs a versioned message with its signature slots.
type VersionedTransaction struct {
	Message    MessageV0
	Signatures []Signature
}

// NewVersionedTransaction wraps msg with one empty slot per required signer.
func NewVersionedTransaction(msg MessageV0) *VersionedTransaction {
	return &VersionedTransaction{
		Message:    msg,
		Signatures: make([]Signature, msg.Header.NumRequiredSignatures),
	}
}

func (*VersionedTransaction) sealed() {}

// Encoding implements Transaction.
func (*VersionedTransaction) Encoding() Encoding { return EncodingVersioned }

// MessageBytes implements Transaction.
func (tx *VersionedTransaction) MessageBytes() ([]byte, error) {
	return tx.Message.MarshalBinary()
}

// Serialize implements Transaction.
func (tx *VersionedTransaction) Serialize() ([]byte, error) {
	msgBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return encodeTransaction(tx.Signatures, msgBytes), nil
}

// FirstSignature implements Transaction.
func (tx *VersionedTransaction) FirstSignature() Signature {
	if len(tx.Signatures) == 0 {
		return Signature{}
	}
	return tx.Signatures[0]
}

// SetSignature places sig in the slot of the given static signer key.
func (tx *VersionedTransaction) SetSignature(pubkey PublicKey, sig Signature) error {
	n := int(tx.Message.Header.NumRequiredSignatures)
	for i := 0; i < n && i < len(tx.Message.StaticAccountKeys); i++ {
		if tx.Message.StaticAccountKeys[i] == pubkey {
			for len(tx.Signatures) < n {
				tx.Signatures = append(tx.Signatures, Signature{})
			}
			tx.Signatures[i] = sig
			return nil
		}
	}
	return fmt.Errorf("%s is not a required signer", pubkey)
}

// DecodeTransaction parses a wire transaction of either encoding.
func DecodeTransaction(data []byte) (Transaction, error) {
	r := &reader{buf: data}
	n, err := r.length(SignatureSize)
	if err != nil {
		return nil, fmt.Errorf("read signature count: %w", err)
	}
	sigs := make([]Signature, n)
	for i := range sigs {
		b, err := r.next(SignatureSize)
		if err != nil {
			return nil, fmt.Errorf("read signature %d: %w", i, err)
		}
		copy(sigs[i][:], b)
	}

	prefix, err := r.peek()
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	if prefix&versionPrefixMask != 0 {
		msg, err := decodeMessageV0(r)
		if err != nil {
			return nil, err
		}
		return &VersionedTransaction{Message: msg, Signatures: sigs}, nil
	}

	msg, err := decodeLegacyMessage(r)
	if err != nil {
		return nil, err
	}
	return populateLegacy(msg, sigs), nil
}

func populateLegacy(msg Message, sigs []Signature) *LegacyTransaction {
	tx := &LegacyTransaction{RecentBlockhash: msg.RecentBlockhash}
	if len(msg.AccountKeys) > 0 {
		payer := msg.AccountKeys[0]
		tx.FeePayer = &payer
	}
	for i := 0; i < int(msg.Header.NumRequiredSignatures) && i < len(msg.AccountKeys); i++ {
		pair := SignaturePair{PublicKey: msg.AccountKeys[i]}
		if i < len(sigs) && !sigs[i].IsZero() {
			s := sigs[i]
			pair.Signature = &s
		}
		tx.Signatures = append(tx.Signatures, pair)
	}
	for _, ci := range msg.Instructions {
		ix := Instruction{
			ProgramID: msg.AccountKeys[ci.ProgramIDIndex],
			Data:      ci.Data,
		}
		for _, idx := range ci.Accounts {
			ix.Accounts = append(ix.Accounts, AccountMeta{
				PublicKey:  msg.AccountKeys[idx],
				IsSigner:   int(idx) < int(msg.Header.NumRequiredSignatures),
				IsWritable: msg.IsWritable(int(idx)),
			})
		}
		tx.Instructions = append(tx.Instructions, ix)
	}
	return tx
}

func isWritable(h MessageHeader, numKeys, i int) bool {
	required := int(h.NumRequiredSignatures)
	if i < required {
		return i < required-int(h.NumReadonlySignedAccounts)
	}
	return i-required < numKeys-required-int(h.NumReadonlyUnsignedAccounts)
}

func encodeTransaction(sigs []Signature, msg []byte) []byte {
	var buf bytes.Buffer
	writeCompactU16(&buf, len(sigs))
	for _, s := range sigs {
		buf.Write(s[:])
	}
	buf.Write(msg)
	return buf.Bytes()
}

func writeMessageBody(buf *bytes.Buffer, h MessageHeader, keys []PublicKey, blockhash Hash, ixs []CompiledInstruction) {
	buf.WriteByte(h.NumRequiredSignatures)
	buf.WriteByte(h.NumReadonlySignedAccounts)
	buf.WriteByte(h.NumReadonlyUnsignedAccounts)
	writeCompactU16(buf, len(keys))
	for _, k := range keys {
		buf.Write(k[:])
	}
	buf.Write(blockhash[:])
	writeCompactU16(buf, len(ixs))
	for _, ix := range ixs {
		buf.WriteByte(ix.ProgramIDIndex)
		writeCompactU16(buf, len(ix.Accounts))
		buf.Write(ix.Accounts)
		writeCompactU16(buf, len(ix.Data))
		buf.Write(ix.Data)
	}
}

func decodeLegacyMessage(r *reader) (Message, error) {
	var m Message
	var err error
	if m.Header, m.AccountKeys, m.RecentBlockhash, m.Instructions, err = readMessageBody(r); err != nil {
		return m, err
	}
	for _, ix := range m.Instructions {
		if err := checkIndexes(ix, len(m.AccountKeys)); err != nil {
			return m, err
		}
	}
	return m, nil
}

func decodeMessageV0(r *reader) (MessageV0, error) {
	var m MessageV0
	prefix, err := r.byte()
	if err != nil {
		return m, err
	}
	if version := prefix &^ versionPrefixMask; version != 0 {
		return m, fmt.Errorf("unsupported message version %d", version)
	}
	if m.Header, m.StaticAccountKeys, m.RecentBlockhash, m.Instructions, err = readMessageBody(r); err != nil {
		return m, err
	}
	n, err := r.length(PublicKeySize + 2)
	if err != nil {
		return m, fmt.Errorf("read lookup count: %w", err)
	}
	for i := 0; i < n; i++ {
		var l AddressTableLookup
		key, err := r.next(PublicKeySize)
		if err != nil {
			return m, fmt.Errorf("read lookup key: %w", err)
		}
		copy(l.AccountKey[:], key)
		if l.WritableIndexes, err = r.compactBytes(); err != nil {
			return m, fmt.Errorf("read writable indexes: %w", err)
		}
		if l.ReadonlyIndexes, err = r.compactBytes(); err != nil {
			return m, fmt.Errorf("read readonly indexes: %w", err)
		}
		m.AddressTableLookups = append(m.AddressTableLookups, l)
	}
	return m, nil
}

func readMessageBody(r *reader) (MessageHeader, []PublicKey, Hash, []CompiledInstruction, error) {
	var h MessageHeader
	var blockhash Hash
	hdr, err := r.next(3)
	if err != nil {
		return h, nil, blockhash, nil, fmt.Errorf("read header: %w", err)
	}
	h = MessageHeader{hdr[0], hdr[1], hdr[2]}

	n, err := r.length(PublicKeySize)
	if err != nil {
		return h, nil, blockhash, nil, fmt.Errorf("read key count: %w", err)
	}
	keys := make([]PublicKey, n)
	for i := range keys {
		b, err := r.next(PublicKeySize)
		if err != nil {
			return h, nil, blockhash, nil, fmt.Errorf("read account key %d: %w", i, err)
		}
		copy(keys[i][:], b)
	}

	b, err := r.next(HashSize)
	if err != nil {
		return h, nil, blockhash, nil, fmt.Errorf("read blockhash: %w", err)
	}
	copy(blockhash[:], b)

	// An instruction takes at least a program index and two empty lengths.
	n, err = r.length(3)
	if err != nil {
		return h, nil, blockhash, nil, fmt.Errorf("read instruction count: %w", err)
	}
	ixs := make([]CompiledInstruction, n)
	for i := range ixs {
		if ixs[i].ProgramIDIndex, err = r.byte(); err != nil {
			return h, nil, blockhash, nil, fmt.Errorf("read program index: %w", err)
		}
		if ixs[i].Accounts, err = r.compactBytes(); err != nil {
			return h, nil, blockhash, nil, fmt.Errorf("read instruction accounts: %w", err)
		}
		if ixs[i].Data, err = r.compactBytes(); err != nil {
			return h, nil, blockhash, nil, fmt.Errorf("read instruction data: %w", err)
		}
	}
	return h, keys, blockhash, ixs, nil
}

func checkIndexes(ix CompiledInstruction, numKeys int) error {
	if int(ix.ProgramIDIndex) >= numKeys {
		return fmt.Errorf("program index %d out of range", ix.ProgramIDIndex)
	}
	for _, a := range ix.Accounts {
		if int(a) >= numKeys {
			return fmt.Errorf("account index %d out of range", a)
		}
	}
	return nil
}

func writeCompactU16(buf *bytes.Buffer, n int) {
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}

var errShortBuffer = errors.New("unexpected end of data")

type reader struct {
	buf []byte
	pos int
}

func (r *reader) next(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, errShortBuffer
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) byte() (byte, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) peek() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, errShortBuffer
	}
	return r.buf[r.pos], nil
}

var errCompactU16 = errors.New("compact-u16 overflow")

func (r *reader) compactU16() (int, error) {
	var v int
	for i := 0; i < 3; i++ {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		v |= int(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			if v > math.MaxUint16 {
				return 0, errCompactU16
			}
			return v, nil
		}
	}
	return 0, errCompactU16
}

// length reads a compact-u16 element count and checks that the remaining
// data can hold that many elements of at least elemSize bytes.
func (r *reader) length(elemSize int) (int, error) {
	n, err := r.compactU16()
	if err != nil {
		return 0, err
	}
	if n*elemSize > len(r.buf)-r.pos {
		return 0, errShortBuffer
	}
	return n, nil
}

func (r *reader) compactBytes() ([]byte, error) {
	n, err := r.compactU16()
	if err != nil {
		return nil, err
	}
	b, err := r.next(n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}
