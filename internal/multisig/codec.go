package multisig

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/go-faster/errors"

	"multisig-console/internal/solana"
)

// Codec decodes program accounts and describes how to find them. The byte
// layout belongs to the on-chain program; SquadsCodec is the default.
type Codec interface {
	DecodeMultisig(data []byte) (*Multisig, error)
	DecodeProposal(data []byte) (*Proposal, error)
	DecodeVaultTransaction(data []byte) (*VaultTransaction, error)
	DecodeConfigTransaction(data []byte) (*ConfigTransaction, error)
	// DecodeTransactionCreator reads the creator of a vault or config
	// transaction record.
	DecodeTransactionCreator(data []byte) (solana.PublicKey, error)

	// MultisigFilters selects multisig accounts created with creator.
	MultisigFilters(creator solana.PublicKey) []solana.Filter
	// ProposalFilters selects proposal accounts of a multisig.
	ProposalFilters(multisig solana.PublicKey) []solana.Filter
}

// ErrDiscriminator is returned when account data does not start with the
// expected account discriminator.
var ErrDiscriminator = errors.New("account discriminator mismatch")

// AccountDiscriminator returns the 8 byte prefix the program writes in front
// of an account of the given type.
func AccountDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

var (
	multisigDiscriminator          = AccountDiscriminator("Multisig")
	proposalDiscriminator          = AccountDiscriminator("Proposal")
	vaultTransactionDiscriminator  = AccountDiscriminator("VaultTransaction")
	configTransactionDiscriminator = AccountDiscriminator("ConfigTransaction")
)

// Field offsets used by the program account filters.
const (
	discriminatorSize = 8
	createKeyOffset   = discriminatorSize
	proposalMsOffset  = discriminatorSize
	txCreatorOffset   = discriminatorSize + solana.PublicKeySize
)

// Proposal status tags as written on chain.
const (
	tagDraft uint8 = iota
	tagActive
	tagRejected
	tagApproved
	tagExecuting
	tagExecuted
	tagCancelled
)

// SquadsCodec implements Codec for the v4 account layouts. Proposal accounts
// do not store their creator; it lives in the transaction record.
type SquadsCodec struct{}

// MultisigFilters implements Codec.
func (SquadsCodec) MultisigFilters(creator solana.PublicKey) []solana.Filter {
	return []solana.Filter{
		solana.Memcmp(0, multisigDiscriminator[:]),
		solana.Memcmp(createKeyOffset, creator.Bytes()),
	}
}

// ProposalFilters implements Codec.
func (SquadsCodec) ProposalFilters(multisig solana.PublicKey) []solana.Filter {
	return []solana.Filter{
		solana.Memcmp(0, proposalDiscriminator[:]),
		solana.Memcmp(proposalMsOffset, multisig.Bytes()),
	}
}

// DecodeMultisig implements Codec.
func (SquadsCodec) DecodeMultisig(data []byte) (*Multisig, error) {
	d, err := newDecoder(data, multisigDiscriminator)
	if err != nil {
		return nil, err
	}
	m := &Multisig{
		CreateKey:             d.pubkey(),
		ConfigAuthority:       d.pubkey(),
		Threshold:             d.u16(),
		TimeLock:              d.u32(),
		TransactionIndex:      d.u64(),
		StaleTransactionIndex: d.u64(),
	}
	if d.bool() {
		rc := d.pubkey()
		m.RentCollector = &rc
	}
	m.Bump = d.u8()
	n := d.vecLen(solana.PublicKeySize + 1)
	for i := 0; i < n && d.err == nil; i++ {
		m.Members = append(m.Members, Member{Key: d.pubkey(), Permissions: d.u8()})
	}
	if d.err != nil {
		return nil, errors.Wrap(d.err, "multisig")
	}
	return m, nil
}

// DecodeProposal implements Codec. Draft maps to Active and Executing to
// Approved.
func (SquadsCodec) DecodeProposal(data []byte) (*Proposal, error) {
	d, err := newDecoder(data, proposalDiscriminator)
	if err != nil {
		return nil, err
	}
	p := &Proposal{
		MultisigAddress:  d.pubkey(),
		TransactionIndex: d.u64(),
	}
	tag := d.u8()
	if tag != tagExecuting {
		p.StatusTimestamp = d.i64()
	}
	switch tag {
	case tagDraft, tagActive:
		p.SetStatus(StatusActive)
	case tagApproved, tagExecuting:
		p.SetStatus(StatusApproved)
	case tagRejected:
		p.SetStatus(StatusRejected)
	case tagExecuted:
		p.SetStatus(StatusExecuted)
	case tagCancelled:
		p.SetStatus(StatusCancelled)
	default:
		if d.err == nil {
			return nil, fmt.Errorf("proposal: unknown status tag %d", tag)
		}
	}
	p.Bump = d.u8()
	p.Approvals = d.pubkeys()
	p.Rejections = d.pubkeys()
	p.Cancellations = d.pubkeys()
	if d.err != nil {
		return nil, errors.Wrap(d.err, "proposal")
	}
	return p, nil
}

// DecodeVaultTransaction implements Codec.
func (SquadsCodec) DecodeVaultTransaction(data []byte) (*VaultTransaction, error) {
	d, err := newDecoder(data, vaultTransactionDiscriminator)
	if err != nil {
		return nil, err
	}
	t := &VaultTransaction{
		MultisigAddress: d.pubkey(),
		Creator:         d.pubkey(),
		Index:           d.u64(),
		Bump:            d.u8(),
		VaultIndex:      d.u8(),
		VaultBump:       d.u8(),
	}
	t.EphemeralSignerBumps = d.bytes()
	t.Message = d.rest()
	if d.err != nil {
		return nil, errors.Wrap(d.err, "vault transaction")
	}
	return t, nil
}

// DecodeConfigTransaction implements Codec.
func (SquadsCodec) DecodeConfigTransaction(data []byte) (*ConfigTransaction, error) {
	d, err := newDecoder(data, configTransactionDiscriminator)
	if err != nil {
		return nil, err
	}
	t := &ConfigTransaction{
		MultisigAddress: d.pubkey(),
		Creator:         d.pubkey(),
		Index:           d.u64(),
		Bump:            d.u8(),
	}
	t.Actions = d.rest()
	if d.err != nil {
		return nil, errors.Wrap(d.err, "config transaction")
	}
	return t, nil
}

// DecodeTransactionCreator implements Codec.
func (SquadsCodec) DecodeTransactionCreator(data []byte) (solana.PublicKey, error) {
	if len(data) < txCreatorOffset+solana.PublicKeySize {
		return solana.PublicKey{}, errShortData
	}
	disc := data[:discriminatorSize]
	if !bytes.Equal(disc, vaultTransactionDiscriminator[:]) && !bytes.Equal(disc, configTransactionDiscriminator[:]) {
		return solana.PublicKey{}, ErrDiscriminator
	}
	var creator solana.PublicKey
	copy(creator[:], data[txCreatorOffset:])
	return creator, nil
}

// EncodeMultisig writes m in the layout DecodeMultisig reads.
func (SquadsCodec) EncodeMultisig(m *Multisig) []byte {
	e := newEncoder(multisigDiscriminator)
	e.pubkey(m.CreateKey)
	e.pubkey(m.ConfigAuthority)
	e.u16(m.Threshold)
	e.u32(m.TimeLock)
	e.u64(m.TransactionIndex)
	e.u64(m.StaleTransactionIndex)
	if m.RentCollector != nil {
		e.u8(1)
		e.pubkey(*m.RentCollector)
	} else {
		e.u8(0)
	}
	e.u8(m.Bump)
	e.u32(uint32(len(m.Members)))
	for _, mem := range m.Members {
		e.pubkey(mem.Key)
		e.u8(mem.Permissions)
	}
	return e.buf.Bytes()
}

// EncodeProposal writes p in the layout DecodeProposal reads.
func (SquadsCodec) EncodeProposal(p *Proposal) []byte {
	e := newEncoder(proposalDiscriminator)
	e.pubkey(p.MultisigAddress)
	e.u64(p.TransactionIndex)
	switch p.Status {
	case StatusApproved:
		e.u8(tagApproved)
	case StatusRejected:
		e.u8(tagRejected)
	case StatusExecuted:
		e.u8(tagExecuted)
	case StatusCancelled:
		e.u8(tagCancelled)
	default:
		e.u8(tagActive)
	}
	e.u64(uint64(p.StatusTimestamp))
	e.u8(p.Bump)
	e.pubkeys(p.Approvals)
	e.pubkeys(p.Rejections)
	e.pubkeys(p.Cancellations)
	return e.buf.Bytes()
}

// EncodeVaultTransaction writes t in the layout DecodeVaultTransaction reads.
func (SquadsCodec) EncodeVaultTransaction(t *VaultTransaction) []byte {
	e := newEncoder(vaultTransactionDiscriminator)
	e.pubkey(t.MultisigAddress)
	e.pubkey(t.Creator)
	e.u64(t.Index)
	e.u8(t.Bump)
	e.u8(t.VaultIndex)
	e.u8(t.VaultBump)
	e.u32(uint32(len(t.EphemeralSignerBumps)))
	e.buf.Write(t.EphemeralSignerBumps)
	e.buf.Write(t.Message)
	return e.buf.Bytes()
}

// EncodeConfigTransaction writes t in the layout DecodeConfigTransaction reads.
func (SquadsCodec) EncodeConfigTransaction(t *ConfigTransaction) []byte {
	e := newEncoder(configTransactionDiscriminator)
	e.pubkey(t.MultisigAddress)
	e.pubkey(t.Creator)
	e.u64(t.Index)
	e.u8(t.Bump)
	e.buf.Write(t.Actions)
	return e.buf.Bytes()
}

var errShortData = errors.New("account data too short")

// decoder reads little-endian fields. The first failure sticks in err and
// later reads return zero values.
type decoder struct {
	buf []byte
	off int
	err error
}

func newDecoder(data []byte, disc [8]byte) (*decoder, error) {
	if len(data) < discriminatorSize {
		return nil, errShortData
	}
	if !bytes.Equal(data[:discriminatorSize], disc[:]) {
		return nil, ErrDiscriminator
	}
	return &decoder{buf: data, off: discriminatorSize}, nil
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.off+n > len(d.buf) {
		d.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", errShortData, n, d.off, len(d.buf))
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8() uint8 {
	if b := d.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) bool() bool { return d.u8() != 0 }

func (d *decoder) u16() uint16 {
	if b := d.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (d *decoder) u32() uint32 {
	if b := d.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) u64() uint64 {
	if b := d.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (d *decoder) i64() int64 { return int64(d.u64()) }

func (d *decoder) pubkey() solana.PublicKey {
	var pk solana.PublicKey
	if b := d.take(solana.PublicKeySize); b != nil {
		copy(pk[:], b)
	}
	return pk
}

// vecLen reads a u32 length and checks that elemSize*len bytes remain.
func (d *decoder) vecLen(elemSize int) int {
	n := int(d.u32())
	if d.err == nil && n*elemSize > len(d.buf)-d.off {
		d.err = fmt.Errorf("%w: vector of %d elements overruns data", errShortData, n)
		return 0
	}
	return n
}

func (d *decoder) pubkeys() []solana.PublicKey {
	n := d.vecLen(solana.PublicKeySize)
	out := make([]solana.PublicKey, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		out = append(out, d.pubkey())
	}
	return out
}

func (d *decoder) bytes() []byte {
	n := d.vecLen(1)
	return append([]byte(nil), d.take(n)...)
}

func (d *decoder) rest() []byte {
	if d.err != nil {
		return nil
	}
	return append([]byte(nil), d.take(len(d.buf)-d.off)...)
}

type encoder struct {
	buf bytes.Buffer
}

func newEncoder(disc [8]byte) *encoder {
	e := &encoder{}
	e.buf.Write(disc[:])
	return e
}

func (e *encoder) u8(v uint8) { e.buf.WriteByte(v) }

func (e *encoder) u16(v uint16) {
	e.buf.Write(binary.LittleEndian.AppendUint16(nil, v))
}

func (e *encoder) u32(v uint32) {
	e.buf.Write(binary.LittleEndian.AppendUint32(nil, v))
}

func (e *encoder) u64(v uint64) {
	e.buf.Write(binary.LittleEndian.AppendUint64(nil, v))
}

func (e *encoder) pubkey(pk solana.PublicKey) { e.buf.Write(pk[:]) }

func (e *encoder) pubkeys(keys []solana.PublicKey) {
	e.u32(uint32(len(keys)))
	for _, k := range keys {
		e.pubkey(k)
	}
}

// Compile-time interface check.
var _ Codec = SquadsCodec{}
