package solana

import (
	"bytes"
	"runtime"
	"testing"
)

func TestLegacyTransaction_CompileOrdering(t *testing.T) {
	payer := PublicKey{1}
	signer := PublicKey{2}
	writable := PublicKey{3}
	readonly := PublicKey{4}
	program := PublicKey{5}

	tx := NewLegacyTransaction(&payer, Instruction{
		ProgramID: program,
		Accounts: []AccountMeta{
			{PublicKey: readonly},
			{PublicKey: writable, IsWritable: true},
			{PublicKey: signer, IsSigner: true},
		},
		Data: []byte{9},
	})
	tx.RecentBlockhash = Hash{7}

	msg, err := tx.CompileMessage()
	if err != nil {
		t.Fatalf("CompileMessage: %v", err)
	}

	want := []PublicKey{payer, signer, writable, readonly, program}
	if len(msg.AccountKeys) != len(want) {
		t.Fatalf("expected %d keys, got %d", len(want), len(msg.AccountKeys))
	}
	for i := range want {
		if msg.AccountKeys[i] != want[i] {
			t.Errorf("key %d: expected %s, got %s", i, want[i], msg.AccountKeys[i])
		}
	}

	if msg.Header.NumRequiredSignatures != 2 {
		t.Errorf("expected 2 signers, got %d", msg.Header.NumRequiredSignatures)
	}
	if msg.Header.NumReadonlySignedAccounts != 1 {
		t.Errorf("expected 1 readonly signer, got %d", msg.Header.NumReadonlySignedAccounts)
	}
	if msg.Header.NumReadonlyUnsignedAccounts != 2 {
		t.Errorf("expected 2 readonly unsigned, got %d", msg.Header.NumReadonlyUnsignedAccounts)
	}
	if !msg.IsWritable(0) || msg.IsWritable(1) || !msg.IsWritable(2) || msg.IsWritable(3) {
		t.Error("unexpected writable flags")
	}

	ix := msg.Instructions[0]
	if ix.ProgramIDIndex != 4 {
		t.Errorf("expected program index 4, got %d", ix.ProgramIDIndex)
	}
	if !bytes.Equal(ix.Accounts, []uint8{3, 2, 1}) {
		t.Errorf("unexpected account indexes %v", ix.Accounts)
	}
}

func TestLegacyTransaction_FeePayerRequired(t *testing.T) {
	tx := NewLegacyTransaction(nil)
	if _, err := tx.CompileMessage(); err != ErrFeePayerRequired {
		t.Errorf("expected ErrFeePayerRequired, got %v", err)
	}
}

func TestLegacyTransaction_RoundTrip(t *testing.T) {
	payer := PublicKey{1}
	program := PublicKey{5}

	tx := NewLegacyTransaction(&payer, Instruction{
		ProgramID: program,
		Accounts:  []AccountMeta{{PublicKey: PublicKey{3}, IsWritable: true}},
		Data:      []byte{1, 2, 3},
	})
	tx.RecentBlockhash = Hash{8}
	tx.AddSignature(payer, Signature{42})

	raw, err := tx.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	decoded, err := DecodeTransaction(raw)
	if err != nil {
		t.Fatalf("DecodeTransaction: %v", err)
	}
	legacy, ok := decoded.(*LegacyTransaction)
	if !ok {
		t.Fatalf("expected *LegacyTransaction, got %T", decoded)
	}
	if legacy.Encoding() != EncodingLegacy {
		t.Errorf("expected legacy encoding, got %s", legacy.Encoding())
	}
	if legacy.RecentBlockhash != tx.RecentBlockhash {
		t.Errorf("blockhash mismatch")
	}
	if legacy.FirstSignature() != (Signature{42}) {
		t.Errorf("signature mismatch")
	}

	again, err := legacy.Serialize()
	if err != nil {
		t.Fatalf("Serialize decoded: %v", err)
	}
	if !bytes.Equal(raw, again) {
		t.Error("re-serialized bytes differ")
	}
}

func TestLegacyTransaction_UnsignedSlots(t *testing.T) {
	payer := PublicKey{1}
	tx := NewLegacyTransaction(&payer, Instruction{ProgramID: PublicKey{5}})

	raw, err := tx.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if raw[0] != 1 {
		t.Fatalf("expected one signature slot, got %d", raw[0])
	}
	if !bytes.Equal(raw[1:1+SignatureSize], make([]byte, SignatureSize)) {
		t.Error("missing signature must serialize as zeroes")
	}
	if !tx.FirstSignature().IsZero() {
		t.Error("expected zero first signature")
	}
}

func testMessageV0() MessageV0 {
	return MessageV0{
		Header: MessageHeader{
			NumRequiredSignatures:       2,
			NumReadonlyUnsignedAccounts: 1,
		},
		StaticAccountKeys: []PublicKey{{1}, {2}, {5}},
		RecentBlockhash:   Hash{3},
		Instructions: []CompiledInstruction{
			{ProgramIDIndex: 2, Accounts: []uint8{0, 1, 3}, Data: []byte{7, 7}},
		},
		AddressTableLookups: []AddressTableLookup{
			{AccountKey: PublicKey{9}, WritableIndexes: []uint8{4}, ReadonlyIndexes: []uint8{0, 1}},
		},
	}
}

func TestVersionedTransaction_RoundTrip(t *testing.T) {
	tx := NewVersionedTransaction(testMessageV0())
	if len(tx.Signatures) != 2 {
		t.Fatalf("expected 2 signature slots, got %d", len(tx.Signatures))
	}
	if err := tx.SetSignature(PublicKey{2}, Signature{6}); err != nil {
		t.Fatalf("SetSignature: %v", err)
	}
	if err := tx.SetSignature(PublicKey{5}, Signature{6}); err == nil {
		t.Error("expected error for non-signer key")
	}

	raw, err := tx.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	decoded, err := DecodeTransaction(raw)
	if err != nil {
		t.Fatalf("DecodeTransaction: %v", err)
	}
	v0, ok := decoded.(*VersionedTransaction)
	if !ok {
		t.Fatalf("expected *VersionedTransaction, got %T", decoded)
	}
	if v0.Signatures[1] != (Signature{6}) || !v0.Signatures[0].IsZero() {
		t.Errorf("unexpected signatures %v", v0.Signatures)
	}
	if len(v0.Message.AddressTableLookups) != 1 || v0.Message.AddressTableLookups[0].AccountKey != (PublicKey{9}) {
		t.Errorf("lookup tables lost: %+v", v0.Message.AddressTableLookups)
	}

	again, err := v0.Serialize()
	if err != nil {
		t.Fatalf("Serialize decoded: %v", err)
	}
	if !bytes.Equal(raw, again) {
		t.Error("re-serialized bytes differ")
	}
}

func TestMessageV0_WithRecentBlockhashCopies(t *testing.T) {
	orig := testMessageV0()
	origBytes, _ := orig.MarshalBinary()

	updated := orig.WithRecentBlockhash(Hash{99})
	if updated.RecentBlockhash != (Hash{99}) {
		t.Fatalf("blockhash not replaced")
	}

	updated.StaticAccountKeys[0] = PublicKey{200}
	updated.Instructions[0].Data[0] = 0
	updated.AddressTableLookups[0].ReadonlyIndexes[0] = 50

	afterBytes, _ := orig.MarshalBinary()
	if !bytes.Equal(origBytes, afterBytes) {
		t.Error("original message was mutated")
	}
	if orig.RecentBlockhash != (Hash{3}) {
		t.Error("original blockhash changed")
	}
}

func TestDecodeTransaction_Truncated(t *testing.T) {
	payer := PublicKey{1}
	tx := NewLegacyTransaction(&payer, Instruction{ProgramID: PublicKey{5}})
	raw, _ := tx.Serialize()

	if _, err := DecodeTransaction(raw[:len(raw)-3]); err == nil {
		t.Error("expected error for truncated transaction")
	}
	if _, err := DecodeTransaction(nil); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestDecodeTransaction_OversizedCounts(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		// 2^21-1 signatures declared with three bytes of input.
		{"signature count beyond u16", []byte{0xff, 0xff, 0x7f}},
		{"continuation on third byte", []byte{0xff, 0xff, 0xff}},
		// 0xffff signatures, none present.
		{"signature count beyond data", []byte{0xff, 0xff, 0x03}},
		// No signatures, legacy header, 0x3fff keys, none present.
		{"key count beyond data", []byte{0x00, 0x01, 0x00, 0x00, 0xff, 0x7f}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var before, after runtime.MemStats
			runtime.ReadMemStats(&before)
			_, err := DecodeTransaction(tt.data)
			runtime.ReadMemStats(&after)

			if err == nil {
				t.Fatal("expected error")
			}
			if grew := after.TotalAlloc - before.TotalAlloc; grew > 1<<20 {
				t.Errorf("decode allocated %d bytes before failing", grew)
			}
		})
	}
}

func TestReader_CompactU16(t *testing.T) {
	tests := []struct {
		data    []byte
		want    int
		wantErr bool
	}{
		{[]byte{0x00}, 0, false},
		{[]byte{0x7f}, 0x7f, false},
		{[]byte{0x80, 0x01}, 0x80, false},
		{[]byte{0xff, 0xff, 0x03}, 0xffff, false},
		{[]byte{0x80, 0x80, 0x04}, 0, true},
		{[]byte{0xff, 0xff, 0xff}, 0, true},
		{[]byte{0x80}, 0, true},
	}
	for _, tt := range tests {
		got, err := (&reader{buf: tt.data}).compactU16()
		if (err != nil) != tt.wantErr {
			t.Errorf("compactU16(%x) error = %v, wantErr %v", tt.data, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("compactU16(%x) = %d, want %d", tt.data, got, tt.want)
		}
	}
}
