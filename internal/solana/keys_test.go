package solana

import (
	"testing"
)

func TestParsePublicKey(t *testing.T) {
	const s = "SQDS4ep65T869zMMBKyuUq6mtY8Vi6Q3kaP1BuCGRpf"

	pk, err := ParsePublicKey(s)
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	if pk.String() != s {
		t.Errorf("expected %s, got %s", s, pk.String())
	}

	if _, err := ParsePublicKey("not-base58!"); err == nil {
		t.Error("expected error for invalid base58")
	}
	if _, err := ParsePublicKey("3yZe7d"); err == nil {
		t.Error("expected error for short key")
	}
}

func TestPublicKey_TextRoundTrip(t *testing.T) {
	pk := PublicKey{1, 2, 3, 4}
	text, err := pk.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}

	var got PublicKey
	if err := got.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if got != pk {
		t.Errorf("expected %s, got %s", pk, got)
	}
}

func TestFindProgramAddress(t *testing.T) {
	program := MustPublicKey("SQDS4ep65T869zMMBKyuUq6mtY8Vi6Q3kaP1BuCGRpf")
	seeds := [][]byte{[]byte("multisig"), PublicKey{7}.Bytes(), []byte("transaction"), U64LE(3)}

	addr, bump, err := FindProgramAddress(seeds, program)
	if err != nil {
		t.Fatalf("FindProgramAddress: %v", err)
	}
	if IsOnCurve(addr[:]) {
		t.Error("program address must be off curve")
	}

	again, againBump, err := FindProgramAddress(seeds, program)
	if err != nil {
		t.Fatalf("FindProgramAddress: %v", err)
	}
	if again != addr || againBump != bump {
		t.Error("derivation must be deterministic")
	}

	direct, err := CreateProgramAddress(append(seeds, []byte{bump}), program)
	if err != nil {
		t.Fatalf("CreateProgramAddress: %v", err)
	}
	if direct != addr {
		t.Errorf("expected %s, got %s", addr, direct)
	}

	other, _, err := FindProgramAddress([][]byte{[]byte("multisig"), PublicKey{7}.Bytes(), []byte("transaction"), U64LE(4)}, program)
	if err != nil {
		t.Fatalf("FindProgramAddress: %v", err)
	}
	if other == addr {
		t.Error("different index must derive a different address")
	}
}

func TestCreateProgramAddress_SeedTooLong(t *testing.T) {
	if _, err := CreateProgramAddress([][]byte{make([]byte, 33)}, PublicKey{1}); err == nil {
		t.Error("expected error for oversized seed")
	}
}

func TestU64LE(t *testing.T) {
	got := U64LE(0x0102)
	want := []byte{0x02, 0x01, 0, 0, 0, 0, 0, 0}
	if string(got) != string(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}
