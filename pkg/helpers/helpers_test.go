package helpers

import (
	"math/big"
	"strings"
	"testing"
)

func TestHexBytesRoundTrip(t *testing.T) {
	// Every even-length hex string up to 64 chars must survive
	// decode-then-encode, with or without the 0x prefix.
	const alphabet = "0123456789abcdef"
	for n := 0; n <= 32; n++ {
		var b strings.Builder
		for i := 0; i < 2*n; i++ {
			b.WriteByte(alphabet[(i*7)%len(alphabet)])
		}
		in := b.String()

		raw, err := HexToBytes(in)
		if err != nil {
			t.Fatalf("HexToBytes(%q): %v", in, err)
		}
		if got := BytesToHex(raw); got != "0x"+in {
			t.Errorf("round trip of %q = %q", in, got)
		}

		raw2, err := HexToBytes("0x" + in)
		if err != nil {
			t.Fatalf("HexToBytes(0x%s): %v", in, err)
		}
		if !ConstantTimeCompare(raw, raw2) {
			t.Errorf("prefix tolerance broken for %q", in)
		}
	}
}

func TestHexToBytesRejectsOddLength(t *testing.T) {
	if _, err := HexToBytes("0xabc"); err == nil {
		t.Error("expected an error for odd-length hex")
	}
}

func TestConstantTimeCompare(t *testing.T) {
	a := []byte{1, 2, 3}
	if !ConstantTimeCompare(a, []byte{1, 2, 3}) {
		t.Error("equal slices reported unequal")
	}
	if ConstantTimeCompare(a, []byte{1, 2, 4}) {
		t.Error("unequal slices reported equal")
	}
	// Length mismatch must also compare false, not panic or short-circuit
	// into a compare of the shared prefix.
	if ConstantTimeCompare(a, []byte{1, 2}) {
		t.Error("different-length slices reported equal")
	}
}

func TestGenerateSecureRandom(t *testing.T) {
	a, err := GenerateSecureRandom(32)
	if err != nil {
		t.Fatalf("GenerateSecureRandom: %v", err)
	}
	b, err := GenerateSecureRandom(32)
	if err != nil {
		t.Fatalf("GenerateSecureRandom: %v", err)
	}
	if len(a) != 32 || len(b) != 32 {
		t.Fatalf("lengths = %d, %d, want 32", len(a), len(b))
	}
	if IsZeroBytes(a) || ConstantTimeCompare(a, b) {
		t.Error("output does not look random")
	}
}

func TestIsZeroBytes(t *testing.T) {
	tests := []struct {
		name string
		b    []byte
		want bool
	}{
		{"all zeros", []byte{0, 0, 0}, true},
		{"has non-zero", []byte{0, 1, 0}, false},
		{"empty", []byte{}, true},
		{"nil", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsZeroBytes(tt.b); got != tt.want {
				t.Errorf("IsZeroBytes = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatBigAmount(t *testing.T) {
	tests := []struct {
		amount   string
		decimals uint8
		want     string
	}{
		{"1000000", 6, "1"},
		{"1500000", 6, "1.5"},
		{"123456", 6, "0.123456"},
		{"1", 6, "0.000001"},
		{"0", 6, "0"},
		{"123", 0, "123"},
		// Beyond uint64 range: amounts are opaque 256-bit integers.
		{"123456789012345678901234567890", 6, "123456789012345678901234.56789"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			n, ok := new(big.Int).SetString(tt.amount, 10)
			if !ok {
				t.Fatalf("bad test amount %q", tt.amount)
			}
			if got := FormatBigAmount(n, tt.decimals); got != tt.want {
				t.Errorf("FormatBigAmount(%s, %d) = %s, want %s", tt.amount, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestParseBigAmount(t *testing.T) {
	tests := []struct {
		input    string
		decimals uint8
		want     string
		wantErr  bool
	}{
		{"1", 6, "1000000", false},
		{"0.5", 6, "500000", false},
		{"0.000001", 6, "1", false},
		{"0", 6, "0", false},
		{"123", 0, "123", false},
		{"invalid", 6, "", true},
		{"1.2.3", 6, "", true},
		{"", 6, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseBigAmount(tt.input, tt.decimals)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("ParseBigAmount(%s, %d) = %s, want %s", tt.input, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestAmountRoundTrip(t *testing.T) {
	for _, amount := range []int64{1, 100, 123456, 1000000, 999999999} {
		n := big.NewInt(amount)
		formatted := FormatBigAmount(n, 6)
		parsed, err := ParseBigAmount(formatted, 6)
		if err != nil {
			t.Errorf("ParseBigAmount(%s): %v", formatted, err)
			continue
		}
		if parsed.Cmp(n) != 0 {
			t.Errorf("round trip failed: %d -> %s -> %s", amount, formatted, parsed)
		}
	}
}
