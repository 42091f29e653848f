// Package helpers provides the byte, hex, and amount conversions shared by
// the preimage service, configuration loading, and the CLI.
package helpers

import (
	"encoding/hex"
	"strings"
)

// HexToBytes decodes a hex string, tolerating an optional 0x prefix.
func HexToBytes(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

// BytesToHex encodes b as a 0x-prefixed hex string.
func BytesToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
