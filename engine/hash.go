package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// InputHash returns the hex SHA-256 of the canonical JSON encoding of an
// input. Byte-identical inputs hash identically; the hash keys persisted
// records for idempotence detection by downstream consumers. The store
// itself never deduplicates.
func InputHash(in CalculationInput) string {
	// Struct field order is fixed, so encoding/json is canonical here.
	b, err := json.Marshal(in)
	if err != nil {
		// CalculationInput contains no unmarshalable types; this cannot
		// happen with the current shape.
		panic(err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
