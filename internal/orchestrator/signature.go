package orchestrator

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"

	"promptforge/internal/domain/generation"
)

// Signature identifies one slot attempt for in-flight deduplication.
// Identical inputs yield identical signatures. Each field is length
// prefixed so adjacent values cannot run together.
func Signature(accountID uint, in generation.Input) string {
	h := sha256.New()
	var n [8]byte
	for _, field := range []string{
		strconv.FormatUint(uint64(accountID), 10),
		in.Prompt,
		in.Style,
		in.Model,
		strconv.Itoa(in.Variation),
		strconv.Itoa(in.Index),
	} {
		binary.BigEndian.PutUint64(n[:], uint64(len(field)))
		h.Write(n[:])
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))
}
