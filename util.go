package main

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// GenerateID returns a random hex string of the given byte length
func GenerateID(byteLen int) string {
	b := make([]byte, byteLen)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// GenerateUUID returns a random v4 UUID string
func GenerateUUID() string {
	return uuid.NewString()
}

// Clamp restricts v to [min, max]
func Clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// invariant reports a programming defect. Debug builds panic, release
// builds log and let the caller clamp or skip.
func invariant(ok bool, msg string) bool {
	if ok {
		return true
	}
	if debugAssertions {
		panic("invariant violated: " + msg)
	}
	log.Error().Str("invariant", msg).Msg("invariant violated")
	return false
}
