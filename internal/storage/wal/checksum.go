package wal

// ============================================================================
// Checksums
// ============================================================================

import (
	"encoding/json"
	"hash/crc32"
)

// CalculateChecksum returns the CRC32-IEEE of the event's JSON encoding with
// the Checksum field zeroed. Every field is covered, the job state included.
func CalculateChecksum(event Event) uint32 {
	event.Checksum = 0
	data, err := json.Marshal(event)
	if err != nil {
		return 0
	}
	return crc32.ChecksumIEEE(data)
}

// VerifyChecksum checks a decoded event.
func VerifyChecksum(event Event) error {
	expected := CalculateChecksum(event)
	if event.Checksum != expected {
		return &ChecksumError{Seq: event.Seq, Expected: expected, Actual: event.Checksum}
	}
	return nil
}
