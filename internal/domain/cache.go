package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// CacheEntry is a persisted agent result addressed by fingerprint. Entries
// are inserted once and never updated in place.
type CacheEntry struct {
	Fingerprint  string     `gorm:"type:char(64);primaryKey" json:"fingerprint"`
	Agent        AgentName  `gorm:"type:varchar(32);not null;index" json:"agent"`
	AgentVersion string     `gorm:"type:varchar(64);not null" json:"agent_version"`
	Path         string     `gorm:"type:text" json:"path"`
	Payload      FindingSet `gorm:"serializer:json;type:jsonb;not null" json:"payload"`
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`
}

func (CacheEntry) TableName() string {
	return "analysis_cache_entries"
}

// Fingerprint hashes agent, agent version, file path and content. Fields
// are length-prefixed so no two distinct tuples share an encoding.
func Fingerprint(agent AgentName, version, filePath string, content []byte) string {
	h := sha256.New()
	var n [8]byte
	for _, part := range [][]byte{[]byte(agent), []byte(version), []byte(filePath), content} {
		binary.BigEndian.PutUint64(n[:], uint64(len(part)))
		h.Write(n[:])
		h.Write(part)
	}
	return hex.EncodeToString(h.Sum(nil))
}
