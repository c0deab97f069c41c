package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/BoldFlame-Enterprises/verigate-backend/internal/models"
)

// SnapshotChecksum is a content hash over the canonical serialization of a
// row set. Scanner apps compare it against their cached copy; identical
// data always hashes identically, so the rows must arrive in a stable
// order (the store returns them ordered by id).
func SnapshotChecksum(rows []models.SnapshotRow) string {
	if rows == nil {
		rows = []models.SnapshotRow{}
	}
	raw, _ := json.Marshal(rows)
	return fmt.Sprintf("%x", sha256.Sum256(raw))
}

func AreasChecksum(areas []models.Area) string {
	if areas == nil {
		areas = []models.Area{}
	}
	raw, _ := json.Marshal(areas)
	return fmt.Sprintf("%x", sha256.Sum256(raw))
}
