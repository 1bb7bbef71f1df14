// Package telemetry implements the Telemetry Pipeline, §4.4: the per-tick
// state history encoder, its content-addressed storage, and the read-only
// replay contract used for queries.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/scenariograph/predictive-sim/pkg/model"
)

// StorageRef is the pluggable object-store seam the writer persists blobs
// through, and the reader fetches them back from by content hash; Put
// returns the blob's URL, §4.4 "Storage".
type StorageRef interface {
	Put(hash string, content []byte) (url string, err error)
	Get(hash string) (content []byte, err error)
}

// CanonicalJSON serializes blob the same way on every call: encoding/json
// already sorts map[string]T keys at every nesting level and never indents,
// so two semantically-identical blobs always produce identical bytes — the
// determinism guarantee §4.4 requires for telemetry_hash (§4.6).
func CanonicalJSON(blob *model.TelemetryBlob) ([]byte, error) {
	return blob.CanonicalJSON()
}

// ContentHash returns the hex SHA-256 digest of b, used as the content
// address for every stored blob.
func ContentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// StoreBlob canonicalizes blob, hashes it, and persists it via ref, returning
// the content hash and signed URL.
func StoreBlob(ref StorageRef, blob *model.TelemetryBlob) (hash string, url string, err error) {
	canon, err := CanonicalJSON(blob)
	if err != nil {
		return "", "", err
	}
	hash = ContentHash(canon)
	url, err = ref.Put(hash, canon)
	return hash, url, err
}

// LoadBlob fetches and decodes the blob stored at hash.
func LoadBlob(ref StorageRef, hash string) (*model.TelemetryBlob, error) {
	content, err := ref.Get(hash)
	if err != nil {
		return nil, err
	}
	var blob model.TelemetryBlob
	if err := json.Unmarshal(content, &blob); err != nil {
		return nil, err
	}
	return &blob, nil
}

// DetectCapabilities scans keyframes for spatial/event/metric markers,
// §4.4 "Capabilities".
func DetectCapabilities(blob *model.TelemetryBlob) model.Capabilities {
	caps := model.Capabilities{}
	for _, kf := range blob.Keyframes {
		if len(kf.Metrics) > 0 {
			caps.HasMetrics = true
		}
		for _, agentState := range kf.AgentStates {
			if hasSpatialCoords(agentState) {
				caps.HasSpatial = true
			}
		}
	}
	for _, d := range blob.Deltas {
		if len(d.Events) > 0 {
			caps.HasEvents = true
		}
		if len(d.MetricUpdates) > 0 {
			caps.HasMetrics = true
		}
	}
	return caps
}

var spatialAliasesX = []string{"x", "position_x", "pos_x", "coord_x", "loc_x"}
var spatialAliasesY = []string{"y", "position_y", "pos_y", "coord_y", "loc_y"}

func hasSpatialCoords(state model.AgentState) bool {
	hasX, hasY := false, false
	for _, k := range spatialAliasesX {
		if _, ok := state[k]; ok {
			hasX = true
			break
		}
	}
	for _, k := range spatialAliasesY {
		if _, ok := state[k]; ok {
			hasY = true
			break
		}
	}
	if hasX && hasY {
		return true
	}
	if _, ok := state["grid_cell"]; ok {
		return true
	}
	if _, ok := state["location_id"]; ok {
		return true
	}
	return false
}
