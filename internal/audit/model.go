package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/recoverguard/platform/internal/shared/types"
)

// canonicalJSON produces deterministic JSON output with sorted map keys.
// Go maps have random iteration order and JSONB stores may reorder keys,
// so hashing requires a canonical encoding.
func canonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}

	return canonicalMarshal(parsed)
}

func canonicalMarshal(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, _ := json.Marshal(k)
			buf.Write(keyBytes)
			buf.WriteByte(':')
			valBytes, err := canonicalMarshal(val[k])
			if err != nil {
				return nil, err
			}
			buf.Write(valBytes)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil

	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			itemBytes, err := canonicalMarshal(item)
			if err != nil {
				return nil, err
			}
			buf.Write(itemBytes)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil

	default:
		return json.Marshal(val)
	}
}

// Action names recorded in the audit trail
const (
	ActionCall           = "call"
	ActionMessage        = "message"
	ActionEscalate       = "escalate"
	ActionDismiss        = "dismiss"
	ActionConsentGranted = "consent_granted"
	ActionConsentRevoked = "consent_revoked"
)

// Entry represents an immutable audit log entry. Once written it is never
// mutated or deleted; corrections happen as new entries.
type Entry struct {
	ID        types.ID  `json:"id"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Hash      string    `json:"hash"`
	PrevHash  string    `json:"prev_hash,omitempty"`

	// Actor
	ActorID   types.ID `json:"actor_id"`
	ActorRole string   `json:"actor_role"`

	// Action
	Action    string    `json:"action"`
	AlertID   *types.ID `json:"alert_id,omitempty"`
	PatientID types.ID  `json:"patient_id"`
	Note      string    `json:"note,omitempty"`

	// PreviousState snapshots the alert status being transitioned out of.
	// Absent for non-alert events such as consent changes.
	PreviousState string `json:"previous_state,omitempty"`
}

// NewEntry creates a new audit entry. PrevHash and Sequence are assigned by
// the repository at append time.
func NewEntry(
	actorID types.ID,
	actorRole string,
	action string,
	alertID *types.ID,
	patientID types.ID,
	note string,
	previousState string,
) *Entry {
	entry := &Entry{
		ID:            types.NewID(),
		Timestamp:     time.Now().UTC().Truncate(time.Microsecond), // microsecond precision for PostgreSQL round-trips
		ActorID:       actorID,
		ActorRole:     actorRole,
		Action:        action,
		AlertID:       alertID,
		PatientID:     patientID,
		Note:          note,
		PreviousState: previousState,
	}

	entry.Hash = entry.computeHash()
	return entry
}

// computeHash calculates the SHA-256 hash of the entry using canonical JSON.
// Timestamps hash in UTC so verification is timezone independent.
func (e *Entry) computeHash() string {
	data := map[string]any{
		"id":         e.ID,
		"timestamp":  e.Timestamp.UTC().Format(time.RFC3339Nano),
		"prev_hash":  e.PrevHash,
		"actor_id":   e.ActorID,
		"actor_role": e.ActorRole,
		"action":     e.Action,
		"patient_id": e.PatientID,
	}

	if e.AlertID != nil {
		data["alert_id"] = e.AlertID
	}
	if e.Note != "" {
		data["note"] = e.Note
	}
	if e.PreviousState != "" {
		data["previous_state"] = e.PreviousState
	}

	jsonData, _ := canonicalJSON(data)
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:])
}

// VerifyHash verifies the entry's stored hash against its content
func (e *Entry) VerifyHash() bool {
	return e.Hash == e.computeHash()
}

// ComputeHash computes and returns the correct hash for this entry
func (e *Entry) ComputeHash() string {
	return e.computeHash()
}

// ListFilter defines filters for reading the audit trail
type ListFilter struct {
	PatientID *types.ID
	AlertID   *types.ID
	ActorID   *types.ID
	Action    string
	Limit     int
	Offset    int
}
