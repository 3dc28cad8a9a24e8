// Package persistence keeps questionnaire answers in a local cache and, for
// authenticated clients, in a remote store.
package persistence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"advisory-portal/internal/common/validation"
	"advisory-portal/internal/questionnaire/answers"
)

var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrInvalidSnapshot  = errors.New("invalid snapshot")
)

// Snapshot is the serialized answer aggregate plus ownership metadata.
type Snapshot struct {
	SessionID string    `json:"sessionId"`
	Completed bool      `json:"completed"`
	UpdatedAt time.Time `json:"updatedAt"`
	answers.State

	// seq orders snapshots of one coordinator by creation time.
	seq uint64
}

// Source says where a loaded snapshot came from.
type Source string

const (
	SourceEmpty  Source = "empty"
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
	SourceMerged Source = "merged"
)

// Notice is a non-fatal condition surfaced to the client after a load.
type Notice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type LoadResult struct {
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Source   Source    `json:"source"`
	Notices  []Notice  `json:"notices,omitempty"`
}

// CheckpointMode says which stores a checkpoint reached.
type CheckpointMode string

const (
	ModeRemote    CheckpointMode = "remote"
	ModeLocalOnly CheckpointMode = "local_only"
)

type CheckpointResult struct {
	Mode      CheckpointMode `json:"mode"`
	Completed bool           `json:"completed"`
	SavedAt   time.Time      `json:"savedAt"`
	// Superseded is set when a newer snapshot had already been saved and this
	// one was skipped.
	Superseded bool `json:"superseded,omitempty"`
}

// Codec encodes snapshots and rejects documents that do not match the
// snapshot schema.
type Codec struct {
	validator *validation.Validator
}

func NewCodec() *Codec {
	return &Codec{validator: validation.NewSnapshotValidator()}
}

func (c *Codec) Encode(snap *Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// Decode validates data against the snapshot schema before unmarshalling.
// Numbers inside answers decode as json.Number so integral values survive.
func (c *Codec) Decode(data []byte) (*Snapshot, error) {
	result, err := c.validator.ValidateBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if !result.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, result.GetErrorMessages())
	}

	var snap Snapshot
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	return &snap, nil
}
