package serialization

import (
	"crypto/sha256"
	"time"
)

// Format constants.
const (
	MagicBytes        = "BORN"
	FormatVersionV2   = 2        // v2: With SHA-256 checksum
	HeaderAlignment   = 64       // Align tensor data to 64 bytes
	FixedHeaderSizeV2 = 64       // v2 fixed header size (0x40 bytes)
	ChecksumSize      = 32       // SHA-256 checksum size (32 bytes)
	ChecksumOffsetV2  = 0x20     // Checksum offset in v2 fixed header
	MaxHeaderSize     = 64 << 20 // Upper bound on the JSON header
)

// DTypeFloat32 is the only tensor dtype stored by this module.
const DTypeFloat32 = "float32"

// Flags for the .born format.
const (
	FlagHasOptimizer uint32 = 1 << 1 // bit 1: training state included
	FlagHasMetadata  uint32 = 1 << 2 // bit 2: custom metadata included
)

// Header represents the JSON header in a .born file.
type Header struct {
	FormatVersion   int               `json:"format_version"`
	ProducerVersion string            `json:"producer_version"`
	ModelType       string            `json:"model_type"`
	CreatedAt       time.Time         `json:"created_at"`
	Tensors         []TensorMeta      `json:"tensors"`
	Metadata        map[string]string `json:"metadata"`
	CheckpointMeta  *CheckpointMeta   `json:"checkpoint,omitempty"`
}

// CheckpointMeta contains training state information for checkpoints.
type CheckpointMeta struct {
	IsCheckpoint   bool    `json:"is_checkpoint"`
	Epoch          int     `json:"epoch"`
	Step           int64   `json:"step"`
	BestScore      float64 `json:"best_score"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	TrainSize      int     `json:"train_size"`
}

// TensorMeta describes a tensor in the .born file.
type TensorMeta struct {
	Name   string `json:"name"`
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"` // bytes from start of tensor data
	Size   int64  `json:"size"`   // bytes
}

// ComputeChecksum computes SHA-256 checksum of data.
func ComputeChecksum(data []byte) [32]byte {
	return sha256.Sum256(data)
}
