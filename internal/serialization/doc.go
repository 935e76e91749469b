// Package serialization implements the .born file format used for detector
// checkpoints and pretrained weights.
//
//	Format Structure (v2):
//	  [64 bytes: fixed header]
//	    0x00 magic "BORN", 0x04 version (uint32 LE), 0x08 flags (uint32 LE),
//	    0x10 JSON header size (uint64 LE), 0x18 data size (uint64 LE),
//	    0x20 SHA-256 of the data section (32 bytes)
//	  [JSON header]
//	  [padding to 64-byte alignment]
//	  [tensor data: float32 little-endian, tensors in name order]
//
// Example usage:
//
//	err := serialization.WriteFile("best_checkpoint.born", stateDict, serialization.Header{
//	    ModelType: "CenterNet",
//	    CheckpointMeta: &serialization.CheckpointMeta{IsCheckpoint: true, Epoch: 3},
//	})
//
//	header, stateDict, err := serialization.ReadFile("best_checkpoint.born")
package serialization
