// Package wasmstore validates and stores the optional WASM module attached
// to a CustomContract. Validation compiles the module with a wasmer engine,
// without instantiating it, to catch malformed bytecode before it is
// accepted; this is the same
// wasmer-go entry point (Engine → Store → Module) the contract VM elsewhere
// in the retrieved pack uses to load WASM.
package wasmstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/database"
)

// Store persists WASM bytes and validates them on upload.
type Store struct {
	contracts *database.ContractRepository
	blobs     BlobStore
}

// BlobStore is the external collaborator that actually holds WASM bytes
// (object storage, filesystem, etc); spec.md §1 treats "WASM upload storage"
// as out of scope for the core.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// NewStore builds a Store over a contract repository and a blob backend.
func NewStore(contracts *database.ContractRepository, blobs BlobStore) *Store {
	return &Store{contracts: contracts, blobs: blobs}
}

// Validate reports whether data is a loadable WASM module. It does not
// execute the module, only compiles it, matching the wasmer-go
// Engine/Store/Module lifecycle used for contract execution.
func Validate(data []byte) error {
	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)
	_, err := wasmer.NewModule(store, data)
	if err != nil {
		return fmt.Errorf("invalid wasm module: %w", err)
	}
	return nil
}

// Attach validates and stores a WASM module for a contract, and records its
// metadata. A chain-hash mismatch sets Verified=false but never blocks the
// upload (spec.md §4.1).
func (s *Store) Attach(ctx context.Context, contractID string, data []byte, chainHashHex string) (*database.WasmMeta, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	sha256Hex := hex.EncodeToString(sum[:])

	blobKey := contractID + ".wasm"
	if err := s.blobs.Put(ctx, blobKey, data); err != nil {
		return nil, fmt.Errorf("failed to store wasm blob: %w", err)
	}

	meta := &database.WasmMeta{
		SHA256:       sha256Hex,
		SizeBytes:    int64(len(data)),
		UploadedAt:   time.Now(),
		Verified:     chainHashHex != "" && chainHashHex == sha256Hex,
		ChainHashHex: chainHashHex,
	}
	if err := s.contracts.UpdateWasmMeta(ctx, contractID, meta); err != nil {
		return nil, fmt.Errorf("failed to record wasm metadata: %w", err)
	}
	return meta, nil
}

// Download returns the stored WASM bytes for a contract.
func (s *Store) Download(ctx context.Context, contractID string) ([]byte, error) {
	data, err := s.blobs.Get(ctx, contractID+".wasm")
	if err != nil {
		return nil, fmt.Errorf("failed to load wasm blob: %w", err)
	}
	return data, nil
}
