// Package persist abstracts the accessory's persistent blob store.
//
// The protocol core reads and writes a handful of small blobs keyed by
// short strings: the accessory identity, the paired-controller table,
// the SRP verifier and the attribute-database hash. Implementations can
// back these with flash, files or memory.
package persist

// Well-known blob keys.
const (
	// KeyAccessory holds the device ID and long-term key pair.
	KeyAccessory = "ACCESSORY"

	// KeyControllers holds the paired-controller table.
	KeyControllers = "CONTROLLERS"

	// KeyVerifyData holds the SRP salt and verifier.
	KeyVerifyData = "VERIFYDATA"

	// KeyHapHash holds the last SHA-384 of the serialized database
	// plus the configuration number derived from it.
	KeyHapHash = "HAPHASH"
)

// Store is the persistent blob store the core depends on.
//
// All methods must be safe for concurrent use. SetBlob must be durable
// once Commit returns; the server commits before answering any request
// that mutated state.
type Store interface {
	// GetBlob returns the blob stored under key, or ErrNotFound.
	GetBlob(key string) ([]byte, error)

	// SetBlob stores a blob under key, replacing any previous value.
	SetBlob(key string, value []byte) error

	// DeleteBlob removes the blob under key. Deleting an absent key
	// is not an error.
	DeleteBlob(key string) error

	// Commit flushes pending writes to stable storage.
	Commit() error
}
