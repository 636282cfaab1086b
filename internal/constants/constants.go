// Package constants holds the fixed defaults the backup engine is built
// around: block size, worker pool shape, and retention.
package constants

import "time"

// Block layout
const (
	// DefaultBlockSize is the default plaintext block size (1 MiB), used
	// when "init" is run without --block-size. Immutable once a tree is
	// initialized.
	DefaultBlockSize = 1 << 20

	// IVSize is the AES-CBC initialization vector size, in bytes.
	IVSize = 16

	// AESKeySize is the AES-256 key size, in bytes.
	AESKeySize = 32
)

// Block pipeline (C6) defaults
const (
	// DefaultWorkers is used when the host has more than 4 usable CPUs;
	// min(runtime.NumCPU(), DefaultWorkers) is the actual worker count.
	DefaultWorkers = 4

	// DefaultQueueDepth bounds the number of in-flight work items between
	// the producer and the worker pool.
	DefaultQueueDepth = 16
)

// Coordinator (C7) defaults
const (
	// DefaultRetentionDays is how long a superseded alias survives before
	// cleanup reclaims it and any now-unreferenced blocks.
	DefaultRetentionDays = 183

	// NoDeadline signals an unlimited backup run (-T 0).
	NoDeadline = time.Duration(0)
)

// IndexFileName is the hidden index file created at the source root by init.
const IndexFileName = ".coldvault.db"

// EncryptedIndexBlobName is the name of the encrypted copy of the index
// written to the destination at the end of every successful backup run, so
// a lost source tree is recoverable (§6).
const EncryptedIndexBlobName = "index.coldvault"

// SchemaVersion is the index schema version this binary writes and the
// newest version it knows how to read.
const SchemaVersion = 1
