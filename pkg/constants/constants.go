// Package constants provides shared constants used throughout the reclaim codebase.
// This includes timeouts, limits, storage layout conventions, file permissions
// and other values that should be consistent across the application.
package constants

import "time"

// Timeout constants define various timeout durations used in the application
const (
	// DefaultTimeout is the standard timeout for a single store or ledger call
	DefaultTimeout = 10 * time.Second

	// CollectorTimeout bounds one collector invocation over one batch
	CollectorTimeout = 2 * time.Minute

	// CommandTimeout is the default timeout for a whole CLI reconciliation run
	CommandTimeout = 30 * time.Minute

	// CommitDrainTimeout bounds how long in-flight commits may run after cancellation
	CommitDrainTimeout = 2 * time.Minute
)

// Retry constants for transient store failures
const (
	// RetryBaseDelay is the first backoff delay
	RetryBaseDelay = 200 * time.Millisecond

	// RetryMaxDelay caps the exponential backoff
	RetryMaxDelay = 5 * time.Second

	// RetryMaxAttempts is the total number of attempts including the first
	RetryMaxAttempts = 4

	// StoreRateLimit is the sustained store calls per second
	StoreRateLimit = 50

	// StoreRateBurst is the token bucket burst size for store calls
	StoreRateBurst = 10
)

// File permission constants define standard Unix file permissions
const (
	// DirPermissions is the default permission for created directories (rwxr-xr-x)
	DirPermissions = 0755

	// FilePermissions is the default permission for created files (rw-r--r--)
	FilePermissions = 0644
)

// Limit constants define various limits and capacities
const (
	// SampleSize is how many leading bytes of an asset are inspected
	SampleSize = 8 * 1024

	// MaxHistoryFileSize skips log files larger than this when mining history
	MaxHistoryFileSize = 50 * 1024 * 1024

	// DefaultWorkers is the default size of the collector and commit worker pools
	DefaultWorkers = 8

	// DefaultBatchSize is the number of assets handed to one collector invocation
	DefaultBatchSize = 64

	// MaxHistoryHits caps how many hits one history search returns
	MaxHistoryHits = 100
)

// Cache constants
const (
	// SampleCacheTTL is how long a content sample stays cached
	SampleCacheTTL = 15 * time.Minute

	// SampleCacheCleanupInterval is how often expired samples are purged
	SampleCacheCleanupInterval = 5 * time.Minute
)

// Reconciliation defaults
const (
	// DefaultConfidenceThreshold is the minimum fused confidence for auto-commit
	DefaultConfidenceThreshold = 0.70

	// OrphanPrefix is the key prefix of the orphan pool
	OrphanPrefix = "files/"

	// OwnerPrefix is the key prefix of owner namespaces
	OwnerPrefix = "clients/"

	// DefaultDestinationTemplate places a claimed asset in its owner's namespace
	DefaultDestinationTemplate = "clients/{owner_id}/{asset_id}{ext}"

	// ReportFilePrefix names report files and is excluded from history search
	ReportFilePrefix = "reclaim-"
)

// Path constants
const (
	// DefaultConfigFile is the config file looked up in the home directory
	DefaultConfigFile = ".reclaim.yaml"

	// DefaultReportDir is where reports are written when no path is given
	DefaultReportDir = "."
)

// Format constants
const (
	// TimeFormatFilename is the format used in generated filenames
	TimeFormatFilename = "20060102T150405Z"

	// TimeFormatHuman is a human-readable time format
	TimeFormatHuman = "Jan 2, 2006 at 3:04pm MST"
)
