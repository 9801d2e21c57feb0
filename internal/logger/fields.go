package logger

import "log/slog"

// Standard field keys for structured logging. Use these keys consistently
// across all log statements so logs can be aggregated and queried by field.
const (
	// Distributed tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// RPC surface
	KeyProcedure  = "procedure" // RPC procedure name
	KeyXID        = "xid"       // RPC transaction id
	KeyStatus     = "status"    // Wire status code name
	KeyClientAddr = "client_addr"

	// Transfer operations
	KeyOperationID = "operation_id" // Progress key (session or download id)
	KeySessionID   = "session_id"   // Upload session id
	KeyMode        = "mode"         // Upload mode: direct, multipart
	KeySequence    = "sequence"     // Chunk or frame sequence number
	KeyBytes       = "bytes"        // Byte count for the logged event
	KeyBytesTotal  = "bytes_total"  // Total expected bytes when known
	KeyPartIndex   = "part_index"   // Multipart part number
	KeyDigest      = "digest"       // Hex SHA-256

	// Artifact coordinates
	KeyApp      = "app"
	KeyVersion  = "version"
	KeyPlatform = "platform"
	KeyFilename = "filename"

	// Object store
	KeyBucket  = "bucket"
	KeyKey     = "key"
	KeyRegion  = "region"
	KeyBackend = "backend"
	KeyAttempt = "attempt"

	// Progress fan-out
	KeySubscribers = "subscribers"
	KeyDropped     = "dropped"

	// Operation metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyReason     = "reason"
)

// Typed attr constructors for the hot call sites.

// OperationID returns a slog.Attr for a progress operation id.
func OperationID(id string) slog.Attr {
	return slog.String(KeyOperationID, id)
}

// SessionID returns a slog.Attr for an upload session id.
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// Sequence returns a slog.Attr for a chunk or frame sequence number.
func Sequence(seq uint64) slog.Attr {
	return slog.Uint64(KeySequence, seq)
}

// Bytes returns a slog.Attr for a byte count.
func Bytes(n int64) slog.Attr {
	return slog.Int64(KeyBytes, n)
}

// Key returns a slog.Attr for an object store key.
func Key(k string) slog.Attr {
	return slog.String(KeyKey, k)
}

// Bucket returns a slog.Attr for the backing bucket name.
func Bucket(name string) slog.Attr {
	return slog.String(KeyBucket, name)
}

// DurationMs returns a slog.Attr for a duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error, or an empty attr when err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
