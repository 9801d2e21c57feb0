package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for freight operations.
// These follow OpenTelemetry semantic conventions where applicable.
// Transport-agnostic keys use "artifact." and "transfer." prefixes,
// transport-specific keys use their own prefix.
const (
	// ========================================================================
	// Client attributes (transport-agnostic)
	// ========================================================================
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.address"
	AttrClientPort = "client.port"

	// ========================================================================
	// RPC attributes (binary front)
	// ========================================================================
	AttrRPCXID       = "rpc.xid"
	AttrRPCProgram   = "rpc.program"
	AttrRPCVersion   = "rpc.version"
	AttrRPCProcedure = "rpc.procedure"
	AttrRPCStatus    = "rpc.status"

	// ========================================================================
	// Artifact coordinate attributes
	// ========================================================================
	AttrApp      = "artifact.app"
	AttrVersion  = "artifact.version"
	AttrPlatform = "artifact.platform"
	AttrFilename = "artifact.filename"
	AttrSize     = "artifact.size"
	AttrDigest   = "artifact.digest"

	// ========================================================================
	// Transfer attributes (uploads and downloads)
	// ========================================================================
	AttrSessionID   = "transfer.session_id"
	AttrOperationID = "transfer.operation_id"
	AttrMode        = "transfer.mode" // direct, multipart
	AttrSequence    = "transfer.sequence"
	AttrOffset      = "transfer.offset"
	AttrLength      = "transfer.length"
	AttrBytes       = "transfer.bytes"
	AttrChunks      = "transfer.chunks"
	AttrEOF         = "transfer.eof"

	// ========================================================================
	// Progress attributes
	// ========================================================================
	AttrProgressState = "progress.state"
	AttrSubscribers   = "progress.subscribers"
	AttrDropped       = "progress.dropped"

	// ========================================================================
	// Gateway attributes (WebSocket front)
	// ========================================================================
	AttrWSRemote  = "ws.remote"
	AttrWSMsgType = "ws.message_type"

	// ========================================================================
	// Storage backend attributes
	// ========================================================================
	AttrStoreBackend = "store.backend"
	AttrBucket       = "storage.bucket"
	AttrKey          = "storage.key"
	AttrRegion       = "storage.region"
	AttrUploadID     = "storage.upload_id"
	AttrPartIndex    = "storage.part_index"
)

// Span names for operations.
// Format: <front>.<operation> for transport spans
// Format: <component>.<operation> for internal operations
const (
	// ========================================================================
	// RPC front spans
	// ========================================================================

	// Root span for RPC request processing. Per-procedure spans are named
	// "rpc." plus the wire procedure name by StartProcSpan.
	SpanRPCRequest = "rpc.request"

	// ========================================================================
	// Gateway spans (WebSocket front)
	// ========================================================================
	SpanGatewayRequest   = "gateway.request"
	SpanGatewaySubscribe = "gateway.subscribe"

	// ========================================================================
	// Internal storage operations
	// ========================================================================
	SpanStorePut               = "store.put"
	SpanStoreGet               = "store.get"
	SpanStoreHead              = "store.head"
	SpanStoreList              = "store.list"
	SpanStoreDelete            = "store.delete"
	SpanStorePresign           = "store.presign"
	SpanStoreMultipartCreate   = "store.multipart_create"
	SpanStoreMultipartPart     = "store.multipart_part"
	SpanStoreMultipartComplete = "store.multipart_complete"
	SpanStoreMultipartAbort    = "store.multipart_abort"

	// ========================================================================
	// Transfer service operations
	// ========================================================================
	SpanTransferInitiate = "transfer.initiate"
	SpanTransferCommit   = "transfer.commit"
	SpanTransferAbort    = "transfer.abort"
	SpanTransferDownload = "transfer.download"

	// ========================================================================
	// Progress hub operations
	// ========================================================================
	SpanProgressPublish   = "progress.publish"
	SpanProgressSubscribe = "progress.subscribe"
)

// ClientIP returns an attribute for client IP address
func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

// ClientAddr returns an attribute for full client address
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// RPCXID returns an attribute for RPC transaction ID
func RPCXID(xid uint32) attribute.KeyValue {
	return attribute.Int64(AttrRPCXID, int64(xid))
}

// RPCProcedure returns an attribute for RPC procedure name
func RPCProcedure(name string) attribute.KeyValue {
	return attribute.String(AttrRPCProcedure, name)
}

// RPCStatus returns an attribute for RPC reply status code
func RPCStatus(status int) attribute.KeyValue {
	return attribute.Int(AttrRPCStatus, status)
}

// App returns an attribute for application identifier
func App(app string) attribute.KeyValue {
	return attribute.String(AttrApp, app)
}

// Version returns an attribute for artifact version
func Version(version string) attribute.KeyValue {
	return attribute.String(AttrVersion, version)
}

// Platform returns an attribute for target platform
func Platform(platform string) attribute.KeyValue {
	return attribute.String(AttrPlatform, platform)
}

// Filename returns an attribute for artifact filename
func Filename(name string) attribute.KeyValue {
	return attribute.String(AttrFilename, name)
}

// Size returns an attribute for artifact size in bytes
func Size(size int64) attribute.KeyValue {
	return attribute.Int64(AttrSize, size)
}

// Digest returns an attribute for artifact content digest
func Digest(digest string) attribute.KeyValue {
	return attribute.String(AttrDigest, digest)
}

// SessionID returns an attribute for upload session ID
func SessionID(id string) attribute.KeyValue {
	return attribute.String(AttrSessionID, id)
}

// OperationID returns an attribute for progress operation ID
func OperationID(id string) attribute.KeyValue {
	return attribute.String(AttrOperationID, id)
}

// Mode returns an attribute for upload mode (direct, multipart)
func Mode(mode string) attribute.KeyValue {
	return attribute.String(AttrMode, mode)
}

// Sequence returns an attribute for chunk or frame sequence number
func Sequence(seq uint64) attribute.KeyValue {
	return attribute.Int64(AttrSequence, int64(seq))
}

// Offset returns an attribute for byte offset
func Offset(offset int64) attribute.KeyValue {
	return attribute.Int64(AttrOffset, offset)
}

// Length returns an attribute for requested byte length
func Length(length int64) attribute.KeyValue {
	return attribute.Int64(AttrLength, length)
}

// Bytes returns an attribute for transferred byte count
func Bytes(n int64) attribute.KeyValue {
	return attribute.Int64(AttrBytes, n)
}

// Chunks returns an attribute for accepted chunk count
func Chunks(n uint64) attribute.KeyValue {
	return attribute.Int64(AttrChunks, int64(n))
}

// EOF returns an attribute for final-frame indicator
func EOF(eof bool) attribute.KeyValue {
	return attribute.Bool(AttrEOF, eof)
}

// ProgressState returns an attribute for progress record state
func ProgressState(state string) attribute.KeyValue {
	return attribute.String(AttrProgressState, state)
}

// Subscribers returns an attribute for live subscriber count
func Subscribers(n int) attribute.KeyValue {
	return attribute.Int(AttrSubscribers, n)
}

// StoreBackend returns an attribute for object store backend type
func StoreBackend(backend string) attribute.KeyValue {
	return attribute.String(AttrStoreBackend, backend)
}

// Bucket returns an attribute for bucket name
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// StorageKey returns an attribute for object key
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// Region returns an attribute for cloud region
func Region(region string) attribute.KeyValue {
	return attribute.String(AttrRegion, region)
}

// UploadID returns an attribute for multipart upload ID
func UploadID(id string) attribute.KeyValue {
	return attribute.String(AttrUploadID, id)
}

// PartIndex returns an attribute for multipart part index
func PartIndex(index int32) attribute.KeyValue {
	return attribute.Int(AttrPartIndex, int(index))
}

// StartProcSpan starts a span for an RPC procedure. The procedure is the
// bare wire name (for example "UPLOAD_CHUNK").
func StartProcSpan(ctx context.Context, procedure string, xid uint32, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		RPCProcedure(procedure),
		RPCXID(xid),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "rpc."+procedure, trace.WithAttributes(allAttrs...))
}

// StartStoreSpan starts a span for an object store operation. The span name
// is one of the SpanStore constants.
func StartStoreSpan(ctx context.Context, span string, key string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		StorageKey(key),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, span, trace.WithAttributes(allAttrs...))
}

// StartTransferSpan starts a span for a transfer service operation. The
// span name is one of the SpanTransfer constants.
func StartTransferSpan(ctx context.Context, span string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, span, trace.WithAttributes(attrs...))
}

// StartProgressSpan starts a span for a progress hub operation. The span
// name is one of the SpanProgress constants.
func StartProgressSpan(ctx context.Context, span string, operationID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		OperationID(operationID),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, span, trace.WithAttributes(allAttrs...))
}

// StartGatewaySpan starts a span for a gateway operation. The span name is
// one of the SpanGateway constants.
func StartGatewaySpan(ctx context.Context, span string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, span, trace.WithAttributes(attrs...))
}
