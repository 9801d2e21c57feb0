package rpc

// Wire argument and result structs, XDR-encoded in field order. Timestamps
// travel as Unix seconds; optional values carry an explicit presence flag
// as their union discriminant.

// Coordinate addresses an artifact on the wire.
type Coordinate struct {
	App      string
	Version  string
	Platform string
	Filename string
}

// ErrorBody is the reply body of every non-OK status.
type ErrorBody struct {
	Code    uint32
	Message string
}

// InitiateRequest opens an upload session.
type InitiateRequest struct {
	Coordinate     Coordinate
	DeclaredSize   int64
	ContentType    string
	ExpectedDigest string
}

// InitiateReply describes the opened session.
type InitiateReply struct {
	SessionID            string
	RecommendedChunkSize int64
	Multipart            bool
}

// UploadChunkRequest carries one chunk of session payload. Checksum is an
// optional CRC32-C over the payload; zero means not supplied.
type UploadChunkRequest struct {
	SessionID string
	Sequence  uint64
	IsFinal   bool
	Checksum  uint32
	Payload   []byte
}

// UploadChunkReply is the running ingest summary after the chunk.
type UploadChunkReply struct {
	SessionID      string
	ChunksAccepted uint64
	BytesReceived  int64
}

// CommitRequest finalizes a session. ExpectedDigest, when set, overrides
// the digest declared at initiation.
type CommitRequest struct {
	SessionID      string
	ExpectedDigest string
}

// CommitReply reports the stored object.
type CommitReply struct {
	Location string
	ETag     string
}

// AbortRequest cancels a session. The reply has no body.
type AbortRequest struct {
	SessionID string
	Reason    string
}

// DownloadRequest opens a frame stream for an artifact. HasRange selects
// the [RangeStart, RangeEnd) window; both offsets are ignored otherwise.
type DownloadRequest struct {
	Coordinate Coordinate
	HasRange   bool
	RangeStart int64
	RangeEnd   int64
}

// DownloadFrame is one reply record of a download stream. The final frame
// has IsFinal set and an empty payload.
type DownloadFrame struct {
	Sequence  uint64
	TotalSize int64
	IsFinal   bool
	Payload   []byte
}

// SignedURLRequest asks for a presigned download URL.
type SignedURLRequest struct {
	Coordinate Coordinate
	TTLSeconds uint32
}

// SignedURLReply carries the presigned URL and its expiry.
type SignedURLReply struct {
	URL           string
	ExpiresAtUnix int64
}

// HeadRequest fetches artifact metadata.
type HeadRequest struct {
	Coordinate Coordinate
}

// HeadReply is the artifact metadata.
type HeadReply struct {
	Key           string
	Size          int64
	ContentType   string
	ETag          string
	UpdatedAtUnix int64
}

// ListRequest pages through stored artifacts under a key prefix.
type ListRequest struct {
	Prefix string
	Cursor string
	Limit  int32
}

// ListEntry is one artifact in a listing page.
type ListEntry struct {
	Key           string
	Size          int64
	ContentType   string
	ETag          string
	UpdatedAtUnix int64
}

// ListReply is one page of a listing. NextCursor is empty on the last page.
type ListReply struct {
	Entries    []ListEntry
	NextCursor string
}

// DeleteRequest removes an artifact.
type DeleteRequest struct {
	Coordinate Coordinate
}

// DeleteReply reports whether the artifact existed.
type DeleteReply struct {
	Deleted bool
}

// SubscribeProgressRequest opens a snapshot stream for one operation.
type SubscribeProgressRequest struct {
	OperationID string
}

// ProgressSnapshot is one reply record of a progress stream. Status is one
// of in_progress, completed, or failed; the stream ends after a terminal
// snapshot. FinishedAtUnix is zero while the operation is live.
type ProgressSnapshot struct {
	OperationID    string
	Status         string
	BytesProcessed int64
	BytesTotal     int64
	SpeedBPS       float64
	ETASeconds     int64
	Message        string
	Error          string
	StartedAtUnix  int64
	UpdatedAtUnix  int64
	FinishedAtUnix int64
}
