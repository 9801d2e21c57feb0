// Package rpc implements the freight wire protocol: record-marked binary
// RPC over TCP in the style of RFC 5531, with XDR-encoded message bodies.
//
// Every message travels as one record: a 4-byte big-endian fragment header
// (bit 31 = last-fragment flag, bits 0-30 = length) followed by the message
// bytes. A call carries XID, message type, program, version, and procedure,
// then the XDR-encoded argument struct. A reply echoes the call's XID and
// carries a status word, then either the XDR-encoded result (StatusOK) or
// an ErrorBody. Streaming procedures write multiple reply records sharing
// the call's XID; the body marks the last one.
package rpc

import (
	"fmt"

	"github.com/freightcore/freightcore/pkg/fault"
)

// Program identifies the freight RPC program.
const Program uint32 = 0x20F7E101

// ProgramVersion is the only supported protocol version.
const ProgramVersion uint32 = 1

// Message types.
const (
	MsgCall  uint32 = 0
	MsgReply uint32 = 1
)

// Procedure numbers the operations of the freight program.
type Procedure uint32

const (
	ProcNull Procedure = iota
	ProcInitiate
	ProcUploadChunk
	ProcCommit
	ProcAbort
	ProcDownload
	ProcGetSignedURL
	ProcHead
	ProcList
	ProcDelete
	ProcSubscribeProgress
)

// procNames are the wire procedure names used in logs and span names.
var procNames = map[Procedure]string{
	ProcNull:              "NULL",
	ProcInitiate:          "INITIATE",
	ProcUploadChunk:       "UPLOAD_CHUNK",
	ProcCommit:            "COMMIT",
	ProcAbort:             "ABORT",
	ProcDownload:          "DOWNLOAD",
	ProcGetSignedURL:      "GET_SIGNED_URL",
	ProcHead:              "HEAD",
	ProcList:              "LIST",
	ProcDelete:            "DELETE",
	ProcSubscribeProgress: "SUBSCRIBE_PROGRESS",
}

func (p Procedure) String() string {
	if name, ok := procNames[p]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint32(p))
}

// Known reports whether p is a procedure of program version 1.
func (p Procedure) Known() bool {
	_, ok := procNames[p]
	return ok
}

// Status is the reply status word.
type Status uint32

const (
	StatusOK Status = iota
	StatusNotFound
	StatusInvalidArgument
	StatusFailedPrecondition
	StatusPermissionDenied
	StatusResourceExhausted
	StatusUnavailable
	StatusIntegrity
	StatusCancelled
	StatusInternal
)

var statusNames = map[Status]string{
	StatusOK:                 "OK",
	StatusNotFound:           "NotFound",
	StatusInvalidArgument:    "InvalidArgument",
	StatusFailedPrecondition: "FailedPrecondition",
	StatusPermissionDenied:   "PermissionDenied",
	StatusResourceExhausted:  "ResourceExhausted",
	StatusUnavailable:        "Unavailable",
	StatusIntegrity:          "Integrity",
	StatusCancelled:          "Cancelled",
	StatusInternal:           "Internal",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint32(s))
}

// Retryable reports whether the status advertises a retry to the caller.
// Only StatusUnavailable does.
func (s Status) Retryable() bool {
	return s == StatusUnavailable
}

// StatusFromError maps a service error onto the wire status.
func StatusFromError(err error) Status {
	if err == nil {
		return StatusOK
	}
	switch fault.CodeOf(err) {
	case fault.CodeNotFound:
		return StatusNotFound
	case fault.CodeInvalid:
		return StatusInvalidArgument
	case fault.CodeConflict:
		return StatusFailedPrecondition
	case fault.CodePermissionDenied:
		return StatusPermissionDenied
	case fault.CodeResourceExhausted:
		return StatusResourceExhausted
	case fault.CodeUnavailable:
		return StatusUnavailable
	case fault.CodeIntegrity:
		return StatusIntegrity
	case fault.CodeCancelled:
		return StatusCancelled
	default:
		return StatusInternal
	}
}

// ErrorFromStatus rebuilds the service-side error class on the client from
// a non-OK status and the ErrorBody message.
func ErrorFromStatus(s Status, message string) error {
	if s == StatusOK {
		return nil
	}
	if message == "" {
		message = s.String()
	}
	var code fault.Code
	switch s {
	case StatusNotFound:
		code = fault.CodeNotFound
	case StatusInvalidArgument:
		code = fault.CodeInvalid
	case StatusFailedPrecondition:
		code = fault.CodeConflict
	case StatusPermissionDenied:
		code = fault.CodePermissionDenied
	case StatusResourceExhausted:
		code = fault.CodeResourceExhausted
	case StatusUnavailable:
		code = fault.CodeUnavailable
	case StatusIntegrity:
		code = fault.CodeIntegrity
	case StatusCancelled:
		code = fault.CodeCancelled
	default:
		code = fault.CodeUnknown
	}
	return fault.Wrap(code, message, nil)
}
