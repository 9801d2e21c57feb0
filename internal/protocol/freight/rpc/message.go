package rpc

import (
	"bytes"
	"encoding/binary"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/freightcore/freightcore/pkg/fault"
)

// Header sizes in bytes. A call is XID + msg type + program + version +
// procedure; a reply is XID + msg type + status.
const (
	callHeaderLen  = 20
	replyHeaderLen = 12
)

// CallHeader is the fixed part of a call message.
type CallHeader struct {
	XID       uint32
	Program   uint32
	Version   uint32
	Procedure Procedure
}

// ReplyHeader is the fixed part of a reply message.
type ReplyHeader struct {
	XID    uint32
	Status Status
}

// EncodeCall builds a call message for the given procedure. A nil args
// encodes a bodyless call (ProcNull, for example).
func EncodeCall(xid uint32, proc Procedure, args any) ([]byte, error) {
	var buf bytes.Buffer

	// XID
	if err := binary.Write(&buf, binary.BigEndian, xid); err != nil {
		return nil, fmt.Errorf("write xid: %w", err)
	}

	// Message type: CALL (0)
	if err := binary.Write(&buf, binary.BigEndian, MsgCall); err != nil {
		return nil, fmt.Errorf("write msg type: %w", err)
	}

	// Program number
	if err := binary.Write(&buf, binary.BigEndian, Program); err != nil {
		return nil, fmt.Errorf("write program: %w", err)
	}

	// Program version
	if err := binary.Write(&buf, binary.BigEndian, ProgramVersion); err != nil {
		return nil, fmt.Errorf("write version: %w", err)
	}

	// Procedure number
	if err := binary.Write(&buf, binary.BigEndian, uint32(proc)); err != nil {
		return nil, fmt.Errorf("write procedure: %w", err)
	}

	// Procedure arguments
	if args != nil {
		if _, err := xdr.Marshal(&buf, args); err != nil {
			return nil, fmt.Errorf("marshal %s args: %w", proc, err)
		}
	}

	return buf.Bytes(), nil
}

// DecodeCall splits a call message into its header and the undecoded
// argument bytes. Program and version are returned as-is so the dispatcher
// can reply with a proper status instead of dropping the connection.
func DecodeCall(msg []byte) (CallHeader, []byte, error) {
	if len(msg) < callHeaderLen {
		return CallHeader{}, nil, fault.NewInvalidf("call message of %d bytes is shorter than the %d byte header", len(msg), callHeaderLen)
	}

	if msgType := binary.BigEndian.Uint32(msg[4:8]); msgType != MsgCall {
		return CallHeader{}, nil, fault.NewInvalidf("message type %d is not a call", msgType)
	}

	hdr := CallHeader{
		XID:       binary.BigEndian.Uint32(msg[0:4]),
		Program:   binary.BigEndian.Uint32(msg[8:12]),
		Version:   binary.BigEndian.Uint32(msg[12:16]),
		Procedure: Procedure(binary.BigEndian.Uint32(msg[16:20])),
	}
	return hdr, msg[callHeaderLen:], nil
}

// EncodeReply builds a StatusOK reply carrying the XDR-encoded result. A
// nil result encodes a bodyless reply (Abort, for example).
func EncodeReply(xid uint32, result any) ([]byte, error) {
	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.BigEndian, xid); err != nil {
		return nil, fmt.Errorf("write xid: %w", err)
	}

	if err := binary.Write(&buf, binary.BigEndian, MsgReply); err != nil {
		return nil, fmt.Errorf("write msg type: %w", err)
	}

	if err := binary.Write(&buf, binary.BigEndian, uint32(StatusOK)); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}

	if result != nil {
		if _, err := xdr.Marshal(&buf, result); err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// EncodeErrorReply builds a non-OK reply for callErr, carrying an ErrorBody
// with the mapped status code and the error text. The mapped status is
// returned alongside the message for logging.
func EncodeErrorReply(xid uint32, callErr error) ([]byte, Status, error) {
	status := StatusFromError(callErr)

	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.BigEndian, xid); err != nil {
		return nil, status, fmt.Errorf("write xid: %w", err)
	}

	if err := binary.Write(&buf, binary.BigEndian, MsgReply); err != nil {
		return nil, status, fmt.Errorf("write msg type: %w", err)
	}

	if err := binary.Write(&buf, binary.BigEndian, uint32(status)); err != nil {
		return nil, status, fmt.Errorf("write status: %w", err)
	}

	body := ErrorBody{Code: uint32(status), Message: callErr.Error()}
	if _, err := xdr.Marshal(&buf, &body); err != nil {
		return nil, status, fmt.Errorf("marshal error body: %w", err)
	}

	return buf.Bytes(), status, nil
}

// DecodeReply splits a reply message into its header and the undecoded
// body bytes. On StatusOK the body is the result struct; otherwise it is
// an ErrorBody.
func DecodeReply(msg []byte) (ReplyHeader, []byte, error) {
	if len(msg) < replyHeaderLen {
		return ReplyHeader{}, nil, fault.NewInvalidf("reply message of %d bytes is shorter than the %d byte header", len(msg), replyHeaderLen)
	}

	if msgType := binary.BigEndian.Uint32(msg[4:8]); msgType != MsgReply {
		return ReplyHeader{}, nil, fault.NewInvalidf("message type %d is not a reply", msgType)
	}

	hdr := ReplyHeader{
		XID:    binary.BigEndian.Uint32(msg[0:4]),
		Status: Status(binary.BigEndian.Uint32(msg[8:12])),
	}
	return hdr, msg[replyHeaderLen:], nil
}

// DecodeError turns a non-OK reply body back into the service error class.
// The header status is authoritative; a malformed body degrades to the
// status name alone.
func DecodeError(status Status, body []byte) error {
	var eb ErrorBody
	if err := UnmarshalBody(body, &eb); err != nil {
		return ErrorFromStatus(status, "")
	}
	return ErrorFromStatus(status, eb.Message)
}

// UnmarshalBody decodes an XDR-encoded message body into v.
func UnmarshalBody(data []byte, v any) error {
	if _, err := xdr.Unmarshal(bytes.NewReader(data), v); err != nil {
		return fault.NewInvalidf("decode body: %s", err)
	}
	return nil
}
