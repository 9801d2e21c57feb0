package rpc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/freightcore/freightcore/internal/bufpool"
	"github.com/freightcore/freightcore/pkg/fault"
)

// CallHeaderSlack is the headroom a record needs on top of its chunk
// payload for the call header and XDR framing.
const CallHeaderSlack = 4 << 10

// DefaultMaxFragment bounds inbound record sizes when the caller does not
// supply a limit: the default chunk ceiling plus CallHeaderSlack.
const DefaultMaxFragment = (32 << 20) + CallHeaderSlack

// FragmentHeader represents a parsed record-marking fragment header.
//
// The fragment header is 4 bytes:
//   - Bit 31: Last fragment flag (1 = last, 0 = more fragments)
//   - Bits 0-30: Fragment length in bytes
type FragmentHeader struct {
	IsLast bool
	Length uint32
}

// ReadFragmentHeader reads and parses the 4-byte fragment header from the reader.
//
// Returns the parsed header or an error if reading fails. EOF errors are returned
// directly (not wrapped) to allow callers to detect normal peer disconnect.
func ReadFragmentHeader(r io.Reader) (*FragmentHeader, error) {
	var buf [4]byte
	_, err := io.ReadFull(r, buf[:])
	if err != nil {
		return nil, err
	}

	header := binary.BigEndian.Uint32(buf[:])
	return &FragmentHeader{
		IsLast: (header & 0x80000000) != 0,
		Length: header & 0x7FFFFFFF,
	}, nil
}

// ValidateFragmentSize checks the fragment length against the given maximum
// before any buffer is allocated for it. A max of 0 falls back to
// DefaultMaxFragment.
func ValidateFragmentSize(length, max uint32) error {
	if max == 0 {
		max = DefaultMaxFragment
	}
	if length > max {
		return fault.NewInvalidf("fragment of %d bytes exceeds the %d byte maximum", length, max)
	}
	return nil
}

// ReadMessage reads a message of the specified length using the buffer pool.
//
// The caller is responsible for returning the buffer to the pool via
// bufpool.Put() after processing is complete.
func ReadMessage(r io.Reader, length uint32) ([]byte, error) {
	message := bufpool.GetUint32(length)

	_, err := io.ReadFull(r, message)
	if err != nil {
		bufpool.Put(message)
		return nil, fmt.Errorf("read message: %w", err)
	}

	return message, nil
}

// AddRecordMark prepends the 4-byte record-marking header to a message.
func AddRecordMark(msg []byte, lastFragment bool) []byte {
	header := uint32(len(msg))
	if lastFragment {
		header |= 0x80000000
	}

	result := make([]byte, 4+len(msg))
	binary.BigEndian.PutUint32(result[0:4], header)
	copy(result[4:], msg)

	return result
}

// WriteRecord writes msg to w as a single complete record.
func WriteRecord(w io.Writer, msg []byte) error {
	if _, err := w.Write(AddRecordMark(msg, true)); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}
