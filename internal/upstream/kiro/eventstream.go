package kiro

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"

	"omni2api-go/internal/constants"
)

const (
	// preludeLen is total_len(4) + headers_len(4) + prelude_crc(4).
	preludeLen  = 12
	minFrameLen = preludeLen + 4
	// maxFrameLen bounds one frame and the read-ahead buffer. Frames carry
	// text deltas; anything near this size is corruption.
	maxFrameLen = 1 << 20
)

var errStreamCorrupt = errors.New("kiro: event stream unrecoverable after repeated frame errors")

// frameReader pulls binary frames out of the response body and survives
// corrupted stretches. A checksum mismatch advances one byte and rescans, a
// malformed frame skips its advertised length, and hitting the consecutive
// error cap abandons the stream.
type frameReader struct {
	r      *bufio.Reader
	dec    *eventstream.Decoder
	errRun int
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{
		r:   bufio.NewReaderSize(r, maxFrameLen),
		dec: eventstream.NewDecoder(),
	}
}

// next returns the following intact frame. io.EOF means the stream ended
// cleanly between frames.
func (f *frameReader) next() (eventstream.Message, error) {
	for {
		if f.errRun >= constants.EventStreamMaxConsecutiveErrors {
			return eventstream.Message{}, errStreamCorrupt
		}

		prelude, err := f.r.Peek(preludeLen)
		if err != nil {
			if errors.Is(err, io.EOF) && len(prelude) == 0 {
				return eventstream.Message{}, io.EOF
			}
			if errors.Is(err, io.EOF) {
				return eventstream.Message{}, io.ErrUnexpectedEOF
			}
			return eventstream.Message{}, err
		}

		total := int(binary.BigEndian.Uint32(prelude[:4]))
		if total < minFrameLen || total > maxFrameLen {
			f.errRun++
			_, _ = f.r.Discard(1)
			continue
		}

		frame, err := f.r.Peek(total)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return eventstream.Message{}, io.ErrUnexpectedEOF
			}
			return eventstream.Message{}, err
		}

		msg, derr := f.dec.Decode(bytes.NewReader(frame), nil)
		if derr == nil {
			_, _ = f.r.Discard(total)
			f.errRun = 0
			return msg, nil
		}

		f.errRun++
		var crcErr eventstream.ChecksumError
		if errors.As(derr, &crcErr) {
			// Frame boundary is suspect, resync byte by byte.
			_, _ = f.r.Discard(1)
		} else {
			_, _ = f.r.Discard(total)
		}
	}
}

// headerValue extracts a string header from frame headers.
func headerValue(headers eventstream.Headers, name string) string {
	v := headers.Get(name)
	if v == nil {
		return ""
	}
	if sv, ok := v.(eventstream.StringValue); ok {
		return string(sv)
	}
	return ""
}
