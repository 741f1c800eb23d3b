package cloudcode

import (
	"bufio"
	"bytes"
	"io"

	"github.com/tidwall/gjson"

	"omni2api-go/internal/constants"
)

var (
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// UnwrapStream rewrites a v1internal SSE stream so each data line carries the
// bare Gemini payload instead of the {"response": …} wrapper. Non-data lines
// and unwrapped payloads pass through byte for byte.
func UnwrapStream(r io.Reader) io.Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, constants.SSEScannerInitialBufferSize), constants.SSEScannerMaxBufferSize)
	return &unwrapReader{sc: sc}
}

// StreamBody wraps an upstream SSE body so reads see unwrapped events while
// Close still reaches the underlying connection.
func StreamBody(rc io.ReadCloser) io.ReadCloser {
	return &streamBody{Reader: UnwrapStream(rc), closer: rc}
}

type streamBody struct {
	io.Reader
	closer io.Closer
}

func (s *streamBody) Close() error { return s.closer.Close() }

type unwrapReader struct {
	sc   *bufio.Scanner
	buf  bytes.Buffer
	done bool
	err  error
}

func (u *unwrapReader) Read(p []byte) (int, error) {
	for u.buf.Len() == 0 {
		if u.done {
			if u.err != nil {
				return 0, u.err
			}
			return 0, io.EOF
		}
		if !u.sc.Scan() {
			u.done = true
			u.err = u.sc.Err()
			continue
		}
		u.buf.Write(unwrapLine(u.sc.Bytes()))
		u.buf.WriteByte('\n')
	}
	return u.buf.Read(p)
}

func unwrapLine(line []byte) []byte {
	trimmed := bytes.TrimSpace(line)
	if !bytes.HasPrefix(trimmed, dataPrefix) {
		return line
	}
	payload := bytes.TrimSpace(trimmed[len(dataPrefix):])
	if len(payload) == 0 || bytes.Equal(payload, doneMarker) {
		return line
	}
	resp := gjson.GetBytes(payload, "response")
	if !resp.Exists() || !resp.IsObject() {
		return line
	}
	out := make([]byte, 0, len(dataPrefix)+1+len(resp.Raw))
	out = append(out, dataPrefix...)
	out = append(out, ' ')
	out = append(out, resp.Raw...)
	return out
}
