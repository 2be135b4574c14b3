package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// readBufferSize is the chunk size for socket reads.
const readBufferSize = 4096

// MaxFrameSize bounds a single line. A peer that streams more than this
// without a newline is violating the protocol; the session is torn down
// rather than buffering without limit.
const MaxFrameSize = 1 << 20

// ErrFrameTooLong reports a line longer than MaxFrameSize.
var ErrFrameTooLong = errors.New("frame exceeds maximum length")

// Decoder yields one complete line per call, buffering partial data across
// reads. Blank lines are skipped. A trailing fragment with no newline at end
// of stream is not a complete frame and is discarded.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps a byte stream for frame-at-a-time reading.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, readBufferSize)}
}

// Next returns the next non-blank line with the delimiter stripped. io.EOF
// signals a clean end of stream; any other error is a transport fault.
func (d *Decoder) Next() ([]byte, error) {
	for {
		line, err := d.readLine()
		if err != nil {
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
}

// readLine accumulates buffer-sized fragments until the delimiter, enforcing
// MaxFrameSize along the way.
func (d *Decoder) readLine() ([]byte, error) {
	var line []byte
	for {
		frag, err := d.r.ReadSlice('\n')
		line = append(line, frag...)
		if err == nil {
			return line, nil
		}
		if err == bufio.ErrBufferFull {
			if len(line) > MaxFrameSize {
				return nil, ErrFrameTooLong
			}
			continue
		}
		return nil, err
	}
}

// Encoder serializes envelopes onto a byte stream, one compact JSON object
// per line. Callers serialize access; the encoder itself holds no lock.
type Encoder struct {
	w io.Writer
}

// NewEncoder wraps a byte stream for frame-at-a-time writing.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one envelope followed by exactly one newline. The frame goes
// out in a single write so a send either completes fully or fails; no partial
// frame ever reaches the wire.
func (e *Encoder) Encode(env *Envelope) error {
	out := env
	if out.Payload == nil {
		clone := *env
		clone.Payload = map[string]any{}
		out = &clone
	}

	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	data = append(data, '\n')

	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
