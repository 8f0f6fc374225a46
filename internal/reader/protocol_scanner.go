package reader

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"image/jpeg"
	"io"
)

// jpegSOI/jpegEOI are the start/end-of-image markers used to sanity-check a
// candidate payload during resync without doing a full decode.
var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// maxRecordSize bounds how large a single JPEG record is allowed to be,
// guarding the resync scanner against runaway allocations on a corrupted
// stream.
const maxRecordSize = 4 * 1024 * 1024

// protocolScanner decodes the record stream described in spec §4.A/§6: a
// 4-byte big-endian length prefix followed by N bytes of JPEG. Any parse
// deviation triggers resync: byte-at-a-time scanning until the next
// length-prefix whose payload decodes as a JPEG.
type protocolScanner struct {
	br       *bufio.Reader
	resyncing bool
}

func newProtocolScanner(br *bufio.Reader) *protocolScanner {
	return &protocolScanner{br: br}
}

// next returns the next JPEG payload, or (nil, nil) if this call only made
// resync progress and the caller should call again. It returns io.EOF once
// the underlying stream is exhausted cleanly.
func (s *protocolScanner) next() ([]byte, error) {
	if s.resyncing {
		return s.resyncStep()
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(s.br, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || n > maxRecordSize {
		s.resyncing = true
		return nil, nil
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(s.br, payload); err != nil {
		return nil, err
	}

	if !looksLikeJPEG(payload) {
		s.resyncing = true
		return nil, nil
	}

	return payload, nil
}

// resyncStep discards bytes one at a time until the stream looks like a
// valid length-prefix + JPEG record, then consumes and returns that record.
// It is intentionally byte-at-a-time so a single corrupted length field
// cannot desynchronize recovery further.
func (s *protocolScanner) resyncStep() ([]byte, error) {
	for {
		peek, err := s.br.Peek(4)
		if err != nil {
			if len(peek) < 4 {
				return nil, io.EOF
			}
			return nil, err
		}
		n := binary.BigEndian.Uint32(peek)
		if n > 0 && n <= maxRecordSize {
			candidate, err := s.br.Peek(4 + int(n))
			if err == nil && looksLikeJPEG(candidate[4:]) {
				if _, err := s.br.Discard(4 + int(n)); err != nil {
					return nil, err
				}
				s.resyncing = false
				return candidate[4:], nil
			}
		}
		if _, err := s.br.Discard(1); err != nil {
			return nil, io.EOF
		}
	}
}

// looksLikeJPEG performs a cheap structural check (SOI/EOI markers) then a
// real decode, matching the resync contract's "decode as a JPEG" wording.
func looksLikeJPEG(b []byte) bool {
	if len(b) < 4 || !bytes.HasPrefix(b, jpegSOI) || !bytes.HasSuffix(b, jpegEOI) {
		return false
	}
	_, err := jpeg.DecodeConfig(bytes.NewReader(b))
	return err == nil
}
