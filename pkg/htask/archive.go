package htask

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Archive is the serialization boundary SaveStart/LoadStart/SaveEnd/LoadEnd
// write into and read from.
// It carries the task's scalar parameters, gob-encoded, plus the list of
// out-of-band buffers (DataTransfer) that travel alongside them instead
// of through the scalar stream, so bulk payloads never pass through the
// encoder.
type Archive struct {
	buf       bytes.Buffer
	enc       *gob.Encoder
	dec       *gob.Decoder
	Transfers []DataTransfer
}

// NewSaveArchive returns an Archive ready for a SaveStart/SaveEnd pair to
// encode into.
func NewSaveArchive() *Archive {
	a := &Archive{}
	a.enc = gob.NewEncoder(&a.buf)
	return a
}

// NewLoadArchive returns an Archive primed to decode previously-encoded
// bytes, for a LoadStart/LoadEnd pair.
func NewLoadArchive(data []byte, transfers []DataTransfer) *Archive {
	a := &Archive{Transfers: transfers}
	a.buf.Write(data)
	a.dec = gob.NewDecoder(&a.buf)
	return a
}

// Put encodes v into the scalar stream.
func (a *Archive) Put(v any) error {
	if a.enc == nil {
		return fmt.Errorf("htask: archive not opened for save")
	}
	if err := a.enc.Encode(v); err != nil {
		return fmt.Errorf("htask: encode: %w", err)
	}
	return nil
}

// Get decodes the next value from the scalar stream into v.
func (a *Archive) Get(v any) error {
	if a.dec == nil {
		return fmt.Errorf("htask: archive not opened for load")
	}
	if err := a.dec.Decode(v); err != nil {
		return fmt.Errorf("htask: decode: %w", err)
	}
	return nil
}

// AddTransfer registers a buffer to travel alongside the scalar stream.
func (a *Archive) AddTransfer(t DataTransfer) { a.Transfers = append(a.Transfers, t) }

// Bytes returns the encoded scalar stream, for handing to the transport.
func (a *Archive) Bytes() []byte { return a.buf.Bytes() }
