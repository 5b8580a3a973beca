/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Binary protocol encoding for transaction marker requests.

FRAME FORMAT:
=============

	+--------+---------+--------+--------+-------------------+
	| Magic  | Version |   Op   | Flags  |  Length (4 bytes) |
	+--------+---------+--------+--------+-------------------+
	|               Binary Payload (Length bytes)            |
	+--------------------------------------------------------+

- Magic (1 byte): 0xAF - FlyMQ cluster protocol family
- Version (1 byte): protocol version (currently 0x01)
- Op (1 byte): 0x41 = write markers, 0x42 = write markers response
- Flags (1 byte): reserved, always 0x01 (binary)
- Length (4 bytes): payload length, big-endian

MARKER REQUEST PAYLOAD:
=======================

	[uint32 entry count]
	per entry:
	  [8 bytes]  producer id (int64)
	  [2 bytes]  producer epoch (int16)
	  [4 bytes]  coordinator epoch (int32)
	  [1 byte]   result (0x01=commit, 0x00=abort)
	  [uint32 partition count]
	  per partition:
	    [uint16 topic length][UTF-8 topic]
	    [4 bytes] partition index (int32)

MARKER RESPONSE PAYLOAD:
========================

	[uint32 entry count]
	per entry:
	  [8 bytes]  producer id (int64)
	  [uint32 partition count]
	  per partition:
	    [uint16 topic length][UTF-8 topic]
	    [4 bytes] partition index (int32)
	    [2 bytes] error code (int16, 0 = ok)

One request carries every marker destined for a single broker in this
sender pass; entries are grouped per (producer id, producer epoch).
*/
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Protocol constants define the wire format parameters.
const (
	// MagicByte identifies FlyMQ cluster protocol messages.
	MagicByte byte = 0xAF

	// ProtocolVersion is the current protocol version.
	ProtocolVersion byte = 0x01

	// FlagBinary marks the payload as binary encoded.
	FlagBinary byte = 0x01

	// MaxMessageSize limits payload size to prevent memory exhaustion.
	MaxMessageSize = 8 * 1024 * 1024 // 8MB

	// HeaderSize is the fixed size of the frame header in bytes.
	HeaderSize = 8
)

// Operation codes in the transaction range of the cluster protocol.
const (
	OpWriteMarkers         byte = 0x41
	OpWriteMarkersResponse byte = 0x42
)

// Marker partition error codes.
const (
	ErrNone             int16 = 0
	ErrNotLeader        int16 = 1
	ErrUnknownPartition int16 = 2
	ErrFencedEpoch      int16 = 3
)

var (
	ErrInvalidFormat = errors.New("invalid binary format")
	ErrBadMagic      = errors.New("bad magic byte")
	ErrBadVersion    = errors.New("unsupported protocol version")
	ErrTooLarge      = errors.New("message exceeds maximum size")
)

// PartitionRef identifies one topic partition on the wire.
type PartitionRef struct {
	Topic     string
	Partition int32
}

// MarkerEntry carries all markers for one producer destined to a broker.
type MarkerEntry struct {
	ProducerID       int64
	ProducerEpoch    int16
	CoordinatorEpoch int32
	Commit           bool
	Partitions       []PartitionRef
}

// MarkerRequest is one batched write-markers request for a single broker.
type MarkerRequest struct {
	Entries []MarkerEntry
}

// PartitionError is the per-partition outcome in a marker response.
type PartitionError struct {
	Topic     string
	Partition int32
	ErrCode   int16
}

// MarkerResponseEntry is the per-producer section of a marker response.
type MarkerResponseEntry struct {
	ProducerID int64
	Partitions []PartitionError
}

// MarkerResponse is a broker's reply to a write-markers request.
type MarkerResponse struct {
	Entries []MarkerResponseEntry
}

// EncodeMarkerRequest encodes a marker request payload.
func EncodeMarkerRequest(req *MarkerRequest) []byte {
	buf := make([]byte, 0, 64)
	buf = appendUint32(buf, uint32(len(req.Entries)))
	for _, e := range req.Entries {
		buf = appendInt64(buf, e.ProducerID)
		buf = appendInt16(buf, e.ProducerEpoch)
		buf = appendInt32(buf, e.CoordinatorEpoch)
		if e.Commit {
			buf = append(buf, 0x01)
		} else {
			buf = append(buf, 0x00)
		}
		buf = appendUint32(buf, uint32(len(e.Partitions)))
		for _, p := range e.Partitions {
			buf = appendString(buf, p.Topic)
			buf = appendInt32(buf, p.Partition)
		}
	}
	return buf
}

// DecodeMarkerRequest decodes a marker request payload.
func DecodeMarkerRequest(data []byte) (*MarkerRequest, error) {
	d := decoder{data: data}
	count := d.uint32()
	req := &MarkerRequest{}
	for i := uint32(0); i < count && d.err == nil; i++ {
		entry := MarkerEntry{
			ProducerID:       d.int64(),
			ProducerEpoch:    d.int16(),
			CoordinatorEpoch: d.int32(),
			Commit:           d.byte() == 0x01,
		}
		nParts := d.uint32()
		for j := uint32(0); j < nParts && d.err == nil; j++ {
			entry.Partitions = append(entry.Partitions, PartitionRef{
				Topic:     d.string(),
				Partition: d.int32(),
			})
		}
		req.Entries = append(req.Entries, entry)
	}
	if d.err != nil {
		return nil, fmt.Errorf("marker request: %w", d.err)
	}
	return req, nil
}

// EncodeMarkerResponse encodes a marker response payload.
func EncodeMarkerResponse(resp *MarkerResponse) []byte {
	buf := make([]byte, 0, 64)
	buf = appendUint32(buf, uint32(len(resp.Entries)))
	for _, e := range resp.Entries {
		buf = appendInt64(buf, e.ProducerID)
		buf = appendUint32(buf, uint32(len(e.Partitions)))
		for _, p := range e.Partitions {
			buf = appendString(buf, p.Topic)
			buf = appendInt32(buf, p.Partition)
			buf = appendInt16(buf, p.ErrCode)
		}
	}
	return buf
}

// DecodeMarkerResponse decodes a marker response payload.
func DecodeMarkerResponse(data []byte) (*MarkerResponse, error) {
	d := decoder{data: data}
	count := d.uint32()
	resp := &MarkerResponse{}
	for i := uint32(0); i < count && d.err == nil; i++ {
		entry := MarkerResponseEntry{ProducerID: d.int64()}
		nParts := d.uint32()
		for j := uint32(0); j < nParts && d.err == nil; j++ {
			entry.Partitions = append(entry.Partitions, PartitionError{
				Topic:     d.string(),
				Partition: d.int32(),
				ErrCode:   d.int16(),
			})
		}
		resp.Entries = append(resp.Entries, entry)
	}
	if d.err != nil {
		return nil, fmt.Errorf("marker response: %w", d.err)
	}
	return resp, nil
}

// WriteFrame writes a framed message to w.
func WriteFrame(w io.Writer, op byte, payload []byte) error {
	if len(payload) > MaxMessageSize {
		return ErrTooLarge
	}
	header := make([]byte, HeaderSize)
	header[0] = MagicByte
	header[1] = ProtocolVersion
	header[2] = op
	header[3] = FlagBinary
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one framed message from r.
func ReadFrame(r io.Reader) (op byte, payload []byte, err error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	if header[0] != MagicByte {
		return 0, nil, ErrBadMagic
	}
	if header[1] != ProtocolVersion {
		return 0, nil, ErrBadVersion
	}
	length := binary.BigEndian.Uint32(header[4:])
	if length > MaxMessageSize {
		return 0, nil, ErrTooLarge
	}
	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return header[2], payload, nil
}

// Append helpers, all big-endian.

func appendUint32(buf []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(buf, v)
}

func appendInt32(buf []byte, v int32) []byte {
	return binary.BigEndian.AppendUint32(buf, uint32(v))
}

func appendInt64(buf []byte, v int64) []byte {
	return binary.BigEndian.AppendUint64(buf, uint64(v))
}

func appendInt16(buf []byte, v int16) []byte {
	return binary.BigEndian.AppendUint16(buf, uint16(v))
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// decoder walks a payload, latching the first error.
type decoder struct {
	data []byte
	off  int
	err  error
}

func (d *decoder) need(n int) bool {
	if d.err != nil {
		return false
	}
	if d.off+n > len(d.data) {
		d.err = ErrInvalidFormat
		return false
	}
	return true
}

func (d *decoder) byte() byte {
	if !d.need(1) {
		return 0
	}
	v := d.data[d.off]
	d.off++
	return v
}

func (d *decoder) uint16() uint16 {
	if !d.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(d.data[d.off:])
	d.off += 2
	return v
}

func (d *decoder) int16() int16 {
	return int16(d.uint16())
}

func (d *decoder) uint32() uint32 {
	if !d.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(d.data[d.off:])
	d.off += 4
	return v
}

func (d *decoder) int32() int32 {
	return int32(d.uint32())
}

func (d *decoder) int64() int64 {
	if !d.need(8) {
		return 0
	}
	v := int64(binary.BigEndian.Uint64(d.data[d.off:]))
	d.off += 8
	return v
}

func (d *decoder) string() string {
	n := int(d.uint16())
	if !d.need(n) {
		return ""
	}
	s := string(d.data[d.off : d.off+n])
	d.off += n
	return s
}
