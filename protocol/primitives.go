// Copyright 2015-2018 trivago N.V.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package protocol

import (
	"encoding/binary"
	"errors"
)

// ErrInsufficientData is the sticky decoder error used when a buffer ends
// before a value is complete. Message set parsing relies on it to detect
// responses truncated at the broker's max_bytes boundary.
var ErrInsufficientData = errors.New("insufficient data to decode packet")

// Encoder renders protocol values into a growing byte buffer. All integers
// are big-endian and signed, strings carry an int16 length prefix and byte
// blobs an int32 length prefix; a length of -1 denotes null.
type Encoder struct {
	buf   []byte
	sizes []int
}

// NewEncoder creates an empty Encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// PutInt8 appends a single signed byte.
func (e *Encoder) PutInt8(value int8) {
	e.buf = append(e.buf, byte(value))
}

// PutInt16 appends a big-endian signed 16-bit integer.
func (e *Encoder) PutInt16(value int16) {
	e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(value))
}

// PutInt32 appends a big-endian signed 32-bit integer.
func (e *Encoder) PutInt32(value int32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(value))
}

// PutInt64 appends a big-endian signed 64-bit integer.
func (e *Encoder) PutInt64(value int64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, uint64(value))
}

// PutString appends an int16 length prefix followed by the string's UTF-8
// bytes.
func (e *Encoder) PutString(value string) {
	e.PutInt16(int16(len(value)))
	e.buf = append(e.buf, value...)
}

// PutBytes appends an int32 length prefix followed by the raw bytes. A nil
// slice is rendered as the null length -1.
func (e *Encoder) PutBytes(value []byte) {
	if value == nil {
		e.PutInt32(-1)
		return
	}
	e.PutInt32(int32(len(value)))
	e.buf = append(e.buf, value...)
}

// PutRaw appends bytes verbatim, without any length prefix.
func (e *Encoder) PutRaw(value []byte) {
	e.buf = append(e.buf, value...)
}

// PutArrayLength appends the int32 element count that precedes array items.
func (e *Encoder) PutArrayLength(count int) {
	e.PutInt32(int32(count))
}

// PutInt32Array appends an array of 32-bit integers.
func (e *Encoder) PutInt32Array(values []int32) {
	e.PutArrayLength(len(values))
	for _, value := range values {
		e.PutInt32(value)
	}
}

// PutStringArray appends an array of strings.
func (e *Encoder) PutStringArray(values []string) {
	e.PutArrayLength(len(values))
	for _, value := range values {
		e.PutString(value)
	}
}

// PushLength reserves an int32 size field to be filled in by the matching
// PopLength call. Push/pop pairs may nest.
func (e *Encoder) PushLength() {
	e.sizes = append(e.sizes, len(e.buf))
	e.PutInt32(0)
}

// PopLength fills the most recently pushed size field with the number of
// bytes written since it was reserved.
func (e *Encoder) PopLength() {
	start := e.sizes[len(e.sizes)-1]
	e.sizes = e.sizes[:len(e.sizes)-1]

	size := len(e.buf) - start - 4
	binary.BigEndian.PutUint32(e.buf[start:], uint32(size))
}

// Bytes returns the rendered buffer.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Decoder parses protocol values out of a byte slice. The first failure
// sticks: once Err() is non-nil all further reads return zero values.
type Decoder struct {
	raw []byte
	off int
	err error
}

// NewDecoder creates a Decoder over the given buffer.
func NewDecoder(raw []byte) *Decoder {
	return &Decoder{raw: raw}
}

// Err returns the sticky decode error, if any.
func (d *Decoder) Err() error {
	return d.err
}

// Remaining returns the number of unconsumed bytes.
func (d *Decoder) Remaining() int {
	return len(d.raw) - d.off
}

func (d *Decoder) ensure(n int) bool {
	if d.err != nil {
		return false
	}
	if d.Remaining() < n {
		d.err = ErrInsufficientData
		return false
	}
	return true
}

// Int8 consumes a single signed byte.
func (d *Decoder) Int8() int8 {
	if !d.ensure(1) {
		return 0
	}
	value := int8(d.raw[d.off])
	d.off++
	return value
}

// Int16 consumes a big-endian signed 16-bit integer.
func (d *Decoder) Int16() int16 {
	if !d.ensure(2) {
		return 0
	}
	value := int16(binary.BigEndian.Uint16(d.raw[d.off:]))
	d.off += 2
	return value
}

// Int32 consumes a big-endian signed 32-bit integer.
func (d *Decoder) Int32() int32 {
	if !d.ensure(4) {
		return 0
	}
	value := int32(binary.BigEndian.Uint32(d.raw[d.off:]))
	d.off += 4
	return value
}

// Int64 consumes a big-endian signed 64-bit integer.
func (d *Decoder) Int64() int64 {
	if !d.ensure(8) {
		return 0
	}
	value := int64(binary.BigEndian.Uint64(d.raw[d.off:]))
	d.off += 8
	return value
}

// String consumes an int16-prefixed string. The null length -1 yields "".
func (d *Decoder) String() string {
	size := d.Int16()
	if size <= 0 {
		return ""
	}
	if !d.ensure(int(size)) {
		return ""
	}
	value := string(d.raw[d.off : d.off+int(size)])
	d.off += int(size)
	return value
}

// Bytes consumes an int32-prefixed byte blob. The null length -1 yields nil.
func (d *Decoder) Bytes() []byte {
	size := d.Int32()
	if size < 0 {
		return nil
	}
	if !d.ensure(int(size)) {
		return nil
	}
	value := make([]byte, size)
	copy(value, d.raw[d.off:])
	d.off += int(size)
	return value
}

// ArrayLength consumes the int32 element count preceding array items.
func (d *Decoder) ArrayLength() int {
	count := d.Int32()
	if count < 0 {
		return 0
	}
	return int(count)
}

// Int32Array consumes an array of 32-bit integers.
func (d *Decoder) Int32Array() []int32 {
	count := d.ArrayLength()
	values := make([]int32, 0, count)
	for i := 0; i < count; i++ {
		values = append(values, d.Int32())
	}
	return values
}

// StringArray consumes an array of strings.
func (d *Decoder) StringArray() []string {
	count := d.ArrayLength()
	values := make([]string, 0, count)
	for i := 0; i < count; i++ {
		values = append(values, d.String())
	}
	return values
}
