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
	"testing"

	"github.com/trivago/tgo/ttesting"
)

func TestEncoderDecoderRoundTrip(t *testing.T) {
	expect := ttesting.NewExpect(t)

	e := NewEncoder()
	e.PutInt8(-8)
	e.PutInt16(-1600)
	e.PutInt32(-320000)
	e.PutInt64(-64000000000)
	e.PutString("test.topic")
	e.PutString("")
	e.PutBytes([]byte{0xde, 0xad, 0xbe, 0xef})
	e.PutBytes(nil)
	e.PutInt32Array([]int32{3, 1, 8})
	e.PutStringArray([]string{"foo", "bar"})

	d := NewDecoder(e.Bytes())
	expect.Equal(int8(-8), d.Int8())
	expect.Equal(int16(-1600), d.Int16())
	expect.Equal(int32(-320000), d.Int32())
	expect.Equal(int64(-64000000000), d.Int64())
	expect.Equal("test.topic", d.String())
	expect.Equal("", d.String())
	expect.Equal([]byte{0xde, 0xad, 0xbe, 0xef}, d.Bytes())

	var nilBytes []byte
	expect.Equal(nilBytes, d.Bytes())
	expect.Equal([]int32{3, 1, 8}, d.Int32Array())
	expect.Equal([]string{"foo", "bar"}, d.StringArray())

	expect.NoError(d.Err())
	expect.Equal(0, d.Remaining())
}

func TestEncoderLengthFields(t *testing.T) {
	expect := ttesting.NewExpect(t)

	e := NewEncoder()
	e.PushLength()
	e.PutInt32(1)
	e.PushLength()
	e.PutInt64(2)
	e.PopLength()
	e.PopLength()

	d := NewDecoder(e.Bytes())
	expect.Equal(int32(16), d.Int32()) // inner field + size field + payload
	expect.Equal(int32(1), d.Int32())
	expect.Equal(int32(8), d.Int32())
	expect.Equal(int64(2), d.Int64())
	expect.NoError(d.Err())
}

func TestDecoderInsufficientData(t *testing.T) {
	expect := ttesting.NewExpect(t)

	d := NewDecoder([]byte{0x00, 0x01})
	d.Int32()
	expect.Equal(ErrInsufficientData, d.Err())

	// sticky: further reads keep failing without panicking
	expect.Equal(int64(0), d.Int64())
	expect.Equal("", d.String())
	expect.Equal(ErrInsufficientData, d.Err())
}

func TestDecoderTruncatedString(t *testing.T) {
	expect := ttesting.NewExpect(t)

	e := NewEncoder()
	e.PutString("truncated")

	d := NewDecoder(e.Bytes()[:4])
	d.String()
	expect.Equal(ErrInsufficientData, d.Err())
}
