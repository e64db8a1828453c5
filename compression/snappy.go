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

package compression

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/golang/snappy"
)

const (
	snappyDefaultVersion   = 1
	snappyMinCompatVersion = 1

	// snappyBlockSize is the amount of input compressed per framed block.
	snappyBlockSize = 32 * 1024
)

// snappyHeader is the 16-byte magic header preceding framed snappy payloads:
// a marker byte, the string "SNAPPY", a zero byte and two int32 version
// fields.
var snappyHeader = []byte{
	0x82, 'S', 'N', 'A', 'P', 'P', 'Y', 0,
	0, 0, 0, snappyDefaultVersion,
	0, 0, 0, snappyMinCompatVersion,
}

// SnappyCompress compresses the given data with snappy, framed as repeated
// size-prefixed blocks behind the magic header.
func SnappyCompress(data []byte) ([]byte, error) {
	buffer := &bytes.Buffer{}
	buffer.Write(snappyHeader)

	for start := 0; start < len(data); start += snappyBlockSize {
		end := start + snappyBlockSize
		if end > len(data) {
			end = len(data)
		}
		block := snappy.Encode(nil, data[start:end])

		sizeField := [4]byte{}
		binary.BigEndian.PutUint32(sizeField[:], uint32(len(block)))
		buffer.Write(sizeField[:])
		buffer.Write(block)
	}

	return buffer.Bytes(), nil
}

// SnappyDecompress decompresses a framed snappy payload.
func SnappyDecompress(data []byte) ([]byte, error) {
	if len(data) < len(snappyHeader) {
		return nil, fmt.Errorf("snappy payload too short for framing header")
	}

	output := &bytes.Buffer{}
	offset := len(snappyHeader)

	for offset+4 <= len(data) {
		blockSize := int(binary.BigEndian.Uint32(data[offset:]))
		offset += 4
		if offset+blockSize > len(data) {
			return nil, fmt.Errorf("snappy block exceeds payload size")
		}

		block, err := snappy.Decode(nil, data[offset:offset+blockSize])
		if err != nil {
			return nil, err
		}
		output.Write(block)
		offset += blockSize
	}

	return output.Bytes(), nil
}
