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
	"testing"

	"github.com/trivago/tgo/ttesting"
)

func TestGzipRoundTrip(t *testing.T) {
	expect := ttesting.NewExpect(t)

	data := []byte("the quick brown fox jumps over the lazy dog")

	compressed, err := GzipCompress(data)
	expect.NoError(err)

	decompressed, err := GzipDecompress(compressed)
	expect.NoError(err)
	expect.Equal(data, decompressed)
}

func TestSnappyRoundTrip(t *testing.T) {
	expect := ttesting.NewExpect(t)

	data := []byte("the quick brown fox jumps over the lazy dog")

	compressed, err := SnappyCompress(data)
	expect.NoError(err)

	decompressed, err := SnappyDecompress(compressed)
	expect.NoError(err)
	expect.Equal(data, decompressed)
}

func TestSnappyRoundTripMultipleBlocks(t *testing.T) {
	expect := ttesting.NewExpect(t)

	data := bytes.Repeat([]byte("0123456789abcdef"), 8192) // 128 KiB, 4 blocks

	compressed, err := SnappyCompress(data)
	expect.NoError(err)

	decompressed, err := SnappyDecompress(compressed)
	expect.NoError(err)
	expect.Equal(data, decompressed)
}

func TestSnappyFramingHeader(t *testing.T) {
	expect := ttesting.NewExpect(t)

	compressed, err := SnappyCompress([]byte("payload"))
	expect.NoError(err)

	header := []byte{
		0x82, 'S', 'N', 'A', 'P', 'P', 'Y', 0,
		0, 0, 0, 1,
		0, 0, 0, 1,
	}
	expect.Equal(header, compressed[:16])
}

func TestSnappyDecompressRejectsShortPayload(t *testing.T) {
	expect := ttesting.NewExpect(t)

	_, err := SnappyDecompress([]byte("SNAP"))
	expect.NotNil(err)
}

func TestGzipRejectsGarbage(t *testing.T) {
	expect := ttesting.NewExpect(t)

	_, err := GzipDecompress([]byte("definitely not gzip"))
	expect.NotNil(err)
}
