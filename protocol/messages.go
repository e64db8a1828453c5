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
	"fmt"
	"hash/crc32"

	"github.com/wglass/kiel/compression"
)

// Compression identifies the codec stored in the low two bits of a message's
// attributes field.
type Compression int8

// The codecs understood by this client.
const (
	CompressionNone   Compression = 0
	CompressionGzip   Compression = 1
	CompressionSnappy Compression = 2
)

// compressionMask selects the codec bits of the attributes field.
const compressionMask = 0x03

// placeholderOffset is the offset value sent for produced messages; real
// offsets are assigned by the broker.
const placeholderOffset = -1

// Message is a single Kafka message:
//
//	Message =>
//	  crc => Int32
//	  magic => Int8
//	  attributes => Int8
//	  key => Bytes
//	  value => Bytes
//
// The Offset field is not part of the message itself but of its slot in the
// containing message set.
type Message struct {
	Offset     int64
	Magic      int8
	Attributes int8
	Key        []byte
	Value      []byte
}

// Compression returns the codec encoded in the message's attributes.
func (m *Message) Compression() Compression {
	return Compression(m.Attributes & compressionMask)
}

// Encode renders the message with its CRC32 computed over magic..value.
func (m *Message) Encode(e *Encoder) {
	body := NewEncoder()
	body.PutInt8(m.Magic)
	body.PutInt8(m.Attributes)
	body.PutBytes(m.Key)
	body.PutBytes(m.Value)

	payload := body.Bytes()

	// the int32 cast wraps checksums >= 2^31 into negative space, matching
	// the signed crc field on the wire
	e.PutInt32(int32(crc32.ChecksumIEEE(payload)))
	e.PutRaw(payload)
}

func (m *Message) decode(d *Decoder) error {
	d.Int32() // crc, not verified on the consume path
	m.Magic = d.Int8()
	m.Attributes = d.Int8()
	m.Key = d.Bytes()
	m.Value = d.Bytes()
	return d.Err()
}

// MessageSet is an ordered batch of messages:
//
//	MessageSet =>
//	  size => Int32
//	  items => [offset => Int64 | message_size => Int32 | Message]
//
// A set may be nested: compressing a set yields a new single-message set
// whose value holds the compressed rendering of the original items.
type MessageSet struct {
	Messages []*Message
}

// NewMessageSet builds a message set for producing, applying the given
// codec. Without compression every message is carried as-is with a
// placeholder offset. With compression the plain items are rendered,
// compressed, and wrapped as the value of a single container message whose
// attributes carry the codec.
func NewMessageSet(codec Compression, messages []*Message) (*MessageSet, error) {
	for _, message := range messages {
		message.Offset = placeholderOffset
	}

	if codec == CompressionNone {
		return &MessageSet{Messages: messages}, nil
	}

	e := NewEncoder()
	plain := &MessageSet{Messages: messages}
	plain.encodeItems(e)

	var compressed []byte
	var err error

	switch codec {
	case CompressionGzip:
		compressed, err = compression.GzipCompress(e.Bytes())
	case CompressionSnappy:
		compressed, err = compression.SnappyCompress(e.Bytes())
	default:
		return nil, fmt.Errorf("unknown compression codec %d", codec)
	}
	if err != nil {
		return nil, err
	}

	container := &Message{
		Offset:     placeholderOffset,
		Magic:      0,
		Attributes: int8(codec),
		Value:      compressed,
	}

	return &MessageSet{Messages: []*Message{container}}, nil
}

// Encode renders the set prefixed with its int32 total size.
func (ms *MessageSet) Encode(e *Encoder) {
	e.PushLength()
	ms.encodeItems(e)
	e.PopLength()
}

// encodeItems renders the set's items without the size prefix; nested
// compressed sets are stored in this form.
func (ms *MessageSet) encodeItems(e *Encoder) {
	for _, message := range ms.Messages {
		e.PutInt64(message.Offset)
		e.PushLength()
		message.Encode(e)
		e.PopLength()
	}
}

// Decode parses a size-prefixed message set.
func (ms *MessageSet) Decode(d *Decoder) error {
	size := d.Int32()
	if err := d.Err(); err != nil {
		return err
	}
	return ms.decodeItems(d, int(size))
}

// decodeItems parses size bytes worth of set items. Trailing messages cut
// off at the broker's max_bytes boundary are tolerated: parsing stops and
// the messages decoded so far are kept. Compressed messages are expanded
// recursively and their contents flattened into the list in order.
func (ms *MessageSet) decodeItems(d *Decoder, size int) error {
	if size > d.Remaining() {
		size = d.Remaining()
	}
	end := d.off + size

	for d.off < end {
		if end-d.off < 12 {
			break // truncated item header
		}
		offset := d.Int64()
		messageSize := d.Int32()
		if int(messageSize) > end-d.off {
			break // truncated trailing message
		}

		message := &Message{Offset: offset}
		sub := NewDecoder(d.raw[d.off : d.off+int(messageSize)])
		d.off += int(messageSize)
		if err := message.decode(sub); err != nil {
			break
		}

		codec := message.Compression()
		if codec == CompressionNone {
			ms.Messages = append(ms.Messages, message)
			continue
		}

		var value []byte
		var err error
		switch codec {
		case CompressionGzip:
			value, err = compression.GzipDecompress(message.Value)
		case CompressionSnappy:
			value, err = compression.SnappyDecompress(message.Value)
		default:
			err = fmt.Errorf("unknown compression codec %d", codec)
		}
		if err != nil {
			return err
		}

		nested := &MessageSet{}
		inner := NewDecoder(value)
		if err := nested.decodeItems(inner, len(value)); err != nil {
			return err
		}
		ms.Messages = append(ms.Messages, nested.Messages...)
	}

	d.off = end
	return nil
}
