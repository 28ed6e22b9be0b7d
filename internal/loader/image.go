// Copyright 2024 Google LLC
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

package loader

import (
	"encoding/binary"
	"fmt"

	"github.com/go-restruct/restruct"
	"github.com/kcore-project/kcore/internal/kerr"
)

// Magic is the first word of every executable image: "KCOF" little endian.
const Magic = uint32(0x464F434B)

const Version = uint16(1)

// header is the fixed-size prefix of an image. The entry point name and the
// literal table follow it, in that order.
type header struct {
	Magic             uint32 `struct:"uint32"`
	Version           uint16 `struct:"uint16"`
	EntryLength       uint16 `struct:"uint16"`
	LiteralTableBytes uint32 `struct:"uint32"`
}

type literal struct {
	Length uint32 `struct:"uint32,sizeof=Text"`
	Text   []byte
}

type literalTable struct {
	Count    uint32 `struct:"uint32,sizeof=Literals"`
	Literals []literal
}

var headerSize = func() int {
	n, err := restruct.SizeOf(&header{})
	if err != nil {
		panic(err)
	}
	return n
}()

// Build encodes an image that starts entry with the given literal table.
func Build(entry string, literals []string) (data []byte, err error) {
	if entry == "" {
		err = fmt.Errorf("empty entry point: %w", kerr.ErrInvalidArgument)
		return
	}

	if len(entry) > 0xFFFF {
		err = fmt.Errorf("entry point of %d bytes is too long: %w", len(entry), kerr.ErrInvalidArgument)
		return
	}

	table := literalTable{}
	for _, l := range literals {
		table.Literals = append(table.Literals, literal{Text: []byte(l)})
	}

	tableBytes, err := restruct.Pack(binary.LittleEndian, &table)
	if err != nil {
		err = fmt.Errorf("pack literal table: %w", err)
		return
	}

	h := header{
		Magic:             Magic,
		Version:           Version,
		EntryLength:       uint16(len(entry)),
		LiteralTableBytes: uint32(len(tableBytes)),
	}

	headerBytes, err := restruct.Pack(binary.LittleEndian, &h)
	if err != nil {
		err = fmt.Errorf("pack header: %w", err)
		return
	}

	data = make([]byte, 0, len(headerBytes)+len(entry)+len(tableBytes))
	data = append(data, headerBytes...)
	data = append(data, entry...)
	data = append(data, tableBytes...)
	return
}

// checkLiteralTable walks the length prefixes of an encoded literal table so
// that no count or length read from the image can exceed the table itself.
func checkLiteralTable(b []byte) error {
	if len(b) < 4 {
		return fmt.Errorf("truncated literal table: %w", kerr.ErrLoad)
	}

	count := binary.LittleEndian.Uint32(b)
	off := 4
	for i := uint32(0); i < count; i++ {
		if len(b)-off < 4 {
			return fmt.Errorf("literal %d: truncated length: %w", i, kerr.ErrLoad)
		}

		n := binary.LittleEndian.Uint32(b[off:])
		off += 4
		if uint64(n) > uint64(len(b)-off) {
			return fmt.Errorf("literal %d: %d bytes overrun the table: %w", i, n, kerr.ErrLoad)
		}
		off += int(n)
	}

	if off != len(b) {
		return fmt.Errorf("%d trailing bytes after the literal table: %w", len(b)-off, kerr.ErrLoad)
	}

	return nil
}

// Decode parses an image. The literal table size is checked against
// maxLiteralTableBytes before the table itself is decoded. All failures wrap
// kerr.ErrLoad.
func Decode(data []byte, maxLiteralTableBytes int64) (entry string, literals []string, err error) {
	if len(data) < headerSize {
		err = fmt.Errorf("image of %d bytes is shorter than its header: %w", len(data), kerr.ErrLoad)
		return
	}

	var h header
	if err = restruct.Unpack(data[:headerSize], binary.LittleEndian, &h); err != nil {
		err = fmt.Errorf("unpack header: %w: %w", kerr.ErrLoad, err)
		return
	}

	if h.Magic != Magic {
		err = fmt.Errorf("bad magic %#x: %w", h.Magic, kerr.ErrLoad)
		return
	}

	if h.Version != Version {
		err = fmt.Errorf("unsupported version %d: %w", h.Version, kerr.ErrLoad)
		return
	}

	if int64(h.LiteralTableBytes) > maxLiteralTableBytes {
		err = fmt.Errorf("literal table of %d bytes exceeds %d: %w", h.LiteralTableBytes, maxLiteralTableBytes, kerr.ErrLoad)
		return
	}

	want := headerSize + int(h.EntryLength) + int(h.LiteralTableBytes)
	if len(data) != want {
		err = fmt.Errorf("image is %d bytes, header describes %d: %w", len(data), want, kerr.ErrLoad)
		return
	}

	if h.EntryLength == 0 {
		err = fmt.Errorf("empty entry point: %w", kerr.ErrLoad)
		return
	}

	body := data[headerSize:]
	entry = string(body[:h.EntryLength])

	tableBytes := body[h.EntryLength:]
	if err = checkLiteralTable(tableBytes); err != nil {
		return
	}

	var table literalTable
	if err = restruct.Unpack(tableBytes, binary.LittleEndian, &table); err != nil {
		err = fmt.Errorf("unpack literal table: %w: %w", kerr.ErrLoad, err)
		return
	}

	for _, l := range table.Literals {
		literals = append(literals, string(l.Text))
	}

	return
}
