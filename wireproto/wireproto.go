// Copyright (C) 2026 KVCache Authors.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package wireproto implements the fixed-layout client/server control
// headers: eight little-endian int32 fields followed, for the client
// header, by a fixed 150-byte key field.
package wireproto

import (
	"encoding/binary"
	"fmt"

	"github.com/sneller-labs/kvcache/kvkey"
	"github.com/sneller-labs/kvcache/memobj"
)

// Command identifies a client request.
type Command int32

const (
	PUT   Command = 1
	GET   Command = 2
	EXIST Command = 3
	LIST  Command = 4
)

func (c Command) String() string {
	switch c {
	case PUT:
		return "PUT"
	case GET:
		return "GET"
	case EXIST:
		return "EXIST"
	case LIST:
		return "LIST"
	default:
		return fmt.Sprintf("Command(%d)", int32(c))
	}
}

// Code identifies a server response.
type Code int32

const (
	SUCCESS Code = 200
	FAIL    Code = 400
)

func (c Code) String() string {
	if c == SUCCESS {
		return "SUCCESS"
	}
	return "FAIL"
}

// KeyFieldSize is the fixed width, in bytes, of the client header's
// space-padded key field.
const KeyFieldSize = kvkey.MaxCanonicalLen

// ClientHeaderSize is the total wire size of a ClientHeader: eight int32
// fields (32 bytes) plus the 150-byte key field.
const ClientHeaderSize = 8*4 + KeyFieldSize // 182

// ServerHeaderSize is the total wire size of a ServerHeader: eight int32
// fields.
const ServerHeaderSize = 8 * 4 // 32

// ErrUnknownDtype is returned when decoding an int that has no inverse in
// the dtype mapping.
var ErrUnknownDtype = fmt.Errorf("wireproto: unknown dtype")

// ErrKeyTooLong is returned when a key's canonical encoding exceeds
// KeyFieldSize.
var ErrKeyTooLong = fmt.Errorf("wireproto: key exceeds %d bytes", KeyFieldSize)

// DtypeFromInt is the canonical inverse of the dtype mapping. 1 and 2
// both decode to Half (a deliberate duplicate entry); every other int
// decodes to exactly one dtype.
func DtypeFromInt(i int32) (memobj.Dtype, error) {
	switch i {
	case 1, 2:
		return memobj.Half, nil
	case 3:
		return memobj.BFloat16, nil
	case 4:
		return memobj.Float32, nil
	case 5:
		return memobj.Float64, nil
	case 6:
		return memobj.Uint8, nil
	case 7:
		return memobj.Float8E4M3, nil
	case 8:
		return memobj.Float8E5M2, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownDtype, i)
	}
}

// IntFromDtype is the forward direction of the dtype mapping. Half
// always encodes to 1; 2 is reserved and never produced.
func IntFromDtype(d memobj.Dtype) (int32, error) {
	switch d {
	case memobj.Half:
		return 1, nil
	case memobj.BFloat16:
		return 3, nil
	case memobj.Float32:
		return 4, nil
	case memobj.Float64:
		return 5, nil
	case memobj.Uint8:
		return 6, nil
	case memobj.Float8E4M3:
		return 7, nil
	case memobj.Float8E5M2:
		return 8, nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnknownDtype, d)
	}
}

// ClientHeader is the fixed-layout request control header sent by a
// connector ahead of any payload bytes.
type ClientHeader struct {
	Command Command
	Length  int32 // payload byte count; 0 for EXIST/LIST
	Format  memobj.MemoryFormat
	Dtype   memobj.Dtype
	Shape   memobj.Shape
	Key     kvkey.Key
}

// PackLength returns the on-wire size of a ClientHeader; it is constant.
func (ClientHeader) PackLength() int { return ClientHeaderSize }

// Marshal encodes h into its canonical 182-byte wire representation.
func (h ClientHeader) Marshal() ([]byte, error) {
	dt, err := IntFromDtype(h.Dtype)
	if err != nil {
		return nil, err
	}
	keyStr := h.Key.String()
	if len(keyStr) > KeyFieldSize {
		return nil, ErrKeyTooLong
	}
	buf := make([]byte, ClientHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Command))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.Length))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Format))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(dt))
	for i, d := range h.Shape {
		binary.LittleEndian.PutUint32(buf[16+4*i:20+4*i], uint32(d))
	}
	keyField := buf[32:ClientHeaderSize]
	for i := range keyField {
		keyField[i] = ' '
	}
	copy(keyField, keyStr)
	return buf, nil
}

// UnmarshalClientHeader decodes a 182-byte buffer produced by
// ClientHeader.Marshal. It is the exact inverse: for every legal header h,
// UnmarshalClientHeader(Marshal(h)) == h for every legal header h.
func UnmarshalClientHeader(buf []byte) (ClientHeader, error) {
	if len(buf) != ClientHeaderSize {
		return ClientHeader{}, fmt.Errorf("wireproto: client header is %d bytes, want %d", len(buf), ClientHeaderSize)
	}
	var h ClientHeader
	h.Command = Command(binary.LittleEndian.Uint32(buf[0:4]))
	h.Length = int32(binary.LittleEndian.Uint32(buf[4:8]))
	h.Format = memobj.MemoryFormat(binary.LittleEndian.Uint32(buf[8:12]))
	dt, err := DtypeFromInt(int32(binary.LittleEndian.Uint32(buf[12:16])))
	if err != nil {
		return ClientHeader{}, err
	}
	h.Dtype = dt
	for i := range h.Shape {
		h.Shape[i] = int64(int32(binary.LittleEndian.Uint32(buf[16+4*i : 20+4*i])))
	}
	keyStr := trimKeyPadding(buf[32:ClientHeaderSize])
	k, err := kvkey.FromString(keyStr)
	if err != nil {
		return ClientHeader{}, fmt.Errorf("wireproto: decoding key: %w", err)
	}
	h.Key = k
	return h, nil
}

func trimKeyPadding(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == ' ' {
		end--
	}
	return string(b[:end])
}

// ServerHeader is the fixed-layout response control header.
type ServerHeader struct {
	Code   Code
	Length int32
	Format memobj.MemoryFormat
	Dtype  memobj.Dtype
	Shape  memobj.Shape
}

// PackLength returns the on-wire size of a ServerHeader; it is constant.
func (ServerHeader) PackLength() int { return ServerHeaderSize }

// Marshal encodes h into its canonical 32-byte wire representation.
func (h ServerHeader) Marshal() ([]byte, error) {
	buf := make([]byte, ServerHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Code))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.Length))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Format))
	if h.Code == SUCCESS {
		dt, err := IntFromDtype(h.Dtype)
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint32(buf[12:16], uint32(dt))
	}
	for i, d := range h.Shape {
		binary.LittleEndian.PutUint32(buf[16+4*i:20+4*i], uint32(d))
	}
	return buf, nil
}

// UnmarshalServerHeader decodes a 32-byte buffer produced by
// ServerHeader.Marshal.
func UnmarshalServerHeader(buf []byte) (ServerHeader, error) {
	if len(buf) != ServerHeaderSize {
		return ServerHeader{}, fmt.Errorf("wireproto: server header is %d bytes, want %d", len(buf), ServerHeaderSize)
	}
	var h ServerHeader
	h.Code = Code(binary.LittleEndian.Uint32(buf[0:4]))
	h.Length = int32(binary.LittleEndian.Uint32(buf[4:8]))
	h.Format = memobj.MemoryFormat(binary.LittleEndian.Uint32(buf[8:12]))
	if h.Code == SUCCESS {
		dt, err := DtypeFromInt(int32(binary.LittleEndian.Uint32(buf[12:16])))
		if err != nil {
			return ServerHeader{}, err
		}
		h.Dtype = dt
	}
	for i := range h.Shape {
		h.Shape[i] = int64(int32(binary.LittleEndian.Uint32(buf[16+4*i : 20+4*i])))
	}
	return h, nil
}
