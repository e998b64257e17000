/*
 * Copyright 2026 The SharedMemory Authors
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

package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Packet header layout (64 bytes, host order; the supported platforms are
// all little-endian, so little-endian is the shared native order):
// uint8  msgType       // enum MsgType
// uint64 msgID         // monotonic per originating peer
// int32  payloadSize   // total reassembled payload length
// uint16 currentPacket // 1-indexed
// uint16 totalPackets
// uint64 responseID    // msg id being answered; zero for requests
// remaining bytes are zero padding
const HeaderSize = 64

// ProtocolVersion selects the on-wire header layout.
type ProtocolVersion uint8

// V1 is the only defined protocol version.
const V1 ProtocolVersion = 1

// MsgType discriminates the three packet kinds.
type MsgType uint8

const (
	MsgTypeRequest  MsgType = 1
	MsgTypeResponse MsgType = 2
	MsgTypeError    MsgType = 3
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeRequest:
		return "REQUEST"
	case MsgTypeResponse:
		return "RESPONSE"
	case MsgTypeError:
		return "ERROR"
	default:
		return fmt.Sprintf("MsgType(%d)", uint8(t))
	}
}

// Header is the decoded form of the 64-byte packet header.
type Header struct {
	MsgType       MsgType
	MsgID         uint64
	PayloadSize   int32
	CurrentPacket uint16
	TotalPackets  uint16
	ResponseID    uint64
}

func encodeHeaderTo(dst *[HeaderSize]byte, h Header) {
	b := dst[:]
	for i := range b {
		b[i] = 0
	}
	b[0] = byte(h.MsgType)
	binary.LittleEndian.PutUint64(b[1:9], h.MsgID)
	binary.LittleEndian.PutUint32(b[9:13], uint32(h.PayloadSize))
	binary.LittleEndian.PutUint16(b[13:15], h.CurrentPacket)
	binary.LittleEndian.PutUint16(b[15:17], h.TotalPackets)
	binary.LittleEndian.PutUint64(b[17:25], h.ResponseID)
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, errors.New("packet header too short")
	}
	var h Header
	h.MsgType = MsgType(b[0])
	switch h.MsgType {
	case MsgTypeRequest, MsgTypeResponse, MsgTypeError:
	default:
		return Header{}, fmt.Errorf("unknown message type %d", b[0])
	}
	h.MsgID = binary.LittleEndian.Uint64(b[1:9])
	h.PayloadSize = int32(binary.LittleEndian.Uint32(b[9:13]))
	h.CurrentPacket = binary.LittleEndian.Uint16(b[13:15])
	h.TotalPackets = binary.LittleEndian.Uint16(b[15:17])
	h.ResponseID = binary.LittleEndian.Uint64(b[17:25])
	return h, nil
}

// packetCount returns the number of packets a payload fragments into.
// An empty payload is still carried by one packet.
func packetCount(payloadLen, msgBufferLength int) int {
	if payloadLen == 0 {
		return 1
	}
	return (payloadLen + msgBufferLength - 1) / msgBufferLength
}

// packetPayloadSize returns how many payload bytes the packet described
// by h carries. The last packet carries whatever the earlier full packets
// did not, so a payload that is an exact multiple of msgBufferLength gets
// a full final packet rather than an empty one.
func packetPayloadSize(h Header, msgBufferLength int) int {
	payload := int(h.PayloadSize)
	if payload < msgBufferLength {
		return payload
	}
	if int(h.CurrentPacket) < int(h.TotalPackets) {
		return msgBufferLength
	}
	return payload - msgBufferLength*(int(h.TotalPackets)-1)
}
