package rpc

import (
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	headers := []Header{
		{MsgType: MsgTypeRequest, MsgID: 1, PayloadSize: 0, CurrentPacket: 1, TotalPackets: 1},
		{MsgType: MsgTypeResponse, MsgID: 42, PayloadSize: 1024, CurrentPacket: 2, TotalPackets: 3, ResponseID: 41},
		{MsgType: MsgTypeError, MsgID: 1<<64 - 1, PayloadSize: 1<<31 - 1, CurrentPacket: 65535, TotalPackets: 65535, ResponseID: 1<<64 - 1},
	}

	for _, want := range headers {
		var buf [HeaderSize]byte
		encodeHeaderTo(&buf, want)

		got, err := decodeHeader(buf[:])
		if err != nil {
			t.Fatalf("decode(%+v) failed: %v", want, err)
		}
		if got != want {
			t.Fatalf("round trip mismatch: encoded %+v, decoded %+v", want, got)
		}
	}
}

func TestDecodeHeaderRejectsUnknownType(t *testing.T) {
	var buf [HeaderSize]byte
	encodeHeaderTo(&buf, Header{MsgType: MsgTypeRequest, MsgID: 1, CurrentPacket: 1, TotalPackets: 1})
	buf[0] = 99

	if _, err := decodeHeader(buf[:]); err == nil {
		t.Fatal("expected error for unknown message type")
	}
}

func TestDecodeHeaderRejectsShortInput(t *testing.T) {
	if _, err := decodeHeader(make([]byte, HeaderSize-1)); err == nil {
		t.Fatal("expected error for short header")
	}
}

func TestPacketCount(t *testing.T) {
	const msgBufLen = 448

	cases := []struct {
		payloadLen int
		want       int
	}{
		{0, 1},
		{1, 1},
		{msgBufLen - 1, 1},
		{msgBufLen, 1},
		{msgBufLen + 1, 2},
		{2 * msgBufLen, 2},
		{2*msgBufLen + 1, 3},
		{1024, 3},
	}

	for _, c := range cases {
		if got := packetCount(c.payloadLen, msgBufLen); got != c.want {
			t.Errorf("packetCount(%d, %d) = %d, want %d", c.payloadLen, msgBufLen, got, c.want)
		}
	}
}

func TestPacketPayloadSize(t *testing.T) {
	const msgBufLen = 448

	cases := []struct {
		name    string
		payload int32
		cur     uint16
		total   uint16
		want    int
	}{
		{"empty", 0, 1, 1, 0},
		{"small", 100, 1, 1, 100},
		{"full single", 448, 1, 1, 448},
		{"middle of three", 1024, 2, 3, 448},
		{"remainder last", 1024, 3, 3, 1024 - 2*448},
		// An exact multiple must yield a full final packet, not zero.
		{"exact multiple last", 896, 2, 2, 448},
	}

	for _, c := range cases {
		h := Header{PayloadSize: c.payload, CurrentPacket: c.cur, TotalPackets: c.total}
		if got := packetPayloadSize(h, msgBufLen); got != c.want {
			t.Errorf("%s: packetPayloadSize = %d, want %d", c.name, got, c.want)
		}
	}
}
