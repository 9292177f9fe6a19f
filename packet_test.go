package tftp

import (
	"bytes"
	"testing"
)

func TestReadWriteRequestMarshal(t *testing.T) {
	tests := []struct {
		name     string
		req      ReadWriteRequest
		expected []byte
	}{
		{
			name: "simple read request",
			req: ReadWriteRequest{
				Op:       RRQ,
				Filename: "testfile.txt",
				Mode:     Octet,
			},
			expected: []byte{0, 1, 't', 'e', 's', 't', 'f', 'i', 'l', 'e', '.', 't', 'x', 't', 0, 'O', 'C', 'T', 'E', 'T', 0},
		},
		{
			name: "write request with options",
			req: ReadWriteRequest{
				Op:       WRQ,
				Filename: "outfile.bin",
				Mode:     Octet,
				Options:  optsFrom(t, "blksize", "1024", "timeout", "5"),
			},
			expected: []byte{0, 2, 'o', 'u', 't', 'f', 'i', 'l', 'e', '.', 'b', 'i', 'n', 0, 'O', 'C', 'T', 'E', 'T', 0,
				'b', 'l', 'k', 's', 'i', 'z', 'e', 0, '1', '0', '2', '4', 0, 't', 'i', 'm', 'e', 'o', 'u', 't', 0, '5', 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.req.Marshal()
			if !bytes.Equal(data, tt.expected) {
				t.Fatalf("marshal: expected %v, got %v", tt.expected, data)
			}

			got, leftover, err := decodeReadWriteRequest(tt.req.Op, data)
			if err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if leftover != "" {
				t.Errorf("unexpected leftover: %q", leftover)
			}
			if got.Filename != tt.req.Filename || got.Mode != tt.req.Mode {
				t.Errorf("round-trip mismatch: got %+v, want %+v", got, tt.req)
			}
			wantLen := 0
			if tt.req.Options != nil {
				wantLen = tt.req.Options.Len()
			}
			gotLen := 0
			if got.Options != nil {
				gotLen = got.Options.Len()
			}
			if gotLen != wantLen {
				t.Errorf("options count mismatch: expected %d, got %d", wantLen, gotLen)
			}
		})
	}
}

func optsFrom(t *testing.T, pairs ...string) *Options {
	t.Helper()
	if len(pairs)%2 != 0 {
		t.Fatal("optsFrom requires an even number of arguments")
	}
	o := NewOptions()
	for i := 0; i < len(pairs); i += 2 {
		o.Set(pairs[i], pairs[i+1])
	}
	return o
}

func TestDataPacketRoundTrip(t *testing.T) {
	p := &DataPacket{Block: 42, Data: []byte("tftp data packet test data")}
	data := p.Marshal()
	if len(data) != 4+len(p.Data) {
		t.Fatalf("marshal length: expected %d, got %d", 4+len(p.Data), len(data))
	}

	got, err := decodeDataPacket(data, 0)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got.Block != p.Block {
		t.Errorf("block mismatch: expected %d, got %d", p.Block, got.Block)
	}
	if !bytes.Equal(got.Data, p.Data) {
		t.Errorf("data mismatch: expected %v, got %v", p.Data, got.Data)
	}
}

func TestDataPacketZeroBlockPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Marshal of a zero-block DATA packet to panic")
		}
	}()
	(&DataPacket{Block: 0, Data: []byte("x")}).Marshal()
}

func TestDataPacketRejectsOversizedPayload(t *testing.T) {
	raw := (&DataPacket{Block: 1, Data: make([]byte, 100)}).Marshal()
	if _, err := decodeDataPacket(raw, 10); err == nil {
		t.Fatal("expected error decoding a payload larger than maxPayload")
	}
}

func TestAckPacketRoundTrip(t *testing.T) {
	p := &AckPacket{Block: 42}
	data := p.Marshal()
	expected := []byte{0, 4, 0, 42}
	if !bytes.Equal(data, expected) {
		t.Fatalf("marshal: expected %v, got %v", expected, data)
	}
	got, err := decodeAckPacket(data)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got.Block != p.Block {
		t.Errorf("block mismatch: expected %d, got %d", p.Block, got.Block)
	}
}

func TestAckPacketWrongLength(t *testing.T) {
	if _, err := decodeAckPacket([]byte{0, 4, 0}); err == nil {
		t.Fatal("expected error decoding a short ACK packet")
	}
}

func TestErrorPacketRoundTrip(t *testing.T) {
	p := &ErrorPacket{Code: FileNotFound, Message: "File not found"}
	data := p.Marshal()
	expected := []byte{0, 5, 0, 1, 'F', 'i', 'l', 'e', ' ', 'n', 'o', 't', ' ', 'f', 'o', 'u', 'n', 'd', 0}
	if !bytes.Equal(data, expected) {
		t.Fatalf("marshal: expected %v, got %v", expected, data)
	}
	got, err := decodeErrorPacket(data)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got.Code != p.Code || got.Message != p.Message {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, p)
	}
}

func TestOAckPacketRoundTrip(t *testing.T) {
	p := &OAckPacket{Options: optsFrom(t, "blksize", "1024", "timeout", "5")}
	data := p.Marshal()
	got, err := decodeOAckPacket(data)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got.Options.Len() != p.Options.Len() {
		t.Fatalf("options count mismatch: expected %d, got %d", p.Options.Len(), got.Options.Len())
	}
	for _, name := range p.Options.Names() {
		want, _ := p.Options.Get(name)
		got, ok := got.Options.Get(name)
		if !ok || got != want {
			t.Errorf("option %q mismatch: expected %q, got %q", name, want, got)
		}
	}
}

func TestClassifyNeverFails(t *testing.T) {
	cases := [][]byte{
		nil,
		{0},
		{0, 0},
		{0, 7},
		{255, 255},
		{0, 1, 'x'},
	}
	for _, c := range cases {
		if got := Classify(c); got < Invalid || got > OAckPacketType {
			t.Errorf("Classify(%v) returned out-of-range PacketType %d", c, got)
		}
	}
}

func TestDecodeDispatchesByOpcode(t *testing.T) {
	p := &AckPacket{Block: 7}
	pkt, _, err := Decode(p.Marshal(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := pkt.(*AckPacket); !ok {
		t.Fatalf("expected *AckPacket, got %T", pkt)
	}
}

func TestDecodeUnknownOpcode(t *testing.T) {
	if _, _, err := Decode([]byte{0, 99}, 0); err == nil {
		t.Fatal("expected error decoding an unrecognized opcode")
	}
}

func TestParseTransferModeCaseInsensitive(t *testing.T) {
	if ParseTransferMode("OCTET") != Octet || ParseTransferMode("octet") != Octet {
		t.Error("expected OCTET and octet to both parse as Octet")
	}
	if ParseTransferMode("bogus") != InvalidMode {
		t.Error("expected an unknown mode string to parse as InvalidMode")
	}
}
