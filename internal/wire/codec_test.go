package wire

import (
	"errors"
	"testing"
)

func TestHeaderRoundTripUncompressed(t *testing.T) {
	header := EncodeHeader(1, false)
	payloadLen, compressed := DecodeHeader(header)
	if payloadLen != 1 || compressed {
		t.Fatalf("unexpected decode: len=%d compressed=%v", payloadLen, compressed)
	}
}

func TestEncodeFrameUncompressedSmallPayload(t *testing.T) {
	payload := []byte{SVTick, 5}
	frame, err := EncodeFrame(nil, payload, NewCompressor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	header := uint16(frame[0]) | uint16(frame[1])<<8
	payloadLen, compressed := DecodeHeader(header)
	if compressed {
		t.Fatalf("expected small payload to stay uncompressed")
	}
	if payloadLen != len(payload) {
		t.Fatalf("expected payload_len %d, got %d", len(payload), payloadLen)
	}
	if string(frame[2:]) != string(payload) {
		t.Fatalf("expected raw payload passthrough")
	}
}

func TestEncodeFrameCompressesRepetitivePayload(t *testing.T) {
	payload := make([]byte, 200)
	for i := range payload {
		payload[i] = 0xAB
	}
	frame, err := EncodeFrame(nil, payload, NewCompressor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	header := uint16(frame[0]) | uint16(frame[1])<<8
	payloadLen, compressed := DecodeHeader(header)
	if !compressed {
		t.Fatalf("expected repetitive 200-byte payload to compress")
	}
	body := frame[2:]
	if payloadLen != len(body) {
		t.Fatalf("header payload_len %d does not match body length %d", payloadLen, len(body))
	}
	decoded, err := Decompress(body)
	if err != nil {
		t.Fatalf("decompress failed: %v", err)
	}
	if string(decoded) != string(payload) {
		t.Fatalf("decompressed payload does not match original")
	}
}

func TestEncodeFrameRejectsOversizePayload(t *testing.T) {
	payload := make([]byte, maxPayloadLen+1)
	if _, err := EncodeFrame(nil, payload, nil); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestEncodeFrameAcceptsMaxPayload(t *testing.T) {
	payload := make([]byte, maxPayloadLen)
	frame, err := EncodeFrame(nil, payload, nil)
	if err != nil {
		t.Fatalf("unexpected error at boundary: %v", err)
	}
	header := uint16(frame[0]) | uint16(frame[1])<<8
	if header&0x7FFF != 0x7FFF {
		t.Fatalf("expected max-size header to saturate 15-bit field, got %x", header&0x7FFF)
	}
}

func TestAppendMessageValidatesFixedSize(t *testing.T) {
	buf, err := AppendMessage(nil, SVTick, []byte{3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(buf) != 2 || buf[0] != SVTick || buf[1] != 3 {
		t.Fatalf("unexpected message bytes: %v", buf)
	}
	if _, err := AppendMessage(nil, SVTick, []byte{1, 2}); err == nil {
		t.Fatalf("expected size mismatch error")
	}
}

func TestAppendMessageAllowsVariableSize(t *testing.T) {
	buf, err := AppendMessage(nil, SVMsg, []byte("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(buf) != string(append([]byte{SVMsg}, "hello"...)) {
		t.Fatalf("unexpected message bytes: %v", buf)
	}
}
