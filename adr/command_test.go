package adr

import (
	"bytes"
	"errors"
	"testing"

	"github.com/signalsfoundry/lorawan-simulator/core"
)

// TestCommandEncodeLayout verifies the LinkADRReq byte layout: DR and
// bandwidth nibbles, power index, little-endian channel mask, NbTrans.
func TestCommandEncodeLayout(t *testing.T) {
	cmd := Command{
		SpreadingFactor: 7, // DR5
		TxPowerIndex:    3,
		ChannelMask:     0x00FF,
		NbTrans:         1,
	}
	frame, err := cmd.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{0x50, 0x03, 0xFF, 0x00, 0x01}
	if !bytes.Equal(frame, want) {
		t.Fatalf("frame = % X, want % X", frame, want)
	}
}

func TestCommandEncodeDecodeRoundTrip(t *testing.T) {
	in := Command{
		SpreadingFactor: 10,
		TxPowerIndex:    5,
		ChannelMask:     0xA5C3,
		NbTrans:         3,
	}
	frame, err := in.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := DecodeCommand(frame)
	if err != nil {
		t.Fatalf("DecodeCommand: %v", err)
	}
	if out != in {
		t.Fatalf("round trip = %+v, want %+v", out, in)
	}
}

func TestCommandTxPowerDBm(t *testing.T) {
	if got := (Command{TxPowerIndex: 0}).TxPowerDBm(); got != 14 {
		t.Fatalf("index 0 power = %g, want 14", got)
	}
	if got := (Command{TxPowerIndex: 3}).TxPowerDBm(); got != 8 {
		t.Fatalf("index 3 power = %g, want 8", got)
	}
	if got := (Command{TxPowerIndex: 6}).TxPowerDBm(); got != 2 {
		t.Fatalf("index 6 power = %g, want 2", got)
	}
}

func TestCommandEncodeRejectsBadFields(t *testing.T) {
	if _, err := (Command{SpreadingFactor: 6}).Encode(); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("sf 6 error = %v, want ErrInvalidInput", err)
	}
	if _, err := (Command{SpreadingFactor: 7, TxPowerIndex: 7}).Encode(); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("power index 7 error = %v, want ErrInvalidInput", err)
	}
}

func TestDecodeCommandRejectsBadFrames(t *testing.T) {
	if _, err := DecodeCommand([]byte{0x50, 0x00}); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("short frame error = %v, want ErrInvalidInput", err)
	}
	// DR6 is outside the LoRa range for EU868.
	if _, err := DecodeCommand([]byte{0x60, 0x00, 0xFF, 0xFF, 0x01}); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("bad data rate error = %v, want ErrInvalidInput", err)
	}
	if _, err := DecodeCommand([]byte{0x50, 0x09, 0xFF, 0xFF, 0x01}); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("bad power index error = %v, want ErrInvalidInput", err)
	}
}
