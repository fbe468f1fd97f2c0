package adr

import (
	"encoding/binary"
	"fmt"

	"github.com/signalsfoundry/lorawan-simulator/core"
)

// CommandLength is the size of the encoded LinkADRReq payload.
const CommandLength = 5

// bandwidth nibble for the EU868 125 kHz channels; wider bandwidths
// are not used by this band plan.
const bw125Nibble = 0

// Command is an ADR adjustment instruction for one node.
type Command struct {
	SpreadingFactor int
	TxPowerIndex    int
	ChannelMask     uint16
	NbTrans         uint8
}

// TxPowerDBm returns the conducted power the command selects.
func (c Command) TxPowerDBm() float64 {
	return core.TxPowerDBm[c.TxPowerIndex]
}

// Encode serialises the command into the 5-byte LinkADRReq-compatible
// layout: data-rate/bandwidth nibbles, TX-power index, little-endian
// channel mask, redundancy nibble.
func (c Command) Encode() ([]byte, error) {
	dr := core.DataRateForSpreadingFactor(c.SpreadingFactor)
	if dr < 0 {
		return nil, fmt.Errorf("%w: spreading factor %d", core.ErrInvalidInput, c.SpreadingFactor)
	}
	if c.TxPowerIndex < 0 || c.TxPowerIndex > core.MaxTxPowerIndex {
		return nil, fmt.Errorf("%w: tx power index %d", core.ErrInvalidInput, c.TxPowerIndex)
	}
	frame := make([]byte, CommandLength)
	frame[0] = byte(dr)<<4 | bw125Nibble
	frame[1] = byte(c.TxPowerIndex)
	binary.LittleEndian.PutUint16(frame[2:4], c.ChannelMask)
	frame[4] = c.NbTrans & 0x0F
	return frame, nil
}

// DecodeCommand parses a 5-byte LinkADRReq payload produced by
// Encode. It is the node-side counterpart used when a scheduled
// downlink is delivered during a receive window.
func DecodeCommand(frame []byte) (Command, error) {
	if len(frame) != CommandLength {
		return Command{}, fmt.Errorf("%w: command frame must be %d bytes, got %d",
			core.ErrInvalidInput, CommandLength, len(frame))
	}
	dr := int(frame[0] >> 4)
	sf := core.SpreadingFactorForDataRate(dr)
	if sf == 0 {
		return Command{}, fmt.Errorf("%w: data rate %d", core.ErrInvalidInput, dr)
	}
	idx := int(frame[1])
	if idx > core.MaxTxPowerIndex {
		return Command{}, fmt.Errorf("%w: tx power index %d", core.ErrInvalidInput, idx)
	}
	return Command{
		SpreadingFactor: sf,
		TxPowerIndex:    idx,
		ChannelMask:     binary.LittleEndian.Uint16(frame[2:4]),
		NbTrans:         frame[4] & 0x0F,
	}, nil
}
