// Package rtltcp implements the rtl_tcp wire protocol: a 12-byte header
// (magic + dongle info) followed by a stream of raw IQ bytes, with 5-byte
// opcode+argument commands flowing the other way.
package rtltcp

import (
	"encoding/binary"
	"fmt"
)

// HeaderLength is the dongle-info header sent once by the server: 4 bytes
// magic plus 8 bytes of tuner type/gain count.
const HeaderLength = 12

// CommandLength is the fixed size of every client->server command: 1 byte
// opcode, 4 bytes argument.
const CommandLength = 5

// Magic is the protocol identifier the server sends first.
var Magic = [4]byte{'R', 'T', 'L', '0'}

// TunerType mirrors librtlsdr's tuner identification enum, reported in the
// header so a client knows what gain values mean.
type TunerType uint32

const (
	TunerUnknown TunerType = iota
	TunerE4000
	TunerFC0012
	TunerFC0013
	TunerFC2580
	TunerR820T
	TunerR828D
)

// DongleInfo is the header payload following Magic.
type DongleInfo struct {
	TunerType  TunerType
	TunerGains uint32
}

// EncodeHeader writes Magic followed by DongleInfo, big-endian, the layout
// rtl_tcp clients expect on connect.
func EncodeHeader(info DongleInfo) []byte {
	buf := make([]byte, HeaderLength)
	copy(buf[0:4], Magic[:])
	binary.BigEndian.PutUint32(buf[4:8], uint32(info.TunerType))
	binary.BigEndian.PutUint32(buf[8:12], info.TunerGains)
	return buf
}

// DecodeHeader parses a received header, reporting an error if the magic
// doesn't match.
func DecodeHeader(buf []byte) (DongleInfo, error) {
	if len(buf) < HeaderLength {
		return DongleInfo{}, fmt.Errorf("rtltcp: header too short: %d bytes", len(buf))
	}
	if string(buf[0:4]) != string(Magic[:]) {
		return DongleInfo{}, fmt.Errorf("rtltcp: invalid magic %q", buf[0:4])
	}
	return DongleInfo{
		TunerType:  TunerType(binary.BigEndian.Uint32(buf[4:8])),
		TunerGains: binary.BigEndian.Uint32(buf[8:12]),
	}, nil
}

// opcode identifies a client command, matching rtl_tcp's numbering exactly
// so this implementation interoperates with real rtl_tcp clients/servers.
type opcode uint8

const (
	opSetCenterFrequency   opcode = 0x01
	opSetSampleRate        opcode = 0x02
	opSetTunerGainMode     opcode = 0x03
	opSetTunerGain         opcode = 0x04
	opSetFrequencyCorr     opcode = 0x05
	opSetTunerIFGain       opcode = 0x06
	opSetTestMode          opcode = 0x07
	opSetAGCMode           opcode = 0x08
	opSetDirectSampling    opcode = 0x09
	opSetOffsetTuning      opcode = 0x0a
	opSetRTLXtal           opcode = 0x0b
	opSetTunerXtal         opcode = 0x0c
	opSetTunerGainByIndex  opcode = 0x0d
	opSetBiasTee           opcode = 0x0e
)

// CommandKind distinguishes the decoded command variants.
type CommandKind int

const (
	CmdSetCenterFrequency CommandKind = iota
	CmdSetSampleRate
	CmdSetTunerGainMode
	CmdSetTunerGain
	CmdSetFrequencyCorrection
	CmdSetTunerIFGain
	CmdSetTestMode
	CmdSetAGCMode
	CmdSetDirectSampling
	CmdSetOffsetTuning
	CmdSetRTLXtal
	CmdSetTunerXtal
	CmdSetTunerGainByIndex
	CmdSetBiasTee
)

// Command is a decoded client->server request. Only the fields relevant to
// Kind are meaningful.
type Command struct {
	Kind      CommandKind
	UInt32    uint32
	Int32     int32
	Stage     int16
	Gain      int16
	Bool      bool
	DirectI   bool
	DirectQ   bool
	DirectOff bool
}

// EncodeCommand serializes cmd into the fixed 5-byte wire format.
func EncodeCommand(cmd Command) []byte {
	buf := make([]byte, CommandLength)
	switch cmd.Kind {
	case CmdSetCenterFrequency:
		buf[0] = byte(opSetCenterFrequency)
		binary.BigEndian.PutUint32(buf[1:], cmd.UInt32)
	case CmdSetSampleRate:
		buf[0] = byte(opSetSampleRate)
		binary.BigEndian.PutUint32(buf[1:], cmd.UInt32)
	case CmdSetTunerGainMode:
		buf[0] = byte(opSetTunerGainMode)
		binary.BigEndian.PutUint32(buf[1:], boolU32(cmd.Bool))
	case CmdSetTunerGain:
		buf[0] = byte(opSetTunerGain)
		binary.BigEndian.PutUint32(buf[1:], uint32(cmd.Int32))
	case CmdSetFrequencyCorrection:
		buf[0] = byte(opSetFrequencyCorr)
		binary.BigEndian.PutUint32(buf[1:], uint32(cmd.Int32))
	case CmdSetTunerIFGain:
		buf[0] = byte(opSetTunerIFGain)
		binary.BigEndian.PutUint16(buf[1:3], uint16(cmd.Stage))
		binary.BigEndian.PutUint16(buf[3:5], uint16(cmd.Gain))
	case CmdSetTestMode:
		buf[0] = byte(opSetTestMode)
		binary.BigEndian.PutUint32(buf[1:], boolU32(cmd.Bool))
	case CmdSetAGCMode:
		buf[0] = byte(opSetAGCMode)
		binary.BigEndian.PutUint32(buf[1:], boolU32(cmd.Bool))
	case CmdSetDirectSampling:
		buf[0] = byte(opSetDirectSampling)
		mode := uint32(0)
		if cmd.DirectI {
			mode = 1
		} else if cmd.DirectQ {
			mode = 2
		}
		binary.BigEndian.PutUint32(buf[1:], mode)
	case CmdSetOffsetTuning:
		buf[0] = byte(opSetOffsetTuning)
		binary.BigEndian.PutUint32(buf[1:], boolU32(cmd.Bool))
	case CmdSetRTLXtal:
		buf[0] = byte(opSetRTLXtal)
		binary.BigEndian.PutUint32(buf[1:], cmd.UInt32)
	case CmdSetTunerXtal:
		buf[0] = byte(opSetTunerXtal)
		binary.BigEndian.PutUint32(buf[1:], cmd.UInt32)
	case CmdSetTunerGainByIndex:
		buf[0] = byte(opSetTunerGainByIndex)
		binary.BigEndian.PutUint32(buf[1:], cmd.UInt32)
	case CmdSetBiasTee:
		buf[0] = byte(opSetBiasTee)
		binary.BigEndian.PutUint32(buf[1:], boolU32(cmd.Bool))
	}
	return buf
}

func boolU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// DecodeCommand parses a 5-byte command off the wire.
func DecodeCommand(buf []byte) (Command, error) {
	if len(buf) < CommandLength {
		return Command{}, fmt.Errorf("rtltcp: command too short: %d bytes", len(buf))
	}
	arg32 := binary.BigEndian.Uint32(buf[1:5])

	switch opcode(buf[0]) {
	case opSetCenterFrequency:
		return Command{Kind: CmdSetCenterFrequency, UInt32: arg32}, nil
	case opSetSampleRate:
		return Command{Kind: CmdSetSampleRate, UInt32: arg32}, nil
	case opSetTunerGainMode:
		return Command{Kind: CmdSetTunerGainMode, Bool: arg32 != 0}, nil
	case opSetTunerGain:
		return Command{Kind: CmdSetTunerGain, Int32: int32(arg32)}, nil
	case opSetFrequencyCorr:
		return Command{Kind: CmdSetFrequencyCorrection, Int32: int32(arg32)}, nil
	case opSetTunerIFGain:
		return Command{
			Kind:  CmdSetTunerIFGain,
			Stage: int16(binary.BigEndian.Uint16(buf[1:3])),
			Gain:  int16(binary.BigEndian.Uint16(buf[3:5])),
		}, nil
	case opSetTestMode:
		return Command{Kind: CmdSetTestMode, Bool: arg32 != 0}, nil
	case opSetAGCMode:
		return Command{Kind: CmdSetAGCMode, Bool: arg32 != 0}, nil
	case opSetDirectSampling:
		cmd := Command{Kind: CmdSetDirectSampling}
		switch arg32 {
		case 1:
			cmd.DirectI = true
		case 2:
			cmd.DirectQ = true
		default:
			cmd.DirectOff = true
		}
		return cmd, nil
	case opSetOffsetTuning:
		return Command{Kind: CmdSetOffsetTuning, Bool: arg32 != 0}, nil
	case opSetRTLXtal:
		return Command{Kind: CmdSetRTLXtal, UInt32: arg32}, nil
	case opSetTunerXtal:
		return Command{Kind: CmdSetTunerXtal, UInt32: arg32}, nil
	case opSetTunerGainByIndex:
		return Command{Kind: CmdSetTunerGainByIndex, UInt32: arg32}, nil
	case opSetBiasTee:
		return Command{Kind: CmdSetBiasTee, Bool: arg32 != 0}, nil
	default:
		return Command{}, fmt.Errorf("rtltcp: unknown opcode 0x%02x", buf[0])
	}
}
