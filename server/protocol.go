package server

import (
	"encoding/binary"
	"fmt"
)

const (
	UnibMagic   = 0x7857 // Little Endian for 'W' 'x'
	UnibHdrLen  = 9
	UnibWrapLen = 11 // header + crc16

	TypeRssiFrame    = 0x60
	TypeBatteryFrame = 0x91

	rssiSampleLen = 3 // age_ms(2) + rssi(1)
	maxRssiCount  = 15
	maxBodyLen    = 0x7FF
)

type UnibHeader struct {
	Magic   uint16
	Addr    uint32
	Flags   uint8
	Type    uint16
	BodyLen int
}

// RssiSample is one advertisement reading relayed by the bridge. AgeMs is
// how long before the datagram was sent the reading was taken.
type RssiSample struct {
	AgeMs uint16
	Rssi  int8
}

type RssiFrame struct {
	Seq     uint8
	Samples []RssiSample
}

// ParseHeader parses the UNIB header from the beginning of the packet.
func ParseHeader(data []byte) (*UnibHeader, error) {
	if len(data) < UnibHdrLen {
		return nil, fmt.Errorf("packet too short")
	}

	magic := binary.LittleEndian.Uint16(data[0:2])
	if magic != UnibMagic {
		return nil, fmt.Errorf("invalid magic: 0x%x", magic)
	}

	addr := binary.LittleEndian.Uint32(data[2:6])

	// byte 6: flags:3 typ_l:5, byte 7: typ_h:5 len_l:3, byte 8: len_h
	b6 := data[6]
	flags := b6 & 0x7
	typLow := uint16(b6 >> 3)

	b7 := data[7]
	typHigh := uint16(b7 & 0x1F)
	lenLow := int(b7 >> 5)
	lenHigh := int(data[8])

	return &UnibHeader{
		Magic:   magic,
		Addr:    addr,
		Flags:   flags,
		Type:    typLow + (typHigh << 5),
		BodyLen: lenLow + (lenHigh << 3),
	}, nil
}

// AppendFrame wraps body in a UNIB header and trailing crc16 and appends it to dst.
func AppendFrame(dst []byte, addr uint32, typ uint16, flags uint8, body []byte) ([]byte, error) {
	if len(body) > maxBodyLen {
		return dst, fmt.Errorf("body too long: %d", len(body))
	}
	start := len(dst)
	dst = binary.LittleEndian.AppendUint16(dst, UnibMagic)
	dst = binary.LittleEndian.AppendUint32(dst, addr)
	dst = append(dst,
		flags&0x7|uint8(typ&0x1F)<<3,
		uint8(typ>>5)&0x1F|uint8(len(body)&0x7)<<5,
		uint8(len(body)>>3),
	)
	dst = append(dst, body...)
	return binary.LittleEndian.AppendUint16(dst, crc16(dst[start:])), nil
}

// checkCRC verifies the crc16 trailing a complete frame.
func checkCRC(frame []byte) error {
	n := len(frame) - 2
	want := binary.LittleEndian.Uint16(frame[n:])
	if got := crc16(frame[:n]); got != want {
		return fmt.Errorf("crc mismatch: got 0x%04x want 0x%04x", got, want)
	}
	return nil
}

// crc16 is CRC-16/XMODEM (poly 0x1021, init 0).
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// ParseRssiFrame decodes seq(1) meta(1, count in the high nibble) followed
// by count samples of age_ms(u16 LE) rssi(i8).
func ParseRssiFrame(body []byte) (*RssiFrame, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("rssi frame too short")
	}
	num := int(body[1] >> 4)

	f := &RssiFrame{Seq: body[0], Samples: make([]RssiSample, 0, num)}
	base := 2
	for i := 0; i < num; i++ {
		if base+rssiSampleLen > len(body) {
			return nil, fmt.Errorf("rssi sample %d truncated", i)
		}
		f.Samples = append(f.Samples, RssiSample{
			AgeMs: binary.LittleEndian.Uint16(body[base : base+2]),
			Rssi:  int8(body[base+2]),
		})
		base += rssiSampleLen
	}
	return f, nil
}

func EncodeRssiFrame(f *RssiFrame) ([]byte, error) {
	if len(f.Samples) > maxRssiCount {
		return nil, fmt.Errorf("too many samples: %d", len(f.Samples))
	}
	body := make([]byte, 2, 2+rssiSampleLen*len(f.Samples))
	body[0] = f.Seq
	body[1] = uint8(len(f.Samples)) << 4
	for _, s := range f.Samples {
		body = binary.LittleEndian.AppendUint16(body, s.AgeMs)
		body = append(body, uint8(s.Rssi))
	}
	return body, nil
}

// ParseBatteryFrame returns the tag battery voltage in millivolts.
func ParseBatteryFrame(body []byte) (int, error) {
	if len(body) < 2 {
		return 0, fmt.Errorf("battery frame too short")
	}
	return int(binary.LittleEndian.Uint16(body[0:2])), nil
}

func EncodeBatteryFrame(mv int) []byte {
	return binary.LittleEndian.AppendUint16(nil, uint16(mv))
}
