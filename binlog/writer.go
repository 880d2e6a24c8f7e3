// Package binlog records raw bridge datagrams in a pcap-framed capture file
// so sessions can be replayed through the ranging pipeline.
package binlog

import (
	"encoding/binary"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

const (
	PcapMagic = 0xA1B2C3D4

	// FlagRx marks a datagram received from a bridge over UDP.
	FlagRx = 0x109

	globalLen = 24
	recordLen = 16
	phdr2Len  = 8
	snapLen   = 65535
)

// CaptureWriter appends datagrams to a capture. Safe for concurrent use.
type CaptureWriter struct {
	mu  sync.Mutex
	w   io.Writer
	buf []byte
}

func NewCaptureWriter(path string) (*CaptureWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	cw, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return cw, nil
}

// NewWriter writes the global header to w and returns a writer for records.
func NewWriter(w io.Writer) (*CaptureWriter, error) {
	cw := &CaptureWriter{w: w, buf: make([]byte, recordLen+phdr2Len)}

	// magic, major 2, minor 4, zone 0, sigfigs 0, snaplen, linktype 1
	b := make([]byte, globalLen)
	binary.LittleEndian.PutUint32(b[0:], PcapMagic)
	binary.LittleEndian.PutUint16(b[4:], 2)
	binary.LittleEndian.PutUint16(b[6:], 4)
	binary.LittleEndian.PutUint32(b[16:], snapLen)
	binary.LittleEndian.PutUint32(b[20:], 1)
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	return cw, nil
}

// WritePacket appends one datagram received at ts from addr.
func (cw *CaptureWriter) WritePacket(ts time.Time, flag uint16, addr *net.UDPAddr, data []byte) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	total := uint32(len(data) + phdr2Len)
	b := cw.buf
	binary.LittleEndian.PutUint32(b[0:], uint32(ts.Unix()))
	binary.LittleEndian.PutUint32(b[4:], uint32(ts.Nanosecond()/1000))
	binary.LittleEndian.PutUint32(b[8:], total)
	binary.LittleEndian.PutUint32(b[12:], total)

	// phdr2: flag, port, ipv4 in network order
	binary.LittleEndian.PutUint16(b[16:], flag)
	var port uint16
	var ip4 net.IP
	if addr != nil {
		port = uint16(addr.Port)
		ip4 = addr.IP.To4()
	}
	binary.LittleEndian.PutUint16(b[18:], port)
	if ip4 != nil {
		copy(b[20:24], ip4)
	} else {
		binary.LittleEndian.PutUint32(b[20:], 0)
	}

	if _, err := cw.w.Write(b); err != nil {
		return err
	}
	_, err := cw.w.Write(data)
	return err
}

func (cw *CaptureWriter) Close() error {
	if c, ok := cw.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
