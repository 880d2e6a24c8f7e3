package binlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// Record is one captured datagram.
type Record struct {
	Time    time.Time
	Flag    uint16
	Addr    *net.UDPAddr
	Payload []byte
}

// Reader iterates over the records of a capture.
type Reader struct {
	r   io.Reader
	rec []byte
}

// NewReader consumes and checks the global header.
func NewReader(r io.Reader) (*Reader, error) {
	hdr := make([]byte, globalLen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("pcap header: %w", err)
	}
	if magic := binary.LittleEndian.Uint32(hdr[0:4]); magic != PcapMagic {
		return nil, fmt.Errorf("pcap header: bad magic 0x%08x", magic)
	}
	return &Reader{r: r, rec: make([]byte, recordLen+phdr2Len)}, nil
}

// Next returns the next record, or io.EOF at the end of the capture. A
// record cut short by a crash while writing also ends the capture.
func (rd *Reader) Next() (*Record, error) {
	for {
		if _, err := io.ReadFull(rd.r, rd.rec[:recordLen]); err != nil {
			return nil, eof(err, "pcap record")
		}
		tsSec := binary.LittleEndian.Uint32(rd.rec[0:4])
		tsUsec := binary.LittleEndian.Uint32(rd.rec[4:8])
		inclLen := binary.LittleEndian.Uint32(rd.rec[8:12])

		if inclLen < phdr2Len {
			if _, err := io.CopyN(io.Discard, rd.r, int64(inclLen)); err != nil {
				return nil, eof(err, "skip malformed record")
			}
			continue
		}

		phdr := rd.rec[recordLen:]
		if _, err := io.ReadFull(rd.r, phdr); err != nil {
			return nil, eof(err, "pcap phdr2")
		}
		payload := make([]byte, int(inclLen)-phdr2Len)
		if _, err := io.ReadFull(rd.r, payload); err != nil {
			return nil, eof(err, "pcap payload")
		}

		ip := make(net.IP, 4)
		copy(ip, phdr[4:8])
		return &Record{
			Time:    time.Unix(int64(tsSec), int64(tsUsec)*1000),
			Flag:    binary.LittleEndian.Uint16(phdr[0:2]),
			Addr:    &net.UDPAddr{IP: ip, Port: int(binary.LittleEndian.Uint16(phdr[2:4]))},
			Payload: payload,
		}, nil
	}
}

func eof(err error, what string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return fmt.Errorf("%s: %w", what, err)
}

// ReadFile loads every record of the capture at path.
func ReadFile(path string) ([]*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rd, err := NewReader(f)
	if err != nil {
		return nil, err
	}
	var out []*Record
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
