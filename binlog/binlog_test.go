package binlog

import (
	"bytes"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapture_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.pcap")
	cw, err := NewCaptureWriter(path)
	require.NoError(t, err)

	t0 := time.Date(2026, 5, 2, 10, 0, 0, 250_000_000, time.UTC)
	addr := &net.UDPAddr{IP: net.IPv4(192, 168, 4, 17), Port: 44333}
	require.NoError(t, cw.WritePacket(t0, FlagRx, addr, []byte{0x57, 0x78, 1, 2, 3}))
	require.NoError(t, cw.WritePacket(t0.Add(1500*time.Millisecond), FlagRx, nil, []byte{9}))
	require.NoError(t, cw.Close())

	recs, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.True(t, t0.Equal(recs[0].Time))
	assert.Equal(t, uint16(FlagRx), recs[0].Flag)
	assert.Equal(t, "192.168.4.17:44333", recs[0].Addr.String())
	assert.Equal(t, []byte{0x57, 0x78, 1, 2, 3}, recs[0].Payload)

	assert.Equal(t, int64(1500), recs[1].Time.Sub(recs[0].Time).Milliseconds())
	assert.Equal(t, 0, recs[1].Addr.Port)
	assert.Equal(t, []byte{9}, recs[1].Payload)
}

func TestReader_BadMagic(t *testing.T) {
	_, err := NewReader(bytes.NewReader(make([]byte, globalLen)))
	assert.ErrorContains(t, err, "bad magic")

	_, err = NewReader(bytes.NewReader([]byte{1, 2}))
	assert.Error(t, err)
}

func TestReader_TruncatedTailEndsCapture(t *testing.T) {
	var buf bytes.Buffer
	cw, err := NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, cw.WritePacket(time.Unix(100, 0), FlagRx, nil, []byte{1, 2, 3, 4}))
	require.NoError(t, cw.WritePacket(time.Unix(101, 0), FlagRx, nil, []byte{5, 6, 7, 8}))

	data := buf.Bytes()[:buf.Len()-2]
	rd, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)

	rec, err := rd.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, rec.Payload)

	_, err = rd.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReader_SkipsMalformedRecord(t *testing.T) {
	var buf bytes.Buffer
	cw, err := NewWriter(&buf)
	require.NoError(t, err)

	// a record whose length cannot hold the second header
	bad := make([]byte, recordLen+3)
	bad[8] = 3
	bad[12] = 3
	buf.Write(bad)
	require.NoError(t, cw.WritePacket(time.Unix(5, 0), FlagRx, nil, []byte{0xAA}))

	rd, err := NewReader(&buf)
	require.NoError(t, err)
	rec, err := rd.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA}, rec.Payload)
}
