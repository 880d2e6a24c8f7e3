package forward

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDistance(t *testing.T) {
	got := string(FormatDistance("0000beef", 1_700_000_000_123, 3.25, 3.4, 0.87, "clustered+log-regression"))
	want := "dist: 79,0000beef,20231114221320.123,3.25,3.40,0.870,clustered+log-regression\r\n"
	assert.Equal(t, want, got)
	assert.Len(t, got, 79)
}

func TestFillLength(t *testing.T) {
	b := fillLength([]byte("dist:   ,"+strings.Repeat("x", 120)), 5)
	assert.Equal(t, "dist:129,", string(b[:9]))

	b = fillLength([]byte("batt:   ,1"), 5)
	assert.Equal(t, "batt: 10,1", string(b))
}

func TestSender_UDPMask(t *testing.T) {
	rx, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer rx.Close()

	s := NewSender()
	s.SetHeader("RNG")
	require.NoError(t, s.Add("udp", rx.LocalAddr().String(), FlagDistance))
	require.NoError(t, s.Start())
	defer s.Stop()

	s.Send([]byte("battery"), FlagBattery)
	s.Send([]byte("distance"), FlagDistance)

	require.NoError(t, rx.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	n, _, err := rx.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, "RNG:distance", string(buf[:n]))
}

func TestSender_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := NewSender()
	require.NoError(t, s.Add("tcp", ln.Addr().String(), FlagAll))
	require.NoError(t, s.Start())
	defer s.Stop()

	s.Send(FormatCalibration(1, -45, -45, 2, 1), FlagCalibration)

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "cali: 37,1.00,-45.00,-45.00,2.000,1\r\n", line)
}

func TestSender_NotStarted(t *testing.T) {
	s := NewSender()
	s.AddTCPSender("127.0.0.1:1", FlagAll)
	s.Send([]byte("x"), FlagDistance)
	assert.Len(t, s.tcpClients[0].queue, 0)
	s.Stop()
}

func TestSender_UnknownProto(t *testing.T) {
	assert.Error(t, NewSender().Add("sctp", "127.0.0.1:1", FlagAll))
}
