// Package forward pushes text records to downstream UDP and TCP receivers.
package forward

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

type Message struct {
	Data []byte
	Flag uint32
}

type udpTarget struct {
	addr *net.UDPAddr
	mask uint32
}

type tcpClient struct {
	addr  string
	mask  uint32
	queue chan *Message
	done  chan struct{}
	wg    sync.WaitGroup
}

// Sender fans records out to every target whose mask covers the record flag.
// Send is safe for concurrent use once Start has returned.
type Sender struct {
	udpTargets []*udpTarget
	tcpClients []*tcpClient
	connUDP    *net.UDPConn
	header     []byte
	running    atomic.Bool
	stopOnce   sync.Once
	dropped    atomic.Int64
}

func NewSender() *Sender {
	return &Sender{}
}

// SetHeader prefixes every record with hdr and a colon. Empty disables it.
func (s *Sender) SetHeader(hdr string) {
	if hdr == "" {
		s.header = nil
	} else {
		s.header = []byte(hdr + ":")
	}
}

// Add registers a target. proto is "udp" or "tcp".
func (s *Sender) Add(proto, addr string, mask uint32) error {
	switch proto {
	case "udp":
		return s.AddUDPSender(addr, mask)
	case "tcp":
		s.AddTCPSender(addr, mask)
		return nil
	}
	return fmt.Errorf("unknown forward protocol %q", proto)
}

func (s *Sender) AddUDPSender(addr string, mask uint32) error {
	uaddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	s.udpTargets = append(s.udpTargets, &udpTarget{addr: uaddr, mask: mask})
	return nil
}

func (s *Sender) AddTCPSender(addr string, mask uint32) {
	s.tcpClients = append(s.tcpClients, &tcpClient{
		addr:  addr,
		mask:  mask,
		queue: make(chan *Message, queueLen),
		done:  make(chan struct{}),
	})
}

func (s *Sender) Targets() int { return len(s.udpTargets) + len(s.tcpClients) }

// Dropped counts records discarded because a TCP queue was full.
func (s *Sender) Dropped() int64 { return s.dropped.Load() }

func (s *Sender) Start() error {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return err
	}
	s.connUDP = conn
	s.running.Store(true)

	for _, c := range s.tcpClients {
		c.wg.Add(1)
		go c.loop()
	}
	return nil
}

func (s *Sender) Stop() {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		if s.connUDP != nil {
			s.connUDP.Close()
		}
		for _, c := range s.tcpClients {
			close(c.done)
			c.wg.Wait()
		}
	})
}

func (s *Sender) Send(data []byte, flag uint32) {
	if !s.running.Load() {
		return
	}

	msgData := data
	if len(s.header) > 0 {
		msgData = make([]byte, len(s.header)+len(data))
		copy(msgData, s.header)
		copy(msgData[len(s.header):], data)
	}
	msg := &Message{Data: msgData, Flag: flag}

	for _, t := range s.udpTargets {
		if t.mask&flag == flag {
			s.connUDP.WriteToUDP(msgData, t.addr)
		}
	}

	for _, c := range s.tcpClients {
		if c.mask&flag != flag {
			continue
		}
		select {
		case c.queue <- msg:
		default:
			s.dropped.Add(1)
		}
	}
}

func (c *tcpClient) loop() {
	defer c.wg.Done()
	var conn net.Conn
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	connect := func() bool {
		if conn != nil {
			return true
		}
		var err error
		conn, err = net.DialTimeout("tcp", c.addr, dialTimeout)
		if err != nil {
			conn = nil
			return false
		}
		return true
	}

	for {
		var msg *Message
		select {
		case <-c.done:
			return
		case msg = <-c.queue:
		}

		if !connect() {
			select {
			case <-c.done:
				return
			case <-time.After(500 * time.Millisecond):
			}
			if !connect() {
				continue // drop this message
			}
		}

		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := conn.Write(msg.Data); err != nil {
			log.Printf("TCP write to %s failed: %v", c.addr, err)
			conn.Close()
			conn = nil
		}
	}
}
