package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"ranging-go/binlog"
)

// Replay feeds a capture through the same path as live traffic. speed
// scales the recorded pacing; 0 replays as fast as possible. Partial
// batches are flushed once the capture ends.
func (s *UdpServer) Replay(path string, speed float64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rd, err := binlog.NewReader(f)
	if err != nil {
		return err
	}

	s.running.Store(true)
	log.Printf("Replaying %s at %.1fx speed...", path, speed)

	var first, last time.Time
	startReal := time.Now()
	pktCount := 0

	for s.running.Load() {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("replay %s: %w", path, err)
		}
		if rec.Flag != binlog.FlagRx {
			continue
		}

		pktCount++
		if first.IsZero() {
			first = rec.Time
			startReal = time.Now()
		} else if speed > 0 {
			target := time.Duration(float64(rec.Time.Sub(first)) / speed)
			if elapsed := time.Since(startReal); target > elapsed {
				time.Sleep(target - elapsed)
			}
		}
		last = rec.Time

		s.handlePacket(rec.Payload, rec.Addr, rec.Time)
	}

	if !last.IsZero() {
		s.FlushAll(last.UnixMilli())
	}
	log.Printf("Replay loop ended. Total Packets: %d", pktCount)
	return nil
}
