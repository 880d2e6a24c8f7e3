package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	"ranging-go/binlog"
	"ranging-go/calibration"
	"ranging-go/config"
	"ranging-go/distance"
	"ranging-go/server"
)

func main() {
	capturePath := flag.String("capture", "", "Input capture file")
	destAddr := flag.String("dest", "", "Send frames to this UDP address instead of processing them locally")
	speed := flag.Float64("speed", 1.0, "Replay speed multiplier (0 for max speed)")
	configPath := flag.String("config", "", "Path to YAML config (optional)")
	outPath := flag.String("out", "", "CSV output for local replay (default stdout)")
	flag.Parse()

	if *capturePath == "" {
		log.Fatal("--capture required")
	}

	if *destAddr != "" {
		if err := send(*capturePath, *destAddr, *speed); err != nil {
			log.Fatal(err)
		}
		return
	}

	if err := process(*capturePath, *configPath, *outPath, *speed); err != nil {
		log.Fatal(err)
	}
}

// send forwards received frames to a running server, keeping the recorded pacing.
func send(path, dest string, speed float64) error {
	raddr, err := net.ResolveUDPAddr("udp", dest)
	if err != nil {
		return fmt.Errorf("invalid dest address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	rd, err := binlog.NewReader(f)
	if err != nil {
		return err
	}

	log.Printf("Replaying %s to %s...", path, dest)

	var first time.Time
	var startReal time.Time
	count := 0
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if rec.Flag != binlog.FlagRx {
			continue
		}

		if first.IsZero() {
			first = rec.Time
			startReal = time.Now()
		} else if speed > 0 {
			target := time.Duration(float64(rec.Time.Sub(first)) / speed)
			if elapsed := time.Since(startReal); target > elapsed {
				time.Sleep(target - elapsed)
			}
		}

		if _, err := conn.Write(rec.Payload); err != nil {
			log.Printf("Write error: %v", err)
		}
		count++
		if count%1000 == 0 {
			fmt.Fprintf(os.Stderr, "\rSent %d packets...", count)
		}
	}
	fmt.Fprintf(os.Stderr, "\nDone. Sent %d packets.\n", count)
	return nil
}

// process runs the capture through a local pipeline and writes one CSV row
// per distance result.
func process(path, configPath, outPath string, speed float64) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}
	pcfg, err := cfg.Pipeline.Distance()
	if err != nil {
		return err
	}

	store, err := cfg.Calibration.OpenStore()
	if err != nil {
		return err
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}
	model := distance.NewLogDistanceModel()
	calib := calibration.NewController(model, store, cfg.Calibration.Controller())
	if err := calib.Load(); err != nil {
		log.Printf("Replaying uncalibrated: %v", err)
	}

	out := os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	w := newCSVListener(out)
	svr := server.New(model, pcfg, calib)
	svr.SetListener(w)
	if err := svr.Replay(path, speed); err != nil {
		return err
	}
	return w.Close()
}

type csvListener struct {
	w   *csv.Writer
	err error
}

func newCSVListener(out io.Writer) *csvListener {
	l := &csvListener{w: csv.NewWriter(out)}
	l.write([]string{"ts", "peer", "filtered_rssi", "method", "confidence", "distance", "smoothed", "velocity_limited"})
	return l
}

func (l *csvListener) OnUpdate(peer string, u distance.Update) {
	if u.Result == nil || u.Smoothed == nil {
		return
	}
	l.write([]string{
		strconv.FormatInt(u.Sample.TimestampMs, 10),
		peer,
		strconv.FormatFloat(u.FilteredRssi, 'f', 2, 64),
		u.Result.Method,
		strconv.FormatFloat(u.Result.Confidence, 'f', 3, 64),
		strconv.FormatFloat(u.Result.Distance, 'f', 3, 64),
		strconv.FormatFloat(u.Smoothed.Distance, 'f', 3, 64),
		strconv.FormatBool(u.Smoothed.VelocityLimited),
	})
}

func (l *csvListener) write(rec []string) {
	if l.err == nil {
		l.err = l.w.Write(rec)
	}
}

func (l *csvListener) Close() error {
	l.w.Flush()
	if l.err != nil {
		return l.err
	}
	return l.w.Error()
}
