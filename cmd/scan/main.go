package main

import (
	"flag"
	"fmt"
	"os"

	"gonum.org/v1/gonum/stat"

	"ranging-go/distance"
	"ranging-go/server"
)

// tagScan collects what one tag contributed to a capture.
type tagScan struct {
	raw      []float64
	accepted int
	results  int
	methods  map[string]int
}

type scanner struct {
	tags map[string]*tagScan
}

func (s *scanner) OnUpdate(peer string, u distance.Update) {
	t, ok := s.tags[peer]
	if !ok {
		t = &tagScan{methods: make(map[string]int)}
		s.tags[peer] = t
	}
	if u.Result != nil {
		t.results++
		t.methods[u.Result.Method]++
		if !u.Accepted && u.Sample.Rssi == 0 {
			return // flushed batch, not a reading
		}
	}
	t.raw = append(t.raw, u.Sample.Rssi)
	if u.Accepted {
		t.accepted++
	}
}

func main() {
	capturePath := flag.String("capture", "", "Input capture file")
	flag.Parse()

	if *capturePath == "" {
		fmt.Println("--capture required")
		os.Exit(1)
	}

	sc := &scanner{tags: make(map[string]*tagScan)}
	svr := server.New(nil, distance.DefaultPipelineConfig(), nil)
	svr.SetListener(sc)

	fmt.Printf("Scanning tags in %s...\n", *capturePath)
	if err := svr.Replay(*capturePath, 0); err != nil {
		fmt.Printf("replay failed: %v\n", err)
		os.Exit(1)
	}

	for _, p := range svr.Peers() {
		t := sc.tags[p.Peer]
		if t == nil || len(t.raw) == 0 {
			fmt.Printf("Tag %s: no RSSI, battery %dmV\n", p.Peer, p.BatteryMv)
			continue
		}
		mean, sd := stat.MeanStdDev(t.raw, nil)
		lo, hi := t.raw[0], t.raw[0]
		for _, v := range t.raw {
			lo = min(lo, v)
			hi = max(hi, v)
		}
		fmt.Printf("Tag %s: %d samples (%d accepted) RSSI mean %.1f sd %.1f [%.0f, %.0f], battery %dmV\n",
			p.Peer, len(t.raw), t.accepted, mean, sd, lo, hi, p.BatteryMv)
		fmt.Printf("  %d results, distance avg %.2fm [%.2f, %.2f] %v\n",
			t.results, p.Stats.Average, p.Stats.Min, p.Stats.Max, t.methods)
	}
}
