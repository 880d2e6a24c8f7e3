package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"ranging-go/calibration"
	"ranging-go/config"
	"ranging-go/distance"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (optional)")
	dist := flag.Float64("distance", 0, "Distance in meters the samples were taken at")
	input := flag.String("in", "", "CSV of raw,filtered[,batteryMv] samples (- for stdin)")
	comment := flag.String("comment", "", "Comment stored with the result")
	remove := flag.Float64("remove", 0, "Remove the result at this distance")
	clearAll := flag.Bool("clear", false, "Remove every stored result")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	store, err := cfg.Calibration.OpenStore()
	if err != nil {
		log.Fatalf("Failed to open calibration store: %v", err)
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	ctl := calibration.NewController(distance.NewLogDistanceModel(), store, cfg.Calibration.Controller())
	if err := ctl.Load(); err != nil {
		log.Fatalf("Failed to load calibration: %v", err)
	}

	switch {
	case *clearAll:
		err = ctl.ClearAll()
	case *remove > 0:
		err = ctl.Remove(*remove)
	case *input != "":
		err = run(ctl, *input, *dist, *comment)
	}
	if err != nil {
		log.Fatal(err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(struct {
		Model   distance.ModelInfo   `json:"model"`
		Results []calibration.Result `json:"results"`
	}{ctl.Model().Info(), ctl.Results()})
}

func run(ctl *calibration.Controller, path string, d float64, comment string) error {
	in := os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	samples, err := readSamples(in)
	if err != nil {
		return err
	}
	if err := ctl.Start(d); err != nil {
		return err
	}
	for _, s := range samples {
		ctl.AddSample(s)
		if ctl.State() != calibration.Collecting {
			break
		}
	}

	res, err := ctl.Complete(comment)
	if err != nil && !errors.Is(err, calibration.ErrPersist) {
		ctl.Cancel()
		return err
	}
	log.Printf("%.2fm: raw %.2f filtered %.2f sd %.2f over %d samples",
		res.Distance, res.AverageRawRssi, res.AverageFilteredRssi, res.StdDeviation, res.SampleCount)
	return err
}

// readSamples parses raw,filtered[,batteryMv] rows. A header row is skipped.
func readSamples(r io.Reader) ([]calibration.Sample, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []calibration.Sample
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		line++
		if len(rec) < 2 {
			return nil, fmt.Errorf("line %d: want raw,filtered[,batteryMv]", line)
		}

		raw, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		filtered, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		s := calibration.Sample{RawRssi: raw, FilteredRssi: filtered}
		if len(rec) > 2 && strings.TrimSpace(rec[2]) != "" {
			if s.BatteryMv, err = strconv.Atoi(strings.TrimSpace(rec[2])); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}
		out = append(out, s)
	}
}
