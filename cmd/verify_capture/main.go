package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"

	"ranging-go/binlog"
)

func main() {
	file1 := flag.String("1", "", "Original capture")
	file2 := flag.String("2", "", "Replayed capture")
	flag.Parse()

	if *file1 == "" || *file2 == "" {
		log.Fatal("Usage: verify_capture -1 <original> -2 <replayed>")
	}

	pkts1, err := readPackets(*file1)
	if err != nil {
		log.Fatalf("Error reading %s: %v", *file1, err)
	}

	pkts2, err := readPackets(*file2)
	if err != nil {
		log.Fatalf("Error reading %s: %v", *file2, err)
	}

	fmt.Printf("Original frames: %d\n", len(pkts1))
	fmt.Printf("Replayed frames: %d\n", len(pkts2))

	if mismatches := compare(pkts1, pkts2); mismatches > 0 {
		fmt.Println("FAILURE: Mismatches found.")
		os.Exit(1)
	}
	fmt.Println("SUCCESS: All payloads match.")
}

// compare reports up to ten differing payloads and returns the mismatch count.
func compare(a, b [][]byte) int {
	n := min(len(a), len(b))

	mismatches := 0
	for i := 0; i < n; i++ {
		if bytes.Equal(a[i], b[i]) {
			continue
		}
		fmt.Printf("Mismatch at frame %d: len1=%d len2=%d\n", i, len(a[i]), len(b[i]))
		mismatches++
		if mismatches > 10 {
			fmt.Println("Too many mismatches, stopping.")
			break
		}
	}

	if len(a) != len(b) {
		fmt.Printf("Count mismatch: %d vs %d\n", len(a), len(b))
		mismatches++
	}
	return mismatches
}

func readPackets(path string) ([][]byte, error) {
	recs, err := binlog.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var packets [][]byte
	for _, r := range recs {
		if r.Flag == binlog.FlagRx {
			packets = append(packets, r.Payload)
		}
	}
	return packets, nil
}
