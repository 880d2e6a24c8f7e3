package main

import (
	"flag"
	"log"
	"math"
	"time"

	"ranging-go/distance"
	"ranging-go/forward"
)

// Sends a synthetic walk past a receiver so downstream consumers can be
// tested without tags.
func main() {
	udpAddr := flag.String("udp", "127.0.0.1:5555", "UDP destination")
	tcpAddr := flag.String("tcp", "127.0.0.1:6666", "TCP destination")
	header := flag.String("hdr", "RNG", "Header string")
	peer := flag.String("peer", "0000beef", "Tag address to report")
	flag.Parse()

	sender := forward.NewSender()
	sender.SetHeader(*header)

	if err := sender.AddUDPSender(*udpAddr, forward.FlagDistance); err != nil {
		log.Fatalf("Failed to add UDP sender: %v", err)
	}
	sender.AddTCPSender(*tcpAddr, forward.FlagAll)

	if err := sender.Start(); err != nil {
		log.Fatalf("Failed to start sender: %v", err)
	}
	defer sender.Stop()

	log.Println("Sender started. Press Ctrl+C to exit.")

	model := distance.NewLogDistanceModel()
	for i := 0; ; i++ {
		now := time.Now().UnixMilli()
		d := 5 + 4*math.Sin(float64(i)/10)
		rssi := model.PredictRSSI(d)

		// distance goes to both, battery only to TCP
		sender.Send(forward.FormatDistance(*peer, now, d, d, distance.SignalConfidence(rssi), distance.MethodClustered), forward.FlagDistance)
		if i%10 == 0 {
			sender.Send(forward.FormatBattery(*peer, now, 3700-i/10), forward.FlagBattery)
		}

		time.Sleep(time.Second)
	}
}
