package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ranging-go/binlog"
	"ranging-go/calibration"
	"ranging-go/config"
	"ranging-go/distance"
	"ranging-go/publish"
	"ranging-go/server"
	"ranging-go/web"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (optional)")
	listen := flag.String("listen", "", "UDP listen address, overrides server.listen")
	httpAddr := flag.String("http", "", "HTTP/WebSocket address, overrides server.http. \"off\" to disable.")
	static := flag.String("static", "", "Directory of static web files")
	capturePath := flag.String("capture", "", "Path to output capture file or directory (optional)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *httpAddr != "" {
		cfg.Server.HTTP = *httpAddr
	}
	if *static != "" {
		cfg.Server.Static = *static
	}
	if *capturePath != "" {
		cfg.Server.Capture = *capturePath
	}

	pcfg, err := cfg.Pipeline.Distance()
	if err != nil {
		log.Fatalf("Invalid pipeline config: %v", err)
	}

	store, err := cfg.Calibration.OpenStore()
	if err != nil {
		log.Fatalf("Failed to open calibration store: %v", err)
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	model := distance.NewLogDistanceModel()
	calib := calibration.NewController(model, store, cfg.Calibration.Controller())
	if err := calib.Load(); err != nil {
		log.Printf("Starting uncalibrated: %v", err)
	}

	udpSvr, err := server.NewUdpServer(cfg.Server.Listen, model, pcfg, calib)
	if err != nil {
		log.Fatalf("Failed to create UDP server: %v", err)
	}
	udpSvr.SetCalibrationPeer(cfg.Calibration.Peer)
	udpSvr.SetFlushAfter(time.Duration(cfg.Server.FlushAfterMs) * time.Millisecond)

	if cfg.Server.HTTP != "" && cfg.Server.HTTP != "off" {
		webSvr := web.NewServer(udpSvr)
		go func() {
			if err := webSvr.Start(cfg.Server.HTTP, cfg.Server.Static); err != nil {
				log.Printf("Web server stopped: %v", err)
			}
		}()
		udpSvr.SetWebHub(webSvr.Hub)
	}

	pub, err := publish.Connect(cfg.MQTT)
	if err != nil {
		log.Fatalf("Failed to connect to MQTT broker: %v", err)
	}
	if pub != nil {
		defer pub.Close()
		udpSvr.SetPublisher(pub)
	}

	fwd, err := cfg.Forward.Sender()
	if err != nil {
		log.Fatalf("Invalid forward config: %v", err)
	}
	if fwd != nil {
		if err := fwd.Start(); err != nil {
			log.Fatalf("Failed to start forwarder: %v", err)
		}
		defer fwd.Stop()
		udpSvr.SetForwarder(fwd)
		log.Printf("Forwarding records to %d targets", fwd.Targets())
	}

	if cfg.Server.Capture != "" {
		// Auto-generate name if directory
		path := cfg.Server.Capture
		if fi, err := os.Stat(path); err == nil && fi.IsDir() {
			path = filepath.Join(path, fmt.Sprintf("RSSI_%s.pcap", time.Now().Format("20060102150405")))
		}

		cw, err := binlog.NewCaptureWriter(path)
		if err != nil {
			log.Fatalf("Failed to create capture writer: %v", err)
		}
		defer cw.Close()
		udpSvr.SetCaptureWriter(cw)
		log.Printf("Logging frames to %s", path)
	}

	go udpSvr.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	udpSvr.Stop()
}
