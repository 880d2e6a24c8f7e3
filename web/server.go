// Package web serves the live distance feed and the calibration API.
package web

import (
	"log"
	"net/http"

	"ranging-go/calibration"
	"ranging-go/distance"
)

// PeerStatus is the latest known state of one tag.
type PeerStatus struct {
	Peer       string                 `json:"peer"`
	BatteryMv  int                    `json:"batteryMv"`
	LastSeenMs int64                  `json:"lastSeenMs"`
	Stats      distance.DistanceStats `json:"stats"`
	Last       *distance.Update       `json:"last,omitempty"`
}

// Engine is what the HTTP API drives. server.UdpServer implements it.
type Engine interface {
	Peers() []PeerStatus
	ModelInfo() distance.ModelInfo
	CalibrationProgress() calibration.Progress
	CalibrationResults() []calibration.Result
	StartCalibration(d float64) error
	CompleteCalibration(comment string) (calibration.Result, error)
	CancelCalibration()
	ClearCalibration() error
	RemoveCalibration(d float64) error
}

type Server struct {
	Hub    *Hub
	engine Engine
}

func NewServer(engine Engine) *Server {
	return &Server{
		Hub:    NewHub(),
		engine: engine,
	}
}

// Handler builds the mux. distDir, when set, is served as the static frontend.
func (s *Server) Handler(distDir string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(s.Hub, w, r)
	})

	if s.engine != nil {
		s.routes(mux)
	}

	if distDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(distDir)))
	}
	return mux
}

// Start runs the hub and blocks serving HTTP on addr.
func (s *Server) Start(addr string, distDir string) error {
	go s.Hub.Run()
	log.Printf("HTTP Server listening on %s", addr)
	return http.ListenAndServe(addr, s.Handler(distDir))
}
