package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"ranging-go/binlog"
	"ranging-go/calibration"
	"ranging-go/distance"
	"ranging-go/forward"
	"ranging-go/publish"
	"ranging-go/web"
)

const (
	DefaultListen = ":44333"
	MaxPacketSize = 65535

	// header flag: body starts with a one byte seconds prefix
	flagSecPrefix = 0x2

	flushInterval = 500 * time.Millisecond
)

// Listener receives every pipeline update. At most one is installed.
type Listener interface {
	OnUpdate(peer string, u distance.Update)
}

type wsDistance struct {
	Peer            string   `json:"peer"`
	TS              int64    `json:"ts"`
	Rssi            float64  `json:"rssi"`
	Accepted        bool     `json:"accepted"`
	FilteredRssi    float64  `json:"filteredRssi"`
	Distance        *float64 `json:"distance,omitempty"`
	RawDistance     *float64 `json:"rawDistance,omitempty"`
	Confidence      *float64 `json:"confidence,omitempty"`
	Method          string   `json:"method,omitempty"`
	VelocityLimited bool     `json:"velocityLimited"`
	BatteryMv       int      `json:"batteryMv,omitempty"`
}

type peerState struct {
	pipeline   *distance.Pipeline
	batteryMv  int
	lastSeenMs int64
	flushed    bool
	last       *distance.Update
}

type emitted struct {
	peer      string
	batteryMv int
	update    distance.Update
}

// UdpServer receives bridge datagrams, runs one pipeline per tag and fans
// results out to the web hub, MQTT and the installed listener.
type UdpServer struct {
	conn     *net.UDPConn
	model    *distance.LogDistanceModel
	cfg      distance.PipelineConfig
	calib    *calibration.Controller
	capture  *binlog.CaptureWriter
	webHub   *web.Hub
	pub      *publish.Publisher
	fwd      *forward.Sender
	listener Listener

	calibPeer    string
	flushAfterMs int64
	now          func() time.Time
	running      atomic.Bool
	done         chan struct{}
	stopOnce     sync.Once

	// mu serialises every pipeline and the shared model. The calibration
	// controller takes it after its own lock and never holds it across store
	// writes, so calibration calls must not be made with mu held.
	mu    sync.Mutex
	peers map[string]*peerState
}

// New builds a server without a socket, as used by replay.
func New(model *distance.LogDistanceModel, cfg distance.PipelineConfig, calib *calibration.Controller) *UdpServer {
	if model == nil && calib != nil {
		model = calib.Model()
	}
	if model == nil {
		model = distance.NewLogDistanceModel()
	}
	if calib == nil {
		calib = calibration.NewController(model, nil, calibration.DefaultConfig())
	}
	s := &UdpServer{
		model: model,
		cfg:   cfg,
		calib: calib,
		now:   time.Now,
		done:  make(chan struct{}),
		peers: make(map[string]*peerState),
	}
	calib.SetModelLock(&s.mu)
	return s
}

func NewUdpServer(listen string, model *distance.LogDistanceModel, cfg distance.PipelineConfig, calib *calibration.Controller) (*UdpServer, error) {
	if listen == "" {
		listen = DefaultListen
	}
	addr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", listen, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	conn.SetReadBuffer(256 * 1024)

	s := New(model, cfg, calib)
	s.conn = conn
	return s, nil
}

func (s *UdpServer) SetCaptureWriter(cw *binlog.CaptureWriter) { s.capture = cw }
func (s *UdpServer) SetWebHub(h *web.Hub)                      { s.webHub = h }
func (s *UdpServer) SetPublisher(p *publish.Publisher)         { s.pub = p }
func (s *UdpServer) SetForwarder(f *forward.Sender)            { s.fwd = f }
func (s *UdpServer) SetListener(l Listener)                    { s.listener = l }

// SetCalibrationPeer limits calibration input to one tag. Empty accepts any tag.
func (s *UdpServer) SetCalibrationPeer(peer string) { s.calibPeer = peer }

// SetFlushAfter sets how long a tag may be silent before its partial
// batch is forced out. Zero disables stall flushing.
func (s *UdpServer) SetFlushAfter(d time.Duration) { s.flushAfterMs = d.Milliseconds() }

func (s *UdpServer) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

func (s *UdpServer) Start() {
	s.running.Store(true)
	if s.flushAfterMs > 0 {
		go s.flushLoop()
	}

	buf := make([]byte, MaxPacketSize)
	log.Printf("UDP Server listening on %s", s.conn.LocalAddr().String())

	for s.running.Load() {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if s.running.Load() {
				log.Printf("Read error: %v", err)
			}
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		s.handlePacket(data, addr, s.now())
	}
}

func (s *UdpServer) Stop() {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		close(s.done)
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

func (s *UdpServer) flushLoop() {
	t := time.NewTicker(flushInterval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-t.C:
			s.flushStale(now.UnixMilli())
		}
	}
}

// handlePacket walks every UNIB frame in a datagram.
func (s *UdpServer) handlePacket(data []byte, addr *net.UDPAddr, recv time.Time) {
	ts := recv.UnixMilli()
	var out []emitted

	offset := 0
	for offset < len(data) {
		if len(data)-offset < UnibHdrLen {
			break
		}

		hdr, err := ParseHeader(data[offset:])
		if err != nil {
			offset++
			continue
		}

		totalLen := UnibWrapLen + hdr.BodyLen
		if offset+totalLen > len(data) {
			break
		}
		frame := data[offset : offset+totalLen]
		offset += totalLen

		if err := checkCRC(frame); err != nil {
			log.Printf("Dropping frame from %v: %v", addr, err)
			continue
		}
		if s.capture != nil {
			_ = s.capture.WritePacket(recv, binlog.FlagRx, addr, frame)
		}

		body := frame[UnibHdrLen : UnibHdrLen+hdr.BodyLen]
		if hdr.Flags&flagSecPrefix != 0 && len(body) > 0 {
			body = body[1:]
		}
		out = append(out, s.processFrame(hdr, body, ts)...)
	}

	s.emit(out)
}

func (s *UdpServer) processFrame(hdr *UnibHeader, body []byte, ts int64) []emitted {
	peer := fmt.Sprintf("%08x", hdr.Addr)

	switch hdr.Type {
	case TypeRssiFrame:
		f, err := ParseRssiFrame(body)
		if err != nil {
			log.Printf("ParseRssiFrame error: %v", err)
			return nil
		}
		out, samples := s.feedRssi(peer, ts, f)
		for _, cs := range samples {
			s.calib.AddSample(cs)
		}
		return out
	case TypeBatteryFrame:
		mv, err := ParseBatteryFrame(body)
		if err != nil {
			log.Printf("ParseBatteryFrame error: %v", err)
			return nil
		}
		s.mu.Lock()
		s.peer(peer).batteryMv = mv
		s.mu.Unlock()
		if s.fwd != nil {
			s.fwd.Send(forward.FormatBattery(peer, ts, mv), forward.FlagBattery)
		}
	}
	return nil
}

// peer must be called with s.mu held.
func (s *UdpServer) peer(id string) *peerState {
	st, ok := s.peers[id]
	if !ok {
		st = &peerState{pipeline: distance.NewPipeline(s.model, s.cfg)}
		s.peers[id] = st
		log.Printf("New tag %s", id)
	}
	return st
}

// feedRssi runs f through the tag's pipeline and returns the updates along
// with the samples destined for a calibration run.
func (s *UdpServer) feedRssi(peer string, ts int64, f *RssiFrame) ([]emitted, []calibration.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.peer(peer)
	calibrating := s.calibPeer == "" || s.calibPeer == peer

	out := make([]emitted, 0, len(f.Samples))
	var calib []calibration.Sample
	for _, smp := range f.Samples {
		sampleTs := ts - int64(smp.AgeMs)
		u := st.pipeline.Process(distance.Sample{TimestampMs: sampleTs, Rssi: float64(smp.Rssi)})
		st.lastSeenMs = ts
		st.flushed = false
		if u.Result != nil {
			st.last = &u
		}
		if calibrating {
			calib = append(calib, calibration.Sample{
				RawRssi:      u.Sample.Rssi,
				FilteredRssi: u.FilteredRssi,
				BatteryMv:    st.batteryMv,
			})
		}
		out = append(out, emitted{peer: peer, batteryMv: st.batteryMv, update: u})
	}
	return out, calib
}

// flushStale forces a result out of tags that have gone quiet.
func (s *UdpServer) flushStale(nowMs int64) {
	s.mu.Lock()
	var out []emitted
	for id, st := range s.peers {
		if st.flushed || nowMs-st.lastSeenMs < s.flushAfterMs {
			continue
		}
		st.flushed = true
		if u, ok := st.pipeline.Flush(nowMs); ok {
			st.last = &u
			out = append(out, emitted{peer: id, batteryMv: st.batteryMv, update: u})
		}
	}
	s.mu.Unlock()
	s.emit(out)
}

// FlushAll forces out every partial batch, used at the end of a replay.
func (s *UdpServer) FlushAll(tsMs int64) {
	s.mu.Lock()
	var out []emitted
	for id, st := range s.peers {
		if st.flushed {
			continue
		}
		st.flushed = true
		if u, ok := st.pipeline.Flush(tsMs); ok {
			st.last = &u
			out = append(out, emitted{peer: id, batteryMv: st.batteryMv, update: u})
		}
	}
	s.mu.Unlock()
	s.emit(out)
}

func (s *UdpServer) emit(out []emitted) {
	for _, e := range out {
		if s.listener != nil {
			s.listener.OnUpdate(e.peer, e.update)
		}
		if r, sm := e.update.Result, e.update.Smoothed; r != nil && sm != nil {
			if s.pub != nil {
				if err := s.pub.Publish(e.peer, e.update); err != nil {
					log.Printf("MQTT publish for %s: %v", e.peer, err)
				}
			}
			if s.fwd != nil {
				s.fwd.Send(forward.FormatDistance(e.peer, e.update.Sample.TimestampMs,
					sm.Distance, r.Distance, r.Confidence, r.Method), forward.FlagDistance)
			}
		}
		if s.webHub != nil {
			b, _ := json.Marshal(toWs(e))
			s.webHub.Broadcast(b)
		}
	}
}

func toWs(e emitted) wsDistance {
	u := e.update
	msg := wsDistance{
		Peer:         e.peer,
		TS:           u.Sample.TimestampMs,
		Rssi:         u.Sample.Rssi,
		Accepted:     u.Accepted,
		FilteredRssi: u.FilteredRssi,
		BatteryMv:    e.batteryMv,
	}
	if u.Result != nil && u.Smoothed != nil {
		msg.Distance = &u.Smoothed.Distance
		msg.RawDistance = &u.Result.Distance
		msg.Confidence = &u.Result.Confidence
		msg.Method = u.Result.Method
		msg.VelocityLimited = u.Smoothed.VelocityLimited
	}
	return msg
}

func (s *UdpServer) Peers() []web.PeerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]web.PeerStatus, 0, len(s.peers))
	for id, st := range s.peers {
		out = append(out, web.PeerStatus{
			Peer:       id,
			BatteryMv:  st.batteryMv,
			LastSeenMs: st.lastSeenMs,
			Stats:      st.pipeline.Stats(),
			Last:       st.last,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

func (s *UdpServer) ModelInfo() distance.ModelInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model.Info()
}

func (s *UdpServer) CalibrationProgress() calibration.Progress { return s.calib.Progress() }
func (s *UdpServer) CalibrationResults() []calibration.Result  { return s.calib.Results() }

func (s *UdpServer) StartCalibration(d float64) error { return s.calib.Start(d) }

func (s *UdpServer) CompleteCalibration(comment string) (calibration.Result, error) {
	res, err := s.calib.Complete(comment)
	info := s.ModelInfo()

	if s.fwd != nil && (err == nil || errors.Is(err, calibration.ErrPersist)) {
		s.fwd.Send(forward.FormatCalibration(res.Distance, res.AverageFilteredRssi,
			info.ReferenceRssi, info.PathLossExponent, info.CalibrationPointCount), forward.FlagCalibration)
	}
	return res, err
}

func (s *UdpServer) CancelCalibration()                 { s.calib.Cancel() }
func (s *UdpServer) ClearCalibration() error            { return s.calib.ClearAll() }
func (s *UdpServer) RemoveCalibration(d float64) error { return s.calib.Remove(d) }

var _ web.Engine = (*UdpServer)(nil)
