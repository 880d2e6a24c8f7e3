// Package calibration collects RSSI at operator-chosen distances and turns
// each run into a calibration point for the path-loss model.
package calibration

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"ranging-go/distance"
)

const (
	DefaultTargetSamples  = 110
	DefaultDiscardSamples = 10
)

var (
	// ErrNotReady is returned when Complete is called before the run has
	// collected its target sample count.
	ErrNotReady = errors.New("calibration not ready")
	// ErrNoDistance is returned when a run is started without a positive distance.
	ErrNoDistance = errors.New("no calibration distance selected")
	// ErrPersist marks a storage failure. The in-memory state is still updated.
	ErrPersist = errors.New("calibration not persisted")
)

type State int

const (
	Idle State = iota
	Collecting
	Complete
)

func (s State) String() string {
	switch s {
	case Collecting:
		return "collecting"
	case Complete:
		return "complete"
	default:
		return "idle"
	}
}

type Config struct {
	TargetSamples  int
	DiscardSamples int
}

func DefaultConfig() Config {
	return Config{TargetSamples: DefaultTargetSamples, DiscardSamples: DefaultDiscardSamples}
}

// Controller drives calibration runs and owns the per-distance result set.
// It is shared between the UDP ingest loop and HTTP handlers, so every
// method takes the controller lock. Store writes happen outside it.
type Controller struct {
	mu      sync.Mutex
	modelMu sync.Locker // guards model, taken after mu
	saveMu  sync.Mutex  // orders store writes
	model   *distance.LogDistanceModel
	store   Storage
	cfg     Config
	now     func() time.Time

	state    State
	selected float64
	samples  []Sample
	results  map[float64]Result
}

// NewController wires a controller to the shared model. store may be nil,
// in which case results only live in memory.
func NewController(model *distance.LogDistanceModel, store Storage, cfg Config) *Controller {
	if model == nil {
		model = distance.NewLogDistanceModel()
	}
	if cfg.TargetSamples <= 0 {
		cfg.TargetSamples = DefaultTargetSamples
	}
	if cfg.DiscardSamples < 0 || cfg.DiscardSamples >= cfg.TargetSamples {
		cfg.DiscardSamples = 0
	}
	return &Controller{
		modelMu: new(sync.Mutex),
		model:   model,
		store:   store,
		cfg:     cfg,
		now:     time.Now,
		results: make(map[float64]Result),
	}
}

// SetModelLock installs the lock that readers of the shared model hold.
// The controller never calls into storage while holding it.
func (c *Controller) SetModelLock(l sync.Locker) {
	c.mu.Lock()
	c.modelMu = l
	c.mu.Unlock()
}

// Load restores persisted results and refits the model from them.
func (c *Controller) Load() error {
	if c.store == nil {
		return nil
	}
	loaded, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("%w: loading results: %w", ErrPersist, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = make(map[float64]Result, len(loaded))
	for d, r := range loaded {
		if d <= 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			log.Printf("calibration: skipping stored result at %.2fm", d)
			continue
		}
		c.results[d] = r
	}
	c.modelMu.Lock()
	c.model.Load(points(c.results))
	summary := c.modelSummary()
	c.modelMu.Unlock()
	log.Printf("calibration: restored %d results, %s", len(c.results), summary)
	return nil
}

// Select records the distance the operator intends to calibrate next.
func (c *Controller) Select(d float64) {
	c.mu.Lock()
	c.selected = d
	c.mu.Unlock()
}

// Start begins a collection run at d, discarding any run in progress.
func (c *Controller) Start(d float64) error {
	if !(d > 0) || math.IsInf(d, 0) {
		return ErrNoDistance
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = d
	c.samples = make([]Sample, 0, c.cfg.TargetSamples)
	c.state = Collecting
	log.Printf("calibration: collecting %d samples at %.2fm", c.cfg.TargetSamples, d)
	return nil
}

// AddSample appends s while a run is collecting and reports whether it was
// kept. Non-finite readings are dropped; the rest are clamped to the RSSI range.
func (c *Controller) AddSample(s Sample) bool {
	if !finite(s.RawRssi) || !finite(s.FilteredRssi) {
		return false
	}
	s.RawRssi = clampRssi(s.RawRssi)
	s.FilteredRssi = clampRssi(s.FilteredRssi)
	if s.BatteryMv < 0 {
		s.BatteryMv = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Collecting {
		return false
	}
	c.samples = append(c.samples, s)
	if len(c.samples) >= c.cfg.TargetSamples {
		c.state = Complete
		log.Printf("calibration: %.2fm ready to complete", c.selected)
	}
	return true
}

// Complete summarises the finished run, upserts it, feeds the model and
// persists the full result set. When only persistence fails the result is
// returned together with an error wrapping ErrPersist.
func (c *Controller) Complete(comment string) (Result, error) {
	res, err := c.complete(comment)
	if err != nil {
		return res, err
	}
	return res, c.persist(false)
}

func (c *Controller) complete(comment string) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Complete {
		return Result{}, fmt.Errorf("%w: %s with %d/%d samples",
			ErrNotReady, c.state, len(c.samples), c.cfg.TargetSamples)
	}

	kept := c.samples[c.cfg.DiscardSamples:]
	raw := make([]float64, len(kept))
	filtered := make([]float64, len(kept))
	battery := make([]float64, len(kept))
	for i, s := range kept {
		raw[i] = s.RawRssi
		filtered[i] = s.FilteredRssi
		battery[i] = float64(s.BatteryMv)
	}
	meanFiltered, std := stat.PopMeanStdDev(filtered, nil)

	res := Result{
		ID:                  uuid.NewString(),
		Distance:            c.selected,
		AverageRawRssi:      stat.Mean(raw, nil),
		AverageFilteredRssi: meanFiltered,
		StdDeviation:        std,
		SampleCount:         len(kept),
		AverageBatteryMv:    stat.Mean(battery, nil),
		Comment:             comment,
		CreatedAtMs:         c.now().UnixMilli(),
	}
	c.modelMu.Lock()
	err := c.model.AddPoint(res.Distance, res.AverageFilteredRssi)
	summary := c.modelSummary()
	c.modelMu.Unlock()
	if err != nil {
		return res, fmt.Errorf("adding calibration point: %w", err)
	}
	c.results[res.Distance] = res
	c.state = Idle
	c.samples = nil

	log.Printf("calibration: %.2fm avg %.2f dBm sd %.2f, %s",
		res.Distance, res.AverageFilteredRssi, res.StdDeviation, summary)
	return res, nil
}

// Cancel aborts the current run. Completed results are untouched.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		log.Printf("calibration: run at %.2fm cancelled after %d samples", c.selected, len(c.samples))
	}
	c.state = Idle
	c.samples = nil
}

// Remove drops the result at d and refits the model.
func (c *Controller) Remove(d float64) error {
	c.mu.Lock()
	if _, ok := c.results[d]; !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.results, d)
	c.modelMu.Lock()
	c.model.RemovePoint(d)
	c.modelMu.Unlock()
	c.mu.Unlock()

	return c.persist(false)
}

// ClearAll forgets every result, resets the model and clears the store.
func (c *Controller) ClearAll() error {
	c.mu.Lock()
	c.results = make(map[float64]Result)
	c.modelMu.Lock()
	c.model.Clear()
	c.modelMu.Unlock()
	c.mu.Unlock()
	log.Printf("calibration: cleared")

	return c.persist(true)
}

// Results returns completed results ordered by distance.
func (c *Controller) Results() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedResults(c.results)
}

func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Progress{
		SelectedDistance:      c.selected,
		SampleCount:           len(c.samples),
		TargetSampleCount:     c.cfg.TargetSamples,
		IsCollecting:          c.state == Collecting,
		IsComplete:            c.state == Complete,
		CompletedCalibrations: len(c.results),
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Model() *distance.LogDistanceModel { return c.model }

// persist writes the current result set, or clears the store when clearEmpty is
// set and nothing was added since. It must be called without c.mu held;
// saveMu keeps a stale snapshot from landing after a newer one.
func (c *Controller) persist(clearEmpty bool) error {
	if c.store == nil {
		return nil
	}
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	snapshot := make(map[float64]Result, len(c.results))
	for d, r := range c.results {
		snapshot[d] = r
	}
	c.mu.Unlock()

	if clearEmpty && len(snapshot) == 0 {
		if err := c.store.Clear(); err != nil {
			return fmt.Errorf("%w: clearing store: %w", ErrPersist, err)
		}
		return nil
	}
	if err := c.store.Save(snapshot); err != nil {
		log.Printf("calibration: save failed: %v", err)
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

// modelSummary must be called with modelMu held.
func (c *Controller) modelSummary() string {
	info := c.model.Info()
	return fmt.Sprintf("model A=%.2f n=%.2f R2=%.3f points=%d",
		info.ReferenceRssi, info.PathLossExponent, info.RSquared, info.CalibrationPointCount)
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }

func clampRssi(x float64) float64 {
	return math.Max(distance.RssiFloor, math.Min(distance.RssiCeiling, x))
}
