package distance

import (
	"fmt"
	"math"
)

// Human movement speeds (m/s).
const (
	WalkingSpeed      = 1.4
	BriskWalkingSpeed = 2.0
	RunningSpeed      = 3.5
)

// Smoothing limits.
const (
	MaxJumpDistance           = 5.0
	HighConfidenceThreshold   = 0.75
	MediumConfidenceThreshold = 0.5
)

type MovementMode int

const (
	Walking MovementMode = iota
	BriskWalking
	Running
)

func (m MovementMode) String() string {
	switch m {
	case BriskWalking:
		return "brisk"
	case Running:
		return "running"
	default:
		return "walking"
	}
}

// ParseMovementMode accepts the names produced by MovementMode.String.
func ParseMovementMode(s string) (MovementMode, error) {
	switch s {
	case "", "walking":
		return Walking, nil
	case "brisk", "brisk_walking":
		return BriskWalking, nil
	case "running":
		return Running, nil
	}
	return Walking, fmt.Errorf("unknown movement mode %q", s)
}

// SmoothedResult is the final display distance.
type SmoothedResult struct {
	Distance        float64 `json:"distance"`
	IsSmoothed      bool    `json:"isSmoothed"`
	VelocityLimited bool    `json:"velocityLimited"`
	CurrentVelocity float64 `json:"currentVelocity"`
}

// VelocitySmoother bounds how fast the displayed distance may change.
type VelocitySmoother struct {
	maxVelocity float64

	tracking   bool
	lastDist   float64
	lastTimeMs int64
	smoothed   float64
	target     float64
}

func NewVelocitySmoother() *VelocitySmoother {
	return &VelocitySmoother{maxVelocity: WalkingSpeed}
}

// Process feeds one raw distance taken at tsMs.
func (v *VelocitySmoother) Process(d, confidence float64, tsMs int64) SmoothedResult {
	if !v.tracking {
		v.tracking = true
		v.lastDist = d
		v.lastTimeMs = tsMs
		v.smoothed = d
		v.target = d
		return SmoothedResult{Distance: d}
	}

	dt := float64(tsMs-v.lastTimeMs) / 1000.0
	if dt <= 0 {
		return SmoothedResult{Distance: v.smoothed}
	}

	change := d - v.lastDist
	absChange := math.Abs(change)
	velocity := absChange / dt

	// Only a jump that is both large and far beyond running pace is dropped.
	if absChange > MaxJumpDistance && velocity > RunningSpeed*2 {
		return SmoothedResult{
			Distance:        v.smoothed,
			IsSmoothed:      true,
			VelocityLimited: true,
			CurrentVelocity: velocity,
		}
	}

	limit := v.maxVelocity
	switch {
	case confidence > HighConfidenceThreshold:
	case confidence > MediumConfidenceThreshold:
		limit *= 1.2
	default:
		limit *= 1.5
	}

	next := d
	limited := false
	if velocity > limit {
		next = v.lastDist + math.Copysign(limit*dt, change)
		limited = true
	}
	v.target = d

	v.smoothed += (next - v.smoothed) * smoothingFactor(absChange)
	v.lastDist = v.smoothed
	v.lastTimeMs = tsMs

	return SmoothedResult{
		Distance:        v.smoothed,
		IsSmoothed:      true,
		VelocityLimited: limited,
		CurrentVelocity: velocity,
	}
}

// smoothingFactor weighs large jumps less so they are approached gradually.
func smoothingFactor(absChange float64) float64 {
	switch {
	case absChange > 3.0:
		return 0.1
	case absChange > 1.5:
		return 0.15
	case absChange > 0.5:
		return 0.2
	case absChange > 0.2:
		return 0.3
	default:
		return 0.4
	}
}

// SetMaxVelocity sets the baseline speed bound, clamped to [walking, running].
func (v *VelocitySmoother) SetMaxVelocity(mps float64) {
	v.maxVelocity = clamp(mps, WalkingSpeed, RunningSpeed)
}

func (v *VelocitySmoother) SetMovementMode(m MovementMode) {
	switch m {
	case BriskWalking:
		v.maxVelocity = BriskWalkingSpeed
	case Running:
		v.maxVelocity = RunningSpeed
	default:
		v.maxVelocity = WalkingSpeed
	}
}

func (v *VelocitySmoother) MaxVelocity() float64 { return v.maxVelocity }

// Reset clears tracking state but keeps the configured speed bound.
func (v *VelocitySmoother) Reset() {
	v.tracking = false
	v.lastDist = 0
	v.lastTimeMs = 0
	v.smoothed = 0
	v.target = 0
}

func (v *VelocitySmoother) Tracking() bool { return v.tracking }

func (v *VelocitySmoother) Status() string {
	return fmt.Sprintf("tracking=%t max=%.1fm/s current=%.2fm target=%.2fm",
		v.tracking, v.maxVelocity, v.smoothed, v.target)
}
