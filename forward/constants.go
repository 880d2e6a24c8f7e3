package forward

import "time"

// Message classes. A target receives a message when every bit of the
// message flag is set in its mask.
const (
	FlagDistance    = 1
	FlagBattery     = 2
	FlagCalibration = 4

	FlagAll = FlagDistance | FlagBattery | FlagCalibration
)

const (
	queueLen     = 1000
	dialTimeout  = 2 * time.Second
	writeTimeout = 5 * time.Second
)
