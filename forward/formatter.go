package forward

import (
	"fmt"
	"time"
)

const tsLayout = "20060102150405.000"

// FormatDistance renders one smoothed distance as a text record:
//
//	dist:NNN,<peer>,<time>,<smoothed>,<raw>,<confidence>,<method>\r\n
//
// NNN is the total record length, written into the header padding.
func FormatDistance(peer string, tsMs int64, smoothed, raw, confidence float64, method string) []byte {
	body := fmt.Sprintf("dist:   ,%s,%s,%.2f,%.2f,%.3f,%s\r\n",
		peer, time.UnixMilli(tsMs).UTC().Format(tsLayout), smoothed, raw, confidence, method)
	return fillLength([]byte(body), 5)
}

func FormatBattery(peer string, tsMs int64, mv int) []byte {
	body := fmt.Sprintf("batt:   ,%s,%s,%d\r\n", peer, time.UnixMilli(tsMs).UTC().Format(tsLayout), mv)
	return fillLength([]byte(body), 5)
}

// FormatCalibration announces a completed calibration run together with the
// refitted model.
func FormatCalibration(d, avgRssi, a, n float64, points int) []byte {
	body := fmt.Sprintf("cali:   ,%.2f,%.2f,%.2f,%.3f,%d\r\n", d, avgRssi, a, n, points)
	return fillLength([]byte(body), 5)
}

// fillLength writes len(b) as three ASCII digits starting at b[at]. The
// hundreds digit stays blank below 100.
func fillLength(b []byte, at int) []byte {
	n := len(b)
	if n >= 100 {
		b[at] = byte('0' + (n/100)%10)
	}
	b[at+1] = byte('0' + (n/10)%10)
	b[at+2] = byte('0' + n%10)
	return b
}
