package guest

import "time"

// timebaseHz matches the Xbox 360's fixed 50MHz time-base frequency; guest
// code computes wall-clock durations from mftb deltas using this constant.
const timebaseHz = 50_000_000

var processStart = time.Now()

// ReadTimebase implements mftb: a monotonically increasing counter derived
// from the host clock and scaled to the guest's 50MHz time base, rather
// than a true hardware cycle counter (spec.md §4.3 "50MHz timebase").
func ReadTimebase(ctx *Context) uint64 {
	elapsed := time.Since(processStart)
	return uint64(elapsed.Seconds() * timebaseHz)
}
