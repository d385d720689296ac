// Package timex converts between wall time, frequencies and alarm ticks.
package timex

import "time"

// NowMs returns Unix milliseconds.
func NowMs() int64 { return time.Now().UnixMilli() }

// Period returns the interval between events at freqHz. Zero is treated as
// 1 Hz.
func Period(freqHz uint32) time.Duration {
	if freqHz == 0 {
		freqHz = 1
	}
	return time.Second / time.Duration(freqHz)
}

// MsToTicks converts milliseconds to alarm ticks, saturating instead of
// wrapping.
func MsToTicks(ms, ticksPerMs uint32) uint32 {
	t := uint64(ms) * uint64(ticksPerMs)
	if t > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(t)
}
