package logmsg

import "time"

// nowStamp captures the current wall clock as a Stamp with microsecond
// resolution and the local zone's current offset.
func nowStamp() Stamp {
	now := time.Now()
	_, offset := now.Zone()
	return Stamp{
		Sec: now.Unix(),
		Usec: int32(now.Nanosecond() / 1000),
		ZoneOffset: int32(offset),
	}
}
