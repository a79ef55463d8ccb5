package vfs

import "time"

// Windows FILETIME epoch: January 1, 1601 UTC
// Difference from Unix epoch (January 1, 1970) in 100-nanosecond intervals
const filetimeUnixDiff = 116444736000000000

// TimeToFiletime converts Go time.Time to Windows FILETIME
func TimeToFiletime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano()/100) + filetimeUnixDiff
}

// FiletimeToTime converts Windows FILETIME to Go time.Time
func FiletimeToTime(ft uint64) time.Time {
	if ft == 0 || ft < filetimeUnixDiff {
		return time.Time{}
	}
	return time.Unix(0, int64(ft-filetimeUnixDiff)*100)
}
