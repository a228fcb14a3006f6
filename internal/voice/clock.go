package voice

import "time"

// Clock schedules the turn loop's delays. The returned func cancels the
// callback and reports whether it was still pending.
type Clock interface {
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// RealClock uses time.AfterFunc.
func RealClock() Clock { return realClock{} }
