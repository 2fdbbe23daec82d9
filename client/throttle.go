package client

import (
	"time"
)

// Request is one entry of a startup or bulk re-subscribe burst.
type Request struct {
	Kind string // proto.TypeSubscribe, TypeDiscover or TypeGet
	Path string
}

// Kind-dependent spacing between consecutive burst items. The device's
// receive path chokes on near-simultaneous requests right after link
// establishment, so each item fires an increasing delay after the previous
// one.
var throttleStep = map[string]time.Duration{
	"subscribe": 30 * time.Millisecond,
	"discover":  50 * time.Millisecond,
	"get":       80 * time.Millisecond,
}

const throttleDefaultStep = 50 * time.Millisecond

// throttler schedules burst requests over time. The schedule function is
// injectable so tests can run the timers synchronously; the default is
// time.AfterFunc.
type throttler struct {
	schedule func(d time.Duration, fn func())
}

func newThrottler() *throttler {
	return &throttler{
		schedule: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}
}

// Stagger arranges for fire(req) to run once per request, preserving input
// order with strictly increasing delays. The fire callback re-checks
// connection and subscription state itself, which makes the timers
// cancelable in effect without a cancellation token.
func (t *throttler) Stagger(reqs []Request, fire func(Request)) {
	delay := time.Duration(0)
	for _, req := range reqs {
		step, ok := throttleStep[req.Kind]
		if !ok {
			step = throttleDefaultStep
		}
		delay += step
		req := req
		t.schedule(delay, func() { fire(req) })
	}
}
