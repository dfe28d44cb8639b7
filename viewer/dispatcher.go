package viewer

import (
	"sync/atomic"

	"github.com/pion/logging"

	"webkvm/wire"
)

// Dispatcher classifies binary frame messages and feeds them to the
// render scheduler. Malformed messages are counted and dropped.
type Dispatcher struct {
	sched  *RenderScheduler
	log    logging.LeveledLogger
	errors atomic.Uint64
}

func NewDispatcher(sched *RenderScheduler, log logging.LeveledLogger) *Dispatcher {
	return &Dispatcher{sched: sched, log: log}
}

// Dispatch handles one message. Bad messages only show up in Errors.
// msg must not be reused by the caller.
func (d *Dispatcher) Dispatch(msg []byte) {
	f, err := wire.Parse(msg)
	if err != nil {
		if n := d.errors.Add(1); n == 1 || n%100 == 0 {
			d.log.Warnf("dropping frame message (%d so far): %v", n, err)
		}
		return
	}
	d.sched.Submit(f)
}

func (d *Dispatcher) Errors() uint64 {
	return d.errors.Load()
}
