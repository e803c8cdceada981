package sim

import "sort"

// Clock is a manual-advance tick source. Time only moves while a
// process computes or the core sleeps, so every run is reproducible.
type Clock struct {
	now    uint64
	alarms []alarm
	seq    int
}

type alarm struct {
	at   uint64
	seq  int
	fire func()
}

func NewClock() *Clock {
	return &Clock{}
}

func (c *Clock) Now() uint64 {
	return c.now
}

func (c *Clock) SetAlarm(at uint64, fire func()) {
	c.alarms = append(c.alarms, alarm{at: at, seq: c.seq, fire: fire})
	c.seq++

	sort.SliceStable(c.alarms, func(i, j int) bool {
		if c.alarms[i].at != c.alarms[j].at {
			return c.alarms[i].at < c.alarms[j].at
		}
		return c.alarms[i].seq < c.alarms[j].seq
	})
}

// Poll fires every alarm that has expired, oldest deadline first.
func (c *Clock) Poll() {
	for len(c.alarms) > 0 && c.alarms[0].at <= c.now {
		a := c.alarms[0]
		c.alarms = c.alarms[1:]
		a.fire()
	}
}

// Sleep advances time to the next armed alarm and fires it, standing
// in for the wait-for-interrupt idle of real hardware.
func (c *Clock) Sleep() bool {
	if len(c.alarms) == 0 {
		return false
	}

	if c.alarms[0].at > c.now {
		c.now = c.alarms[0].at
	}
	c.Poll()

	return true
}

// advance moves time forward, without firing alarms: expiry is
// observed by the kernel's next Poll, the way a pending interrupt
// waits for the handler.
func (c *Clock) advance(ticks uint64) {
	c.now += ticks
}
