// Package ratelimit limits requests per client address, with fixed time windows
// and limits for the address and its surrounding subnets.
package ratelimit

import (
	"net/netip"
	"sync"
	"time"
)

// Prefix lengths of the subnets a client address is counted in. A client is
// limited by its own address (or IPv6 /64), and by the wider subnets so a
// client can't evade limits by switching between nearby addresses.
var (
	prefixes4 = [3]int{32, 26, 21}
	prefixes6 = [3]int{64, 48, 32}
)

// Limiter counts requests in one or more windows. A Limiter is safe for
// concurrent use. The zero Limiter allows everything.
type Limiter struct {
	Windows []Window

	mu     sync.Mutex
	states []windowState
}

// Window has the maximum counts for a period, for the three subnet sizes, from
// narrowest to widest.
type Window struct {
	Period time.Duration
	Limits [3]int64
}

type windowState struct {
	index  int64 // Time divided by period.
	counts map[netip.Prefix]int64
}

// Add counts n for ip at time tm. If that would exceed any limit, nothing is
// counted and false is returned. Counts are reset when tm is in a new period of
// a window.
func (l *Limiter) Add(ip netip.Addr, tm time.Time, n int64) bool {
	return l.add(ip, tm, n, true)
}

// CanAdd returns whether Add would succeed, without counting.
func (l *Limiter) CanAdd(ip netip.Addr, tm time.Time, n int64) bool {
	return l.add(ip, tm, n, false)
}

func subnets(ip netip.Addr) [3]netip.Prefix {
	ip = ip.Unmap()
	lengths := prefixes6
	if ip.Is4() {
		lengths = prefixes4
	}
	var r [3]netip.Prefix
	for i, n := range lengths {
		r[i], _ = ip.WithZone("").Prefix(n)
	}
	return r
}

func (l *Limiter) add(ip netip.Addr, tm time.Time, n int64, record bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.states) != len(l.Windows) {
		l.states = make([]windowState, len(l.Windows))
	}
	nets := subnets(ip)
	for i, w := range l.Windows {
		st := &l.states[i]
		index := tm.UnixNano() / int64(w.Period)
		if st.counts == nil || index > st.index {
			*st = windowState{index, map[netip.Prefix]int64{}}
		}
		for j, p := range nets {
			if st.counts[p]+n > w.Limits[j] {
				return false
			}
		}
	}
	if record {
		for i := range l.Windows {
			for _, p := range nets {
				l.states[i].counts[p] += n
			}
		}
	}
	return true
}
