package ratelimit_test

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/mjl-/hostoverride/ratelimit"
)

func ExampleLimiter() {
	// Allow short bursts, but no high sustained rate.
	limit := ratelimit.Limiter{
		Windows: []ratelimit.Window{
			{Period: time.Minute, Limits: [...]int64{2, 3, 4}},
			{Period: time.Hour, Limits: [...]int64{4, 6, 8}},
		},
	}

	tm, _ := time.Parse(time.RFC3339, "2006-01-02T15:04:05Z")
	ip1 := netip.MustParseAddr("127.0.0.1")
	ip2 := netip.MustParseAddr("127.0.0.2")

	fmt.Println("1:", limit.Add(ip1, tm, 1))                    // Success.
	fmt.Println("2:", limit.Add(ip1, tm, 1))                    // Success.
	fmt.Println("3:", limit.Add(ip1, tm, 1))                    // Failure, too many from same ip.
	fmt.Println("4:", limit.Add(ip2, tm, 1))                    // Success, different IP, though nearby.
	fmt.Println("5:", limit.Add(ip2, tm, 1))                    // Failure, subnet limit.
	fmt.Println("6:", limit.Add(ip1, tm.Add(time.Minute), 1))   // Success, in next minute.
	fmt.Println("7:", limit.Add(ip1, tm.Add(2*time.Minute), 1)) // Success, in another minute.
	fmt.Println("8:", limit.Add(ip1, tm.Add(3*time.Minute), 1)) // Failure, hourly limit for ip.

	// Output:
	// 1: true
	// 2: true
	// 3: false
	// 4: true
	// 5: false
	// 6: true
	// 7: true
	// 8: false
}
