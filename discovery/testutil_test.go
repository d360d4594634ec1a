package discovery

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/uber-go/tally/v4"
)

func waitForCondition(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before timeout %s", timeout)
}

func counterValue(scope tally.TestScope, name string, tags map[string]string) int64 {
	var total int64
	for _, counter := range scope.Snapshot().Counters() {
		if counter.Name() != name || !tagsMatch(counter.Tags(), tags) {
			continue
		}
		total += counter.Value()
	}
	return total
}

func gaugeValue(scope tally.TestScope, name string) (float64, bool) {
	for _, gauge := range scope.Snapshot().Gauges() {
		if gauge.Name() == name {
			return gauge.Value(), true
		}
	}
	return 0, false
}

func tagsMatch(got, want map[string]string) bool {
	for key, value := range want {
		if got[key] != value {
			return false
		}
	}
	return true
}

func mustAddr(t *testing.T, raw string) netip.Addr {
	t.Helper()
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		t.Fatalf("parse addr %q: %v", raw, err)
	}
	return addr
}

func mustAnnouncement(t *testing.T, name string, port uint16, instanceID string) []byte {
	t.Helper()
	payload, err := NewAnnouncement(name, port, instanceID).Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return payload
}

func udpSource(ip string, port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
}

// runTasks starts each task and returns a func that cancels them and waits
// for every one to return.
func runTasks(tasks ...func(context.Context)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func(task func(context.Context)) {
			defer wg.Done()
			task(ctx)
		}(task)
	}
	return func() {
		cancel()
		wg.Wait()
	}
}
