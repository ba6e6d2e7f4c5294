package engine

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"
)

const (
	socksBandLow  = 10800
	socksBandHigh = 20000
	httpBandLow   = 20001
	httpBandHigh  = 30000
	maxPort       = 65535
)

// PortAllocator finds free loopback TCP ports for ephemeral engine
// instances. Allocation is advisory: the port is released again before the
// engine binds it, so a lost race surfaces later as a start failure.
type PortAllocator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewPortAllocator() *PortAllocator {
	return &PortAllocator{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// FindAvailablePort probes upward from start and returns the first port
// that can be bound on loopback.
func (a *PortAllocator) FindAvailablePort(start int) (int, error) {
	for port := start; port < maxPort; port++ {
		if portAvailable(port) {
			return port, nil
		}
	}
	return 0, ErrNoPortAvailable
}

// AllocateTestPortPair returns a SOCKS/HTTP port pair for a connectivity
// test. The two probes start in disjoint random bands so concurrent tests
// rarely collide, and the pair is re-probed until distinct.
func (a *PortAllocator) AllocateTestPortPair() (socksPort, httpPort int, err error) {
	a.mu.Lock()
	socksStart := socksBandLow + a.rng.Intn(socksBandHigh-socksBandLow+1)
	httpStart := httpBandLow + a.rng.Intn(httpBandHigh-httpBandLow+1)
	a.mu.Unlock()

	socksPort, err = a.FindAvailablePort(socksStart)
	if err != nil {
		return 0, 0, err
	}
	httpPort, err = a.FindAvailablePort(httpStart)
	if err != nil {
		return 0, 0, err
	}

	for httpPort == socksPort {
		httpPort, err = a.FindAvailablePort(httpPort + 1)
		if err != nil {
			return 0, 0, err
		}
	}

	return socksPort, httpPort, nil
}

func portAvailable(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}
