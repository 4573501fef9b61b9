// Package topology defines the external cluster topology boundary (§6):
// a process id resolves to an (ip, port), sourced from configuration
// outside the core.
package topology

import (
	"net"
	"strconv"

	"github.com/joeycumines/tickloom/message"
)

// Address is the resolved network location of a ProcessID.
type Address struct {
	IP   net.IP
	Port uint16
}

// String renders addr as "host:port", the form reactor.Reactor dials.
func (a Address) String() string {
	return net.JoinHostPort(a.IP.String(), strconv.Itoa(int(a.Port)))
}

// Topology resolves ProcessIDs to Addresses for the real reactor network;
// the simulated network never consults it.
type Topology interface {
	GetInetAddress(id message.ProcessID) (Address, bool)
}

// StaticTopology is a fixed, programmatically-populated Topology, the
// expected configuration source for test clusters and small deployments.
type StaticTopology struct {
	addresses map[message.ProcessID]Address
}

// NewStatic returns an empty StaticTopology.
func NewStatic() *StaticTopology {
	return &StaticTopology{addresses: make(map[message.ProcessID]Address)}
}

// Set associates id with addr.
func (t *StaticTopology) Set(id message.ProcessID, addr Address) {
	t.addresses[id] = addr
}

// GetInetAddress implements Topology.
func (t *StaticTopology) GetInetAddress(id message.ProcessID) (Address, bool) {
	addr, ok := t.addresses[id]
	return addr, ok
}

var _ Topology = (*StaticTopology)(nil)
