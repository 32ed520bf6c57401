// Package mesh defines the addressing model and transport contract for the
// DC-load mesh. The radio itself (provisioning, relaying, key handling) lives
// behind the Transport interface; this package only decides where a message
// goes and how oversized payloads are framed.
package mesh

import (
	"fmt"
	"strconv"
	"strings"
)

// Addr is a 16-bit transport address. Addresses at or above GroupAddr are
// group addresses: one send reaches every subscribed node. Everything else
// is unicast.
type Addr uint16

const (
	// NodeBaseAddr is the unicast address of node 0; node n lives at
	// NodeBaseAddr + n.
	NodeBaseAddr Addr = 0x0005

	// GroupAddr is the reserved group address all load nodes subscribe to.
	// The range [GroupAddr, 0xFFFF] is reserved for groups and never
	// assigned to a node.
	GroupAddr Addr = 0xC000

	// MaxNodes caps the fleet; node ids are 0..MaxNodes-1.
	MaxNodes = 10
)

func (a Addr) IsGroup() bool {
	return a >= GroupAddr
}

// NodeID recovers the logical node id from a unicast address.
func (a Addr) NodeID() (int, bool) {
	if a.IsGroup() || a < NodeBaseAddr {
		return 0, false
	}
	id := int(a - NodeBaseAddr)
	if id >= MaxNodes {
		return 0, false
	}
	return id, true
}

func (a Addr) String() string {
	return fmt.Sprintf("0x%04x", uint16(a))
}

func NodeAddr(id int) Addr {
	return NodeBaseAddr + Addr(id)
}

// Target is a logical destination: a single node id or the ALL sentinel.
type Target struct {
	All bool
	ID  int
}

func NodeTarget(id int) Target {
	return Target{ID: id}
}

func AllTarget() Target {
	return Target{All: true}
}

// ParseTarget accepts a small non-negative integer or the literal ALL
// (case-insensitive).
func ParseTarget(s string) (Target, error) {
	if strings.EqualFold(s, "ALL") {
		return AllTarget(), nil
	}
	id, err := strconv.Atoi(s)
	if err != nil || id < 0 || id >= MaxNodes {
		return Target{}, fmt.Errorf("invalid node id %q", s)
	}
	return NodeTarget(id), nil
}

func (t Target) Addr() Addr {
	if t.All {
		return GroupAddr
	}
	return NodeAddr(t.ID)
}

func (t Target) String() string {
	if t.All {
		return "ALL"
	}
	return strconv.Itoa(t.ID)
}
