package protocol

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/justinkk04/BLE-mesh-networking-sub001/mesh"
)

// Verb is one of the closed set of logical commands.
type Verb string

const (
	VerbRead    Verb = "READ"
	VerbStatus  Verb = "STATUS"
	VerbDuty    Verb = "DUTY"
	VerbRamp    Verb = "RAMP"
	VerbStop    Verb = "STOP"
	VerbOff     Verb = "OFF"
	VerbOn      Verb = "ON"
	VerbMonitor Verb = "MONITOR"
)

// ParseVerb maps a token to a verb, case-insensitively. Unknown tokens are
// a structured error carrying the token.
func ParseVerb(token string) (Verb, error) {
	switch Verb(strings.ToUpper(token)) {
	case VerbRead:
		return VerbRead, nil
	case VerbStatus:
		return VerbStatus, nil
	case VerbDuty:
		return VerbDuty, nil
	case VerbRamp:
		return VerbRamp, nil
	case VerbStop:
		return VerbStop, nil
	case VerbOff:
		return VerbOff, nil
	case VerbOn:
		return VerbOn, nil
	case VerbMonitor:
		return VerbMonitor, nil
	default:
		return "", &UnknownCommandError{Token: token}
	}
}

// Command is a verb plus an optional integer value (duty percent).
type Command struct {
	Verb     Verb
	Value    int
	HasValue bool
}

func Read() Command {
	return Command{Verb: VerbRead}
}

func Duty(percent int) Command {
	return Command{Verb: VerbDuty, Value: percent, HasValue: true}
}

// Native translates the command to the node-native wire token. MONITOR has
// no native form: it drives the engine's own polling and never reaches a
// node.
func (c Command) Native() (string, error) {
	switch c.Verb {
	case VerbRamp, VerbOn:
		return "r", nil
	case VerbStop, VerbOff:
		return "s", nil
	case VerbDuty:
		duty := 50
		if c.HasValue {
			duty = c.Value
		}
		if duty < 0 {
			duty = 0
		} else if duty > 100 {
			duty = 100
		}
		return fmt.Sprintf("duty:%d", duty), nil
	case VerbRead, VerbStatus:
		return "read", nil
	case VerbMonitor:
		return "", fmt.Errorf("MONITOR is not a wire command")
	default:
		return "", &UnknownCommandError{Token: string(c.Verb)}
	}
}

// ParseRequest parses the caller-facing form TARGET:VERB[:VALUE], e.g.
// "1:READ", "2:DUTY:50", "ALL:READ". Nothing is sent for a malformed
// request.
func ParseRequest(line string) (mesh.Target, Command, error) {
	parts := strings.Split(strings.TrimSpace(line), ":")

	if len(parts) == 0 || parts[0] == "" {
		return mesh.Target{}, Command{}, &RejectError{Reason: ReasonNoNodeID}
	}

	target, err := mesh.ParseTarget(parts[0])
	if err != nil {
		return mesh.Target{}, Command{}, &RejectError{Reason: ReasonInvalidNode}
	}

	if len(parts) < 2 || parts[1] == "" {
		return mesh.Target{}, Command{}, &RejectError{Reason: ReasonNoCommand}
	}

	verb, err := ParseVerb(parts[1])
	if err != nil {
		return mesh.Target{}, Command{}, err
	}

	cmd := Command{Verb: verb}
	if len(parts) >= 3 && parts[2] != "" {
		v, err := strconv.Atoi(parts[2])
		if err != nil {
			return mesh.Target{}, Command{}, &UnknownCommandError{Token: parts[2]}
		}
		cmd.Value = v
		cmd.HasValue = true
	}

	return target, cmd, nil
}

// Telemetry is one decoded sensor reading.
type Telemetry struct {
	Duty    int     // percent, 0-100
	Voltage float64 // V
	Current float64 // mA
	Power   float64 // mW
}

// Node firmware formats readings as D:<duty>%,V:<v>V,I:<i>mA,P:<p>mW with
// unit suffixes in either case.
var telemetryRe = regexp.MustCompile(`(?i)^D:(\d+)%,V:([\d.]+)V,I:([\d.]+)mA,P:([\d.]+)mW`)

// Response is a correlated reply from one node. Exactly one of Telemetry or
// Status is set.
type Response struct {
	Node      int
	Telemetry *Telemetry
	Status    string
}

// String renders the upward-facing reply form NODE<id>:DATA:<payload>.
func (r *Response) String() string {
	if r.Telemetry != nil {
		t := r.Telemetry
		return fmt.Sprintf("NODE%d:DATA:D:%d%%,V:%.3fV,I:%.1fmA,P:%.1fmW",
			r.Node, t.Duty, t.Voltage, t.Current, t.Power)
	}
	return fmt.Sprintf("NODE%d:%s", r.Node, r.Status)
}

// DecodeReply decodes a reassembled payload from a unicast source. A group
// source is structurally invalid for correlation and must be rejected by
// the caller before decoding.
func DecodeReply(src mesh.Addr, payload []byte) (*Response, error) {
	id, ok := src.NodeID()
	if !ok {
		return nil, fmt.Errorf("%w: source %s is not a node address", ErrMalformedReply, src)
	}

	text := strings.TrimSpace(string(payload))
	if text == "" {
		return nil, fmt.Errorf("%w: empty payload from %s", ErrMalformedReply, src)
	}

	if m := telemetryRe.FindStringSubmatch(text); m != nil {
		duty, _ := strconv.Atoi(m[1])
		voltage, err1 := strconv.ParseFloat(m[2], 64)
		current, err2 := strconv.ParseFloat(m[3], 64)
		power, err3 := strconv.ParseFloat(m[4], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, fmt.Errorf("%w: bad telemetry numbers in %q", ErrMalformedReply, text)
		}
		return &Response{
			Node:      id,
			Telemetry: &Telemetry{Duty: duty, Voltage: voltage, Current: current, Power: power},
		}, nil
	}

	// Anything else is a status string (e.g. "stopped", "ERROR:...").
	return &Response{Node: id, Status: text}, nil
}
