package network

import "github.com/joeycumines/tickloom/message"

// linkKey identifies a directed (source, destination) NetworkLink (§3).
type linkKey struct {
	source      message.ProcessID
	destination message.ProcessID
}

// faultRule is the scheduled drop rule for one message.Type on a link:
// either "drop every message of this type" or "drop only the Nth message
// of this type" (§4.B).
type faultRule struct {
	messageType message.Type
	dropAll     bool
	dropNth     uint64 // 1-based; 0 means unset
	seenCount   uint64
}

// matches reports whether the rule fires for the next message of its
// type, mutating its internal counter as a side effect (so it is not
// safe to call matches twice for the same candidate message).
func (r *faultRule) matches(mt message.Type) bool {
	if r.messageType != mt {
		return false
	}
	if r.dropAll {
		return true
	}
	r.seenCount++
	return r.seenCount == r.dropNth
}

// linkState holds all per-link fault configuration: partition membership,
// delay/loss overrides, scheduled fault rules, and clog status (§3).
type linkState struct {
	partitioned  bool
	delay        *uint64 // nil => use network default
	lossProb     *float64
	rules        []*faultRule
	cloggedUntil uint64
}
