// Package registry models the network's participant set: who is registered,
// how to reach them, and whether they act as a miner or a validator. The
// authoritative set lives on chain; this package consumes periodic snapshots
// of it and classifies identities.
package registry

import (
	"sort"
)

// MinValidatorStake is the stake below which a permit holder is not treated
// as an active validator.
const MinValidatorStake = 10_000

// Coldkeys with a history of abusive registrations. Identities funded by
// them are never treated as miners.
var blacklistedColdkeys = map[string]struct{}{
	"5DF9jPcH8hvEoiV217zXD9C2Uad9GVwAM7jbmsM5SMwUFzaS": {},
	"5CMfxqSmWPyjWy16MPHw117y2VE7MvZ93rf3U6A77xf1trBA": {},
	"5GbWdBLCzXFd4ZSh8CGPYDRkxy8vcmULbfHE5gZgowxjgzHp": {},
	"5Di443BWvJKLHnLAkxvzSZUcu4jSE6Ka9UStjEMduwzRsy5b": {},
}

// Identity is one registered participant at one snapshot in time.
type Identity struct {
	UID             int     `json:"uid"`
	Hotkey          string  `json:"hotkey"`
	Coldkey         string  `json:"coldkey"`
	Endpoint        string  `json:"endpoint"`
	Stake           float64 `json:"stake"`
	ValidatorTrust  float64 `json:"validator_trust"`
	ValidatorPermit bool    `json:"validator_permit"`
}

// Snapshot is the full participant set as of one block. Snapshots are
// immutable once published; consumers that hold one across a sync must work
// on their own Clone.
type Snapshot struct {
	Block      int64      `json:"block"`
	Identities []Identity `json:"identities"`
}

// Identity returns the identity registered at uid.
func (s *Snapshot) Identity(uid int) (Identity, bool) {
	for i := range s.Identities {
		if s.Identities[i].UID == uid {
			return s.Identities[i], true
		}
	}
	return Identity{}, false
}

// UIDForHotkey returns the uid a hotkey is registered under.
func (s *Snapshot) UIDForHotkey(hotkey string) (int, bool) {
	for i := range s.Identities {
		if s.Identities[i].Hotkey == hotkey {
			return s.Identities[i].UID, true
		}
	}
	return 0, false
}

// IsMiner reports whether uid serves data. Everyone who isn't a validator is
// assumed to be a miner, which disallows miner/validator hybrids, except
// identities funded by a blacklisted coldkey.
func (s *Snapshot) IsMiner(uid int) bool {
	id, ok := s.Identity(uid)
	if !ok {
		return false
	}
	if _, banned := blacklistedColdkeys[id.Coldkey]; banned {
		return false
	}
	return id.ValidatorTrust == 0
}

// IsValidator reports whether uid holds a validator permit backed by enough
// stake to matter.
func (s *Snapshot) IsValidator(uid int) bool {
	id, ok := s.Identity(uid)
	if !ok {
		return false
	}
	return id.ValidatorPermit && id.Stake >= MinValidatorStake
}

// MinerUIDs returns the sorted uids of all miners, excluding ownUID.
func (s *Snapshot) MinerUIDs(ownUID int) []int {
	uids := make([]int, 0, len(s.Identities))
	for i := range s.Identities {
		uid := s.Identities[i].UID
		if uid != ownUID && s.IsMiner(uid) {
			uids = append(uids, uid)
		}
	}
	sort.Ints(uids)
	return uids
}

// Size returns the uid capacity needed to hold every identity, i.e. the
// largest uid plus one.
func (s *Snapshot) Size() int {
	size := 0
	for i := range s.Identities {
		if s.Identities[i].UID+1 > size {
			size = s.Identities[i].UID + 1
		}
	}
	return size
}

// EndpointsEqual reports whether both snapshots register the same identities
// at the same network addresses. Used as the no-op fast path when reacting
// to a registry refresh.
func (s *Snapshot) EndpointsEqual(o *Snapshot) bool {
	if len(s.Identities) != len(o.Identities) {
		return false
	}
	for i := range s.Identities {
		a, b := &s.Identities[i], &o.Identities[i]
		if a.UID != b.UID || a.Hotkey != b.Hotkey || a.Endpoint != b.Endpoint {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	identities := make([]Identity, len(s.Identities))
	copy(identities, s.Identities)
	return &Snapshot{Block: s.Block, Identities: identities}
}
