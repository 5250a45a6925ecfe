package engine

// ClaimState tracks which declaration lines have been consumed by a forward
// tier. It is an explicit value threaded through the cascade rather than a
// set captured by tier closures: forward tiers read-and-set it, reverse-sweep
// tiers read it to label reuse but may match claimed lines anyway.
type ClaimState struct {
	used  []bool
	count int
}

// NewClaimState creates a claim state sized to the declaration feed.
func NewClaimState(n int) *ClaimState {
	return &ClaimState{used: make([]bool, n)}
}

// Claim marks a declaration line consumed. Claiming twice is a no-op.
func (c *ClaimState) Claim(declIndex int) {
	if declIndex < 0 || declIndex >= len(c.used) || c.used[declIndex] {
		return
	}
	c.used[declIndex] = true
	c.count++
}

// IsClaimed reports whether a declaration line has been consumed.
func (c *ClaimState) IsClaimed(declIndex int) bool {
	return declIndex >= 0 && declIndex < len(c.used) && c.used[declIndex]
}

// Count returns how many declaration lines have been claimed.
func (c *ClaimState) Count() int {
	return c.count
}

// Len returns the size of the tracked declaration feed.
func (c *ClaimState) Len() int {
	return len(c.used)
}

// Clone returns an independent copy, for tiers tested in isolation.
func (c *ClaimState) Clone() *ClaimState {
	out := &ClaimState{used: make([]bool, len(c.used)), count: c.count}
	copy(out.used, c.used)
	return out
}
