//go:build !pdpsimdebug

package invariant

// Enabled reports whether violations panic instead of being clamped.
const Enabled = false
