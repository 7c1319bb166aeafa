// Package engine tracks background worker slots per identity.
//
// Each slot is one running goroutine with a monotonically increasing id, a
// cancelable context, and metadata for listing. Worker kinds are resolved
// through a static catalog populated at boot.
package engine
