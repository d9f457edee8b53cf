// Package resolver decides, for a single object id, whether an incoming remote
// version of the object should replace the locally held one. The rule is
// last-write-wins: the update timestamp is the primary ordering signal, the
// version counter breaks same-millisecond ties, and exact equality on both is
// treated as a duplicate delivery so the merge stays idempotent under
// at-least-once transport.
//
// Every peer must apply this rule identically; any deviation breaks eventual
// convergence between clients that observe messages in different orders.
package resolver

import "time"

// RemoteWins reports whether the remote (version, updatedAt) pair beats the
// locally held pair for the same object.
func RemoteWins(localVersion int64, localUpdatedAt time.Time, remoteVersion int64, remoteUpdatedAt time.Time) bool {
	if remoteUpdatedAt.After(localUpdatedAt) {
		return true
	}
	if remoteUpdatedAt.Before(localUpdatedAt) {
		return false
	}
	// Same timestamp: the higher version wins. Equal on both means we have
	// already applied this write.
	return remoteVersion > localVersion
}
