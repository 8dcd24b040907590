// Package ids generates the opaque correlation identifiers used for
// broadcasters and subscribers.
package ids

import "github.com/google/uuid"

// NewBroadcasterId generates a fresh id for a tuner session's broadcaster.
func NewBroadcasterId() string { return uuid.NewString() }

// NewSubscriberId generates a fresh id for one broadcaster subscriber.
func NewSubscriberId() string { return uuid.NewString() }
