package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Resource states Google sends in X-Goog-Resource-State.
const (
	ResourceStateSync      = "sync" // channel verification handshake
	ResourceStateExists    = "exists"
	ResourceStateNotExists = "not_exists"
)

// Notification is a decoded Google Calendar push notification. Google sends
// an empty body; everything of interest rides in headers.
type Notification struct {
	ChannelID     string
	ResourceID    string
	ResourceState string
	MessageNumber string
}

// IsHandshake reports whether this is the one-time channel verification that
// must be acknowledged without triggering a sync.
func (n Notification) IsHandshake() bool {
	return n.ResourceState == ResourceStateSync
}

const channelIDPrefix = "channel"

// NewChannelID builds the composite channel identifier registered with
// Google: "channel-{userID}-{uuid}". The embedded user id is how a change
// notification is routed back to its owner.
func NewChannelID(userID uint) string {
	return fmt.Sprintf("%s-%d-%s", channelIDPrefix, userID, uuid.NewString())
}

// ParseChannelID extracts the user id from a composite channel identifier.
func ParseChannelID(channelID string) (uint, error) {
	parts := strings.SplitN(channelID, "-", 3)
	if len(parts) < 2 || parts[0] != channelIDPrefix {
		return 0, fmt.Errorf("channel id %q is not in channel-{user}-{uuid} form", channelID)
	}
	userID, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("channel id %q carries a non-numeric user id: %w", channelID, err)
	}
	return uint(userID), nil
}
