package domain

import (
	"errors"
	"strings"
)

// Universe is one of the isolated profile personas an account can act under.
// Each universe owns its own physical tables, so data can never leak between them.
type Universe string

const (
	UniverseLegacy   Universe = ""
	UniverseBasic    Universe = "basic"
	UniverseLove     Universe = "love"
	UniverseBusiness Universe = "business"
)

// ErrInvalidUniverse is returned for an unknown universe tag
var ErrInvalidUniverse = errors.New("invalid universe")

// ErrNoLegacyGroups is returned when a group table is requested for the untagged universe
var ErrNoLegacyGroups = errors.New("groups have no legacy partition")

// TaggedUniverses lists the three persona universes
var TaggedUniverses = []Universe{UniverseBasic, UniverseLove, UniverseBusiness}

// AllUniverses lists every partition including the untagged legacy one
var AllUniverses = []Universe{UniverseLegacy, UniverseBasic, UniverseLove, UniverseBusiness}

// ParseUniverse validates a client-supplied tag. Empty selects basic.
func ParseUniverse(tag string) (Universe, error) {
	switch Universe(strings.ToLower(strings.TrimSpace(tag))) {
	case "", UniverseBasic:
		return UniverseBasic, nil
	case UniverseLove:
		return UniverseLove, nil
	case UniverseBusiness:
		return UniverseBusiness, nil
	case "legacy":
		return UniverseLegacy, nil
	default:
		return "", ErrInvalidUniverse
	}
}

// IsLegacy reports whether u is the untagged partition
func (u Universe) IsLegacy() bool {
	return u == UniverseLegacy
}

// String returns the tag, or "legacy" for the untagged partition
func (u Universe) String() string {
	if u.IsLegacy() {
		return "legacy"
	}
	return string(u)
}

// Table resolves the physical table holding base for this universe.
// Legacy maps to the bare name, tagged universes to <base>_<universe>.
func (u Universe) Table(base string) string {
	if u.IsLegacy() {
		return base
	}
	return base + "_" + string(u)
}

// GroupTable is Table for group-scoped data, which only exists in tagged universes
func (u Universe) GroupTable(base string) (string, error) {
	if u.IsLegacy() {
		return "", ErrNoLegacyGroups
	}
	return u.Table(base), nil
}

// Physical table base names
const (
	TableDirectConversations = "direct_conversations"
	TableFriendships         = "friendships"
	TableProfiles            = "profiles"
	TableGroups              = "chat_groups"
	TableGroupMembers        = "group_members"
	TableGroupChannels       = "group_channels"
	TableGroupBans           = "group_bans"
	TableDirectMessages      = "direct_messages"
	TableGroupMessages       = "group_messages"
	TableGroupReadReceipts   = "group_read_receipts"
)
