package player

import (
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// RetentionWindow is how long a disconnected player's record is surfaced by
// lookup commands before it goes stale.
const RetentionWindow = 10 * time.Minute

// PreviousRoster retains records of recently disconnected players for the
// retention window. Records are looked up by Steam ID or fisher ID for
// delayed bans and reconnect handling; expiry is handled by the underlying
// TTL cache so stale records need no explicit purge pass.
type PreviousRoster struct {
	cache *gocache.Cache
}

// NewPreviousRoster returns an empty roster with the standard retention window.
func NewPreviousRoster() *PreviousRoster {
	return &PreviousRoster{cache: gocache.New(RetentionWindow, RetentionWindow/2)}
}

// Record stores (or refreshes) the record for a departing player. At most one
// record per Steam ID survives: any existing record for the same Steam ID or
// the same fisher ID is dropped first.
func (r *PreviousRoster) Record(prev *Previous) {
	r.RemoveBySteamID(prev.SteamID)
	r.RemoveByFisherID(prev.FisherID)
	r.cache.Set(cacheKey(prev.SteamID), prev, gocache.DefaultExpiration)
}

// FindBySteamID returns the retained record for steamID, if one is present
// and still within the retention window.
func (r *PreviousRoster) FindBySteamID(steamID uint64) (*Previous, bool) {
	v, ok := r.cache.Get(cacheKey(steamID))
	if !ok {
		return nil, false
	}
	return v.(*Previous), true
}

// FindByFisherID returns the retained record with the given fisher ID
// (case-insensitive), if one is present.
func (r *PreviousRoster) FindByFisherID(fisherID string) (*Previous, bool) {
	for _, item := range r.cache.Items() {
		prev := item.Object.(*Previous)
		if strings.EqualFold(prev.FisherID, fisherID) {
			return prev, true
		}
	}
	return nil, false
}

// RemoveBySteamID drops the record for steamID if present.
func (r *PreviousRoster) RemoveBySteamID(steamID uint64) {
	r.cache.Delete(cacheKey(steamID))
}

// RemoveByFisherID drops any record with the given fisher ID.
func (r *PreviousRoster) RemoveByFisherID(fisherID string) {
	for key, item := range r.cache.Items() {
		if strings.EqualFold(item.Object.(*Previous).FisherID, fisherID) {
			r.cache.Delete(key)
		}
	}
}

// All returns every record still within the retention window, most recent
// departure first.
func (r *PreviousRoster) All() []*Previous {
	items := r.cache.Items()
	records := make([]*Previous, 0, len(items))
	for _, item := range items {
		records = append(records, item.Object.(*Previous))
	}
	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			if records[j].LeftAt.After(records[i].LeftAt) {
				records[i], records[j] = records[j], records[i]
			}
		}
	}
	return records
}

func cacheKey(steamID uint64) string {
	return strconv.FormatUint(steamID, 10)
}
