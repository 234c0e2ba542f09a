package data

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// PlayerPlaytime accumulates total connected time per Steam ID.
type PlayerPlaytime struct {
	ID        uint64 `gorm:"primaryKey"`
	SteamID   uint64 `gorm:"uniqueIndex; not null"`
	Username  string
	Seconds   int64
	UpdatedAt time.Time
}

// Total returns the accumulated playtime as a duration.
func (p *PlayerPlaytime) Total() time.Duration {
	return time.Duration(p.Seconds) * time.Second
}

// FindPlaytime returns the playtime record for the given Steam ID, or nil if
// the player has never been seen.
func FindPlaytime(db *gorm.DB, steamID uint64) (*PlayerPlaytime, error) {
	var playtime PlayerPlaytime
	err := db.Where("steam_id = ?", steamID).First(&playtime).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &playtime, nil
}

// AddPlaytime credits elapsed time to the Steam ID, creating the record on
// first sight. Sub-second remainders are dropped.
func AddPlaytime(db *gorm.DB, steamID uint64, username string, elapsed time.Duration) error {
	seconds := int64(elapsed / time.Second)
	if seconds <= 0 {
		return nil
	}

	playtime, err := FindPlaytime(db, steamID)
	if err != nil {
		return err
	}

	if playtime == nil {
		return db.Create(&PlayerPlaytime{SteamID: steamID, Username: username, Seconds: seconds}).Error
	}

	playtime.Username = username
	playtime.Seconds += seconds
	return db.Save(playtime).Error
}

// TopPlaytimes returns up to limit records ordered by accumulated time.
func TopPlaytimes(db *gorm.DB, limit int) ([]PlayerPlaytime, error) {
	var playtimes []PlayerPlaytime
	err := db.Order("seconds desc").Limit(limit).Find(&playtimes).Error
	return playtimes, err
}
