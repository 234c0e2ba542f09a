package data

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// Ban records a player barred from the server. One row per Steam ID; banning
// an already-banned player updates the reason in place.
type Ban struct {
	ID        uint64 `gorm:"primaryKey"`
	SteamID   uint64 `gorm:"uniqueIndex; not null"`
	Username  string
	Reason    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FindBan returns the ban for the given Steam ID, or nil if there is none.
func FindBan(db *gorm.DB, steamID uint64) (*Ban, error) {
	var ban Ban
	err := db.Where("steam_id = ?", steamID).First(&ban).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &ban, nil
}

// IsBanned reports whether the Steam ID has an active ban.
func IsBanned(db *gorm.DB, steamID uint64) (bool, error) {
	ban, err := FindBan(db, steamID)
	if err != nil {
		return false, err
	}
	return ban != nil, nil
}

// SetBan records a ban, replacing any existing reason for the same Steam ID.
func SetBan(db *gorm.DB, steamID uint64, username, reason string) error {
	ban, err := FindBan(db, steamID)
	if err != nil {
		return err
	}

	if ban == nil {
		return db.Create(&Ban{SteamID: steamID, Username: username, Reason: reason}).Error
	}

	ban.Username = username
	ban.Reason = reason
	return db.Save(ban).Error
}

// RemoveBan lifts the ban on the given Steam ID if one exists.
func RemoveBan(db *gorm.DB, steamID uint64) error {
	return db.Where("steam_id = ?", steamID).Delete(&Ban{}).Error
}

// AllBans returns every active ban, most recent first.
func AllBans(db *gorm.DB) ([]Ban, error) {
	var bans []Ban
	err := db.Order("updated_at desc").Find(&bans).Error
	return bans, err
}
