package board

import "time"

// Board is the read-only configuration the placement core consults per
// request. Lifecycle management beyond Create/Get belongs to the CRUD
// subsystem, not this service.
type Board struct {
	BoardID         string `gorm:"column:board_id;primaryKey;size:190;not null"`
	Name            string `gorm:"column:name;size:190;not null"`
	Width           int    `gorm:"column:width;not null"`
	Height          int    `gorm:"column:height;not null"`
	CooldownSeconds int    `gorm:"column:cooldown_s;not null;default:0"`
	AllowOverwrite  bool   `gorm:"column:allow_overwrite;not null;default:true"`
	StartTimeMS     int64  `gorm:"column:start_time_ms;not null;default:0"`
	EndTimeMS       int64  `gorm:"column:end_time_ms;not null;default:0"`
	IsActive        bool   `gorm:"column:is_active;not null;default:true"`
	CreatedAtMS     int64  `gorm:"column:created_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Board) TableName() string {
	return "boards"
}

// ActiveAt reports whether the board accepts placements at the given
// instant. A zero start or end leaves that side of the window unbounded.
// A board past its end time is treated the same as an inactive board.
func (b Board) ActiveAt(now time.Time) bool {
	if !b.IsActive {
		return false
	}
	nowMS := now.UnixMilli()
	if b.StartTimeMS > 0 && nowMS < b.StartTimeMS {
		return false
	}
	if b.EndTimeMS > 0 && nowMS > b.EndTimeMS {
		return false
	}
	return true
}

// Contains reports whether the coordinate lies within the board bounds.
func (b Board) Contains(x, y int) bool {
	return x >= 0 && x < b.Width && y >= 0 && y < b.Height
}

// Cooldown returns the board cooldown as a duration.
func (b Board) Cooldown() time.Duration {
	return time.Duration(b.CooldownSeconds) * time.Second
}
