package domain

import "time"

// PresenceEntry 房间内某用户的实时在线/准备状态。
// 只对"是否在线"负责，成员资格以 Room.Members 为准。
type PresenceEntry struct {
	UserID    uint      `json:"userId"`
	Username  string    `json:"username"`
	Ready     bool      `json:"ready"`
	Online    bool      `json:"online"`
	UpdatedAt time.Time `json:"updatedAt"`
}
