package domain

import "time"

// RoomStatus 房间生命周期状态
type RoomStatus string

const (
	RoomStatusWaiting   RoomStatus = "WAITING"
	RoomStatusActive    RoomStatus = "ACTIVE"
	RoomStatusPaused    RoomStatus = "PAUSED"
	RoomStatusCompleted RoomStatus = "COMPLETED" // 终态，成员清空后进入
)

// MemberRole 成员在房间内的角色
type MemberRole string

const (
	RoleHost   MemberRole = "HOST"
	RoleCoHost MemberRole = "CO_HOST"
	RoleMember MemberRole = "MEMBER"
)

// Room 表示一个通过加入码进入的短期自习房间。
type Room struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	JoinCode  string     `gorm:"uniqueIndex;size:16;not null" json:"join_code"` // 统一存储为大写
	Title     string     `gorm:"size:191;not null" json:"title"`
	Status    RoomStatus `gorm:"size:20;not null;index" json:"status"`
	MaxSeats  int        `gorm:"not null" json:"max_seats"`
	Members   []Member   `gorm:"foreignKey:RoomID" json:"members"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Member 房间成员，(room_id, user_id) 唯一。
type Member struct {
	ID       uint       `gorm:"primaryKey" json:"-"`
	RoomID   uint       `gorm:"not null;uniqueIndex:idx_room_user" json:"room_id"`
	UserID   uint       `gorm:"not null;uniqueIndex:idx_room_user;index" json:"user_id"`
	Role     MemberRole `gorm:"size:20;not null" json:"role"`
	Ready    bool       `gorm:"not null;default:false" json:"ready"`
	JoinedAt time.Time  `gorm:"not null" json:"joined_at"`
}

// TableName 指定成员表名
func (Member) TableName() string { return "room_members" }

// FindMember 返回指定用户的成员记录，不存在时返回 nil。
func (r *Room) FindMember(userID uint) *Member {
	for i := range r.Members {
		if r.Members[i].UserID == userID {
			return &r.Members[i]
		}
	}
	return nil
}

// IsFull 房间是否已满
func (r *Room) IsFull() bool {
	return len(r.Members) >= r.MaxSeats
}

// Host 返回当前房主，没有成员时返回 nil。
func (r *Room) Host() *Member {
	for i := range r.Members {
		if r.Members[i].Role == RoleHost {
			return &r.Members[i]
		}
	}
	return nil
}

// RemoveMember 移除成员并返回被移除的记录；成员不存在时返回 nil。
func (r *Room) RemoveMember(userID uint) *Member {
	for i := range r.Members {
		if r.Members[i].UserID == userID {
			removed := r.Members[i]
			r.Members = append(r.Members[:i], r.Members[i+1:]...)
			return &removed
		}
	}
	return nil
}
