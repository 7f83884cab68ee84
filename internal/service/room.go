package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/sirupsen/logrus"

	"github.com/SnehitPandey/studyflow-backend/internal/domain"
	"github.com/SnehitPandey/studyflow-backend/internal/repository"
)

const (
	joinCodeAlphabet    = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	joinCodeLength      = 6
	maxJoinCodeAttempts = 10

	// MinSeats / MaxSeats 房间容量的合法范围
	MinSeats = 1
	MaxSeats = 100
	// DefaultMaxSeats 创建房间未指定容量时使用
	DefaultMaxSeats = 10

	maxTitleLength = 191
)

// RoomService 负责房间目录：创建、加入、离开、准备状态以及成员校验。
// 所有修改都通过 RoomRepository.UpdateWithLock 串行化。
type RoomService struct {
	roomRepo        repository.RoomRepository
	defaultMaxSeats int
	generateCode    func() (string, error)
}

// NewRoomService 创建 RoomService 实例。defaultMaxSeats 不合法时使用 DefaultMaxSeats。
func NewRoomService(roomRepo repository.RoomRepository, defaultMaxSeats int) *RoomService {
	if roomRepo == nil {
		panic("RoomRepository cannot be nil for RoomService")
	}
	if defaultMaxSeats < MinSeats || defaultMaxSeats > MaxSeats {
		defaultMaxSeats = DefaultMaxSeats
	}
	return &RoomService{
		roomRepo:        roomRepo,
		defaultMaxSeats: defaultMaxSeats,
		generateCode: func() (string, error) {
			return gonanoid.Generate(joinCodeAlphabet, joinCodeLength)
		},
	}
}

// NormalizeJoinCode 加入码大小写不敏感，统一转为大写
func NormalizeJoinCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CreateRoom 创建房间，创建者成为唯一的 HOST。maxSeats 为 0 时使用默认容量。
func (s *RoomService) CreateRoom(ctx context.Context, hostUserID uint, title string, maxSeats int) (*domain.Room, error) {
	logCtx := logrus.WithField("host_id", hostUserID)

	title = strings.TrimSpace(title)
	if hostUserID == 0 || title == "" || utf8.RuneCountInString(title) > maxTitleLength {
		return nil, fmt.Errorf("%w: title must be 1-%d characters", ErrInvalidInput, maxTitleLength)
	}
	if maxSeats == 0 {
		maxSeats = s.defaultMaxSeats
	}
	if maxSeats < MinSeats || maxSeats > MaxSeats {
		return nil, fmt.Errorf("%w: max seats must be between %d and %d", ErrInvalidInput, MinSeats, MaxSeats)
	}

	for attempt := 1; attempt <= maxJoinCodeAttempts; attempt++ {
		code, err := s.generateCode()
		if err != nil {
			logCtx.WithError(err).Error("Failed to generate join code")
			return nil, ErrInternalServer
		}
		exists, err := s.roomRepo.IsJoinCodeExists(ctx, code)
		if err != nil {
			logCtx.WithError(err).WithField("join_code", code).Error("Database error checking join code uniqueness")
			return nil, ErrInternalServer
		}
		if exists {
			logCtx.WithField("join_code", code).Warnf("Join code already taken, retrying (attempt %d)", attempt)
			continue
		}

		now := time.Now().UTC()
		room := &domain.Room{
			JoinCode: code,
			Title:    title,
			Status:   domain.RoomStatusWaiting,
			MaxSeats: maxSeats,
			Members: []domain.Member{{
				UserID:   hostUserID,
				Role:     domain.RoleHost,
				JoinedAt: now,
			}},
		}
		if err := s.roomRepo.Create(ctx, room); err != nil {
			if errors.Is(err, repository.ErrDuplicateEntry) {
				// 检查与插入之间被其他请求抢占
				logCtx.WithField("join_code", code).Warnf("Join code taken concurrently, retrying (attempt %d)", attempt)
				continue
			}
			logCtx.WithError(err).Error("Failed to save new room")
			return nil, ErrInternalServer
		}
		logCtx.WithFields(logrus.Fields{"room_id": room.ID, "join_code": code}).Info("Room created")
		return room, nil
	}

	logCtx.Errorf("Join code space exhausted after %d attempts", maxJoinCodeAttempts)
	return nil, ErrCodeGenerationExhausted
}

// JoinRoom 通过加入码加入房间
func (s *RoomService) JoinRoom(ctx context.Context, userID uint, code string) (*domain.Room, error) {
	code = NormalizeJoinCode(code)
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "join_code": code})
	if code == "" {
		return nil, fmt.Errorf("%w: join code is required", ErrInvalidInput)
	}

	found, err := s.roomRepo.FindByJoinCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			logCtx.Warn("Join attempt with unknown code")
			return nil, ErrRoomNotFound
		}
		logCtx.WithError(err).Error("Failed to look up room by join code")
		return nil, ErrInternalServer
	}

	room, err := s.roomRepo.UpdateWithLock(ctx, found.ID, func(room *domain.Room) error {
		if room.Status == domain.RoomStatusCompleted {
			return ErrRoomClosed
		}
		// 满员优先于重复加入
		if room.IsFull() {
			return ErrRoomFull
		}
		if room.FindMember(userID) != nil {
			return ErrAlreadyMember
		}
		room.Members = append(room.Members, domain.Member{
			RoomID:   room.ID,
			UserID:   userID,
			Role:     domain.RoleMember,
			JoinedAt: time.Now().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, s.logMutationError(logCtx.WithField("room_id", found.ID), "join", err)
	}

	logCtx.WithField("room_id", room.ID).Info("User joined room")
	return room, nil
}

// LeaveRoom 离开房间。房主离开时将最早加入的成员提升为房主，成员清空后房间进入 COMPLETED。
// 非成员调用不做任何修改，直接返回当前房间。
func (s *RoomService) LeaveRoom(ctx context.Context, roomID, userID uint) (*domain.Room, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID})

	var promoted uint
	room, err := s.roomRepo.UpdateWithLock(ctx, roomID, func(room *domain.Room) error {
		removed := room.RemoveMember(userID)
		if removed == nil {
			return nil
		}
		if len(room.Members) == 0 {
			room.Status = domain.RoomStatusCompleted
			return nil
		}
		if removed.Role == domain.RoleHost {
			next := earliestJoined(room.Members)
			next.Role = domain.RoleHost
			promoted = next.UserID
		}
		return nil
	})
	if err != nil {
		return nil, s.logMutationError(logCtx, "leave", err)
	}

	if promoted != 0 {
		logCtx.WithField("new_host_id", promoted).Info("Host left, promoted earliest member")
	}
	if room.Status == domain.RoomStatusCompleted {
		logCtx.Info("Last member left, room completed")
	}
	return room, nil
}

// ToggleReady 切换成员的准备状态
func (s *RoomService) ToggleReady(ctx context.Context, roomID, userID uint) (*domain.Room, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID})
	room, err := s.roomRepo.UpdateWithLock(ctx, roomID, func(room *domain.Room) error {
		member := room.FindMember(userID)
		if member == nil {
			return ErrNotAMember
		}
		member.Ready = !member.Ready
		return nil
	})
	if err != nil {
		return nil, s.logMutationError(logCtx, "toggle ready", err)
	}
	return room, nil
}

// SetStatus 修改房间状态，仅 HOST / CO_HOST 可操作，COMPLETED 只能由成员清空触发。
func (s *RoomService) SetStatus(ctx context.Context, roomID, userID uint, status domain.RoomStatus) (*domain.Room, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID, "status": status})
	switch status {
	case domain.RoomStatusWaiting, domain.RoomStatusActive, domain.RoomStatusPaused:
	default:
		return nil, fmt.Errorf("%w: unsupported status %q", ErrInvalidInput, status)
	}

	room, err := s.roomRepo.UpdateWithLock(ctx, roomID, func(room *domain.Room) error {
		if room.Status == domain.RoomStatusCompleted {
			return ErrRoomClosed
		}
		member := room.FindMember(userID)
		if member == nil || (member.Role != domain.RoleHost && member.Role != domain.RoleCoHost) {
			return ErrAccessDenied
		}
		room.Status = status
		return nil
	})
	if err != nil {
		return nil, s.logMutationError(logCtx, "set status", err)
	}
	logCtx.Info("Room status updated")
	return room, nil
}

// GetRoomForUser 返回房间，调用者必须是成员
func (s *RoomService) GetRoomForUser(ctx context.Context, roomID, userID uint) (*domain.Room, error) {
	room, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return nil, ErrRoomNotFound
		}
		logrus.WithError(err).WithField("room_id", roomID).Error("GetRoomForUser: repository error")
		return nil, ErrInternalServer
	}
	if room.FindMember(userID) == nil {
		return nil, ErrAccessDenied
	}
	return room, nil
}

// FindByCode 按加入码查找房间
func (s *RoomService) FindByCode(ctx context.Context, code string) (*domain.Room, error) {
	code = NormalizeJoinCode(code)
	if code == "" {
		return nil, ErrRoomNotFound
	}
	room, err := s.roomRepo.FindByJoinCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return nil, ErrRoomNotFound
		}
		logrus.WithError(err).WithField("join_code", code).Error("FindByCode: repository error")
		return nil, ErrInternalServer
	}
	return room, nil
}

func (s *RoomService) logMutationError(logCtx *logrus.Entry, op string, err error) error {
	mapped := mapRoomRepoError(err)
	if errors.Is(mapped, ErrInternalServer) {
		logCtx.WithError(err).Errorf("Room %s failed", op)
	} else {
		logCtx.WithError(err).Debugf("Room %s rejected", op)
	}
	return mapped
}

func earliestJoined(members []domain.Member) *domain.Member {
	earliest := &members[0]
	for i := 1; i < len(members); i++ {
		if members[i].JoinedAt.Before(earliest.JoinedAt) {
			earliest = &members[i]
		}
	}
	return earliest
}
