package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/SnehitPandey/studyflow-backend/internal/domain"
	"github.com/SnehitPandey/studyflow-backend/internal/repository"
	"github.com/SnehitPandey/studyflow-backend/internal/repository/mocks"
	"github.com/SnehitPandey/studyflow-backend/internal/service"
)

func members(ids ...uint) []domain.Member {
	base := time.Now().Add(-time.Hour)
	out := make([]domain.Member, 0, len(ids))
	for i, id := range ids {
		role := domain.RoleMember
		if i == 0 {
			role = domain.RoleHost
		}
		out = append(out, domain.Member{UserID: id, Role: role, JoinedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	return out
}

func hostCount(room *domain.Room) int {
	n := 0
	for _, m := range room.Members {
		if m.Role == domain.RoleHost {
			n++
		}
	}
	return n
}

// --- CreateRoom ---

func TestRoomService_CreateRoom_Success(t *testing.T) {
	repo := newMemoryRoomRepository()
	svc := service.NewRoomService(repo, 10)

	room, err := svc.CreateRoom(context.Background(), 1, "Algebra", 4)
	require.NoError(t, err)

	assert.Equal(t, "Algebra", room.Title)
	assert.Equal(t, 4, room.MaxSeats)
	assert.Equal(t, domain.RoomStatusWaiting, room.Status)
	assert.Regexp(t, `^[0-9A-Z]{6}$`, room.JoinCode, "加入码应为 6 位大写字母数字")
	require.Len(t, room.Members, 1)
	assert.Equal(t, uint(1), room.Members[0].UserID)
	assert.Equal(t, domain.RoleHost, room.Members[0].Role)
}

func TestRoomService_CreateRoom_DefaultSeats(t *testing.T) {
	svc := service.NewRoomService(newMemoryRoomRepository(), 0)
	room, err := svc.CreateRoom(context.Background(), 1, "Physics", 0)
	require.NoError(t, err)
	assert.Equal(t, service.DefaultMaxSeats, room.MaxSeats)
}

func TestRoomService_CreateRoom_InvalidInput(t *testing.T) {
	svc := service.NewRoomService(newMemoryRoomRepository(), 10)
	ctx := context.Background()

	_, err := svc.CreateRoom(ctx, 1, "   ", 4)
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = svc.CreateRoom(ctx, 1, "Chem", 101)
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = svc.CreateRoom(ctx, 1, "Chem", -1)
	assert.ErrorIs(t, err, service.ErrInvalidInput)
}

func TestRoomService_CreateRoom_CodeExhausted(t *testing.T) {
	mockRepo := new(mocks.RoomRepository)
	svc := service.NewRoomService(mockRepo, 10)
	ctx := context.Background()

	mockRepo.On("IsJoinCodeExists", ctx, mock.AnythingOfType("string")).Return(true, nil).Times(10)

	_, err := svc.CreateRoom(ctx, 1, "Algebra", 4)

	assert.ErrorIs(t, err, service.ErrCodeGenerationExhausted)
	mockRepo.AssertExpectations(t)
	mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestRoomService_CreateRoom_RetriesOnConcurrentCodeClaim(t *testing.T) {
	mockRepo := new(mocks.RoomRepository)
	svc := service.NewRoomService(mockRepo, 10)
	ctx := context.Background()

	mockRepo.On("IsJoinCodeExists", ctx, mock.AnythingOfType("string")).Return(false, nil).Twice()
	mockRepo.On("Create", ctx, mock.AnythingOfType("*domain.Room")).Return(repository.ErrDuplicateEntry).Once()
	mockRepo.On("Create", ctx, mock.AnythingOfType("*domain.Room")).Return(nil).Once()

	room, err := svc.CreateRoom(ctx, 1, "Algebra", 4)
	require.NoError(t, err, "唯一约束冲突后应换一个加入码重试")
	assert.Len(t, room.JoinCode, 6)
	mockRepo.AssertExpectations(t)
}

func TestRoomService_CreateRoom_SaveFailure(t *testing.T) {
	mockRepo := new(mocks.RoomRepository)
	svc := service.NewRoomService(mockRepo, 10)
	ctx := context.Background()

	mockRepo.On("IsJoinCodeExists", ctx, mock.AnythingOfType("string")).Return(false, nil).Once()
	mockRepo.On("Create", ctx, mock.AnythingOfType("*domain.Room")).Return(errors.New("connection refused")).Once()

	_, err := svc.CreateRoom(ctx, 1, "Algebra", 4)
	assert.ErrorIs(t, err, service.ErrInternalServer)
	mockRepo.AssertExpectations(t)
}

// --- JoinRoom ---

func TestRoomService_JoinRoom_FifthJoinIsRejected(t *testing.T) {
	repo := newMemoryRoomRepository()
	svc := service.NewRoomService(repo, 10)
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, 1, "Algebra", 4)
	require.NoError(t, err)

	for _, uid := range []uint{2, 3, 4} {
		_, err := svc.JoinRoom(ctx, uid, room.JoinCode)
		require.NoError(t, err, "用户 %d 应能加入", uid)
	}

	_, err = svc.JoinRoom(ctx, 5, room.JoinCode)
	assert.ErrorIs(t, err, service.ErrRoomFull)

	stored, _ := repo.FindByID(ctx, room.ID)
	assert.Len(t, stored.Members, 4, "满员后成员数不应变化")
}

func TestRoomService_JoinRoom_FullRoomRejectsExistingMemberAsFull(t *testing.T) {
	repo := newMemoryRoomRepository()
	repo.put(&domain.Room{JoinCode: "FULL01", Title: "full", Status: domain.RoomStatusActive, MaxSeats: 2, Members: members(1, 2)})
	svc := service.NewRoomService(repo, 10)

	_, err := svc.JoinRoom(context.Background(), 2, "FULL01")
	assert.ErrorIs(t, err, service.ErrRoomFull)
}

func TestRoomService_JoinRoom_CaseInsensitiveCode(t *testing.T) {
	repo := newMemoryRoomRepository()
	repo.put(&domain.Room{JoinCode: "AB12CD", Title: "t", Status: domain.RoomStatusWaiting, MaxSeats: 4, Members: members(1)})
	svc := service.NewRoomService(repo, 10)

	room, err := svc.JoinRoom(context.Background(), 2, " ab12cd ")
	require.NoError(t, err)
	member := room.FindMember(2)
	require.NotNil(t, member)
	assert.Equal(t, domain.RoleMember, member.Role)
	assert.False(t, member.Ready)
}

func TestRoomService_JoinRoom_Errors(t *testing.T) {
	repo := newMemoryRoomRepository()
	repo.put(&domain.Room{JoinCode: "AB12CD", Title: "closed", Status: domain.RoomStatusCompleted, MaxSeats: 4})
	repo.put(&domain.Room{JoinCode: "ZZ99ZZ", Title: "open", Status: domain.RoomStatusActive, MaxSeats: 4, Members: members(1, 2)})
	svc := service.NewRoomService(repo, 10)
	ctx := context.Background()

	_, err := svc.JoinRoom(ctx, 7, "AB12CD")
	assert.ErrorIs(t, err, service.ErrRoomClosed, "已结束的房间不能加入")

	_, err = svc.JoinRoom(ctx, 7, "NOPE00")
	assert.ErrorIs(t, err, service.ErrRoomNotFound)

	_, err = svc.JoinRoom(ctx, 2, "ZZ99ZZ")
	assert.ErrorIs(t, err, service.ErrAlreadyMember)

	_, err = svc.JoinRoom(ctx, 2, "")
	assert.ErrorIs(t, err, service.ErrInvalidInput)
}

func TestRoomService_JoinRoom_ConcurrentJoinsNeverExceedCapacity(t *testing.T) {
	repo := newMemoryRoomRepository()
	svc := service.NewRoomService(repo, 10)
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, 1, "Race", 5)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		joined   int
		rejected int
	)
	for uid := uint(100); uid < 130; uid++ {
		wg.Add(1)
		go func(uid uint) {
			defer wg.Done()
			_, err := svc.JoinRoom(ctx, uid, room.JoinCode)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				joined++
			} else if errors.Is(err, service.ErrRoomFull) {
				rejected++
			}
		}(uid)
	}
	wg.Wait()

	assert.Equal(t, 4, joined, "只有 4 个空位")
	assert.Equal(t, 26, rejected)
	stored, _ := repo.FindByID(ctx, room.ID)
	assert.Len(t, stored.Members, 5)
	assert.Equal(t, 1, hostCount(stored))
}

// --- LeaveRoom ---

func TestRoomService_LeaveRoom_HostPromotion(t *testing.T) {
	repo := newMemoryRoomRepository()
	room := repo.put(&domain.Room{JoinCode: "AAAAAA", Title: "t", Status: domain.RoomStatusActive, MaxSeats: 4, Members: members(1, 2, 3)})
	svc := service.NewRoomService(repo, 10)

	updated, err := svc.LeaveRoom(context.Background(), room.ID, 1)
	require.NoError(t, err)

	require.Len(t, updated.Members, 2)
	assert.Nil(t, updated.FindMember(1))
	assert.Equal(t, 1, hostCount(updated), "房主离开后必须恰好有一个房主")
	assert.Equal(t, uint(2), updated.Host().UserID, "最早加入的成员成为房主")
	assert.Equal(t, domain.RoomStatusActive, updated.Status)
}

func TestRoomService_LeaveRoom_LastMemberCompletes(t *testing.T) {
	repo := newMemoryRoomRepository()
	room := repo.put(&domain.Room{JoinCode: "BBBBBB", Title: "t", Status: domain.RoomStatusActive, MaxSeats: 4, Members: members(1)})
	svc := service.NewRoomService(repo, 10)
	ctx := context.Background()

	updated, err := svc.LeaveRoom(ctx, room.ID, 1)
	require.NoError(t, err)
	assert.Empty(t, updated.Members)
	assert.Equal(t, domain.RoomStatusCompleted, updated.Status)

	// COMPLETED 为终态
	_, err = svc.JoinRoom(ctx, 9, "BBBBBB")
	assert.ErrorIs(t, err, service.ErrRoomClosed)
	_, err = svc.SetStatus(ctx, room.ID, 1, domain.RoomStatusActive)
	assert.ErrorIs(t, err, service.ErrRoomClosed)
}

func TestRoomService_LeaveRoom_NonMemberIsNoop(t *testing.T) {
	repo := newMemoryRoomRepository()
	room := repo.put(&domain.Room{JoinCode: "CCCCCC", Title: "t", Status: domain.RoomStatusWaiting, MaxSeats: 4, Members: members(1, 2)})
	svc := service.NewRoomService(repo, 10)

	updated, err := svc.LeaveRoom(context.Background(), room.ID, 42)
	require.NoError(t, err)
	assert.Len(t, updated.Members, 2)
	assert.Equal(t, uint(1), updated.Host().UserID)
}

func TestRoomService_LeaveRoom_UnknownRoom(t *testing.T) {
	svc := service.NewRoomService(newMemoryRoomRepository(), 10)
	_, err := svc.LeaveRoom(context.Background(), 404, 1)
	assert.ErrorIs(t, err, service.ErrRoomNotFound)
}

// --- ToggleReady / GetRoomForUser / FindByCode / SetStatus ---

func TestRoomService_ToggleReady(t *testing.T) {
	repo := newMemoryRoomRepository()
	room := repo.put(&domain.Room{JoinCode: "DDDDDD", Title: "t", Status: domain.RoomStatusWaiting, MaxSeats: 4, Members: members(1, 2)})
	svc := service.NewRoomService(repo, 10)
	ctx := context.Background()

	updated, err := svc.ToggleReady(ctx, room.ID, 2)
	require.NoError(t, err)
	assert.True(t, updated.FindMember(2).Ready)

	updated, err = svc.ToggleReady(ctx, room.ID, 2)
	require.NoError(t, err)
	assert.False(t, updated.FindMember(2).Ready)

	_, err = svc.ToggleReady(ctx, room.ID, 3)
	assert.ErrorIs(t, err, service.ErrNotAMember)
}

func TestRoomService_GetRoomForUser(t *testing.T) {
	repo := newMemoryRoomRepository()
	room := repo.put(&domain.Room{JoinCode: "EEEEEE", Title: "t", Status: domain.RoomStatusWaiting, MaxSeats: 4, Members: members(1)})
	svc := service.NewRoomService(repo, 10)
	ctx := context.Background()

	got, err := svc.GetRoomForUser(ctx, room.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, room.ID, got.ID)

	_, err = svc.GetRoomForUser(ctx, room.ID, 2)
	assert.ErrorIs(t, err, service.ErrAccessDenied)

	_, err = svc.GetRoomForUser(ctx, 999, 1)
	assert.ErrorIs(t, err, service.ErrRoomNotFound)
}

func TestRoomService_FindByCode(t *testing.T) {
	repo := newMemoryRoomRepository()
	repo.put(&domain.Room{JoinCode: "FFFFFF", Title: "t", Status: domain.RoomStatusWaiting, MaxSeats: 4, Members: members(1)})
	svc := service.NewRoomService(repo, 10)

	room, err := svc.FindByCode(context.Background(), "ffffff")
	require.NoError(t, err)
	assert.Equal(t, "FFFFFF", room.JoinCode)

	_, err = svc.FindByCode(context.Background(), "GGGGGG")
	assert.ErrorIs(t, err, service.ErrRoomNotFound)
}

func TestRoomService_SetStatus(t *testing.T) {
	repo := newMemoryRoomRepository()
	ms := members(1, 2, 3)
	ms[1].Role = domain.RoleCoHost
	room := repo.put(&domain.Room{JoinCode: "HHHHHH", Title: "t", Status: domain.RoomStatusWaiting, MaxSeats: 4, Members: ms})
	svc := service.NewRoomService(repo, 10)
	ctx := context.Background()

	updated, err := svc.SetStatus(ctx, room.ID, 1, domain.RoomStatusActive)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomStatusActive, updated.Status)

	updated, err = svc.SetStatus(ctx, room.ID, 2, domain.RoomStatusPaused)
	require.NoError(t, err, "CO_HOST 也可以修改状态")
	assert.Equal(t, domain.RoomStatusPaused, updated.Status)

	_, err = svc.SetStatus(ctx, room.ID, 3, domain.RoomStatusActive)
	assert.ErrorIs(t, err, service.ErrAccessDenied)

	_, err = svc.SetStatus(ctx, room.ID, 1, domain.RoomStatusCompleted)
	assert.ErrorIs(t, err, service.ErrInvalidInput, "不能手动结束房间")
}

func TestRoomService_RepositoryFailureMapsToInternal(t *testing.T) {
	mockRepo := new(mocks.RoomRepository)
	svc := service.NewRoomService(mockRepo, 10)
	ctx := context.Background()

	mockRepo.On("UpdateWithLock", ctx, uint(1), mock.Anything).Return(nil, fmt.Errorf("gorm: lock room 1: %w", errors.New("deadlock"))).Once()

	_, err := svc.ToggleReady(ctx, 1, 1)
	assert.ErrorIs(t, err, service.ErrInternalServer)
	mockRepo.AssertExpectations(t)
}
