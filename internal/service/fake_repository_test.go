package service_test

import (
	"context"
	"sync"

	"github.com/SnehitPandey/studyflow-backend/internal/domain"
	"github.com/SnehitPandey/studyflow-backend/internal/repository"
)

// memoryRoomRepository 内存版 RoomRepository，UpdateWithLock 以互斥锁模拟行锁
type memoryRoomRepository struct {
	mu     sync.Mutex
	nextID uint
	rooms  map[uint]*domain.Room
}

func newMemoryRoomRepository() *memoryRoomRepository {
	return &memoryRoomRepository{rooms: make(map[uint]*domain.Room)}
}

func cloneRoom(r *domain.Room) *domain.Room {
	c := *r
	c.Members = append([]domain.Member(nil), r.Members...)
	return &c
}

func (m *memoryRoomRepository) FindByID(_ context.Context, id uint) (*domain.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[id]
	if !ok {
		return nil, repository.ErrRoomNotFound
	}
	return cloneRoom(room), nil
}

func (m *memoryRoomRepository) FindByJoinCode(_ context.Context, code string) (*domain.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, room := range m.rooms {
		if room.JoinCode == code {
			return cloneRoom(room), nil
		}
	}
	return nil, repository.ErrRoomNotFound
}

func (m *memoryRoomRepository) IsJoinCodeExists(_ context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, room := range m.rooms {
		if room.JoinCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryRoomRepository) Create(_ context.Context, room *domain.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rooms {
		if existing.JoinCode == room.JoinCode {
			return repository.ErrDuplicateEntry
		}
	}
	m.nextID++
	room.ID = m.nextID
	for i := range room.Members {
		room.Members[i].RoomID = room.ID
	}
	m.rooms[room.ID] = cloneRoom(room)
	return nil
}

func (m *memoryRoomRepository) UpdateWithLock(_ context.Context, roomID uint, fn repository.RoomMutation) (*domain.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil, repository.ErrRoomNotFound
	}
	working := cloneRoom(room)
	if err := fn(working); err != nil {
		return nil, err
	}
	m.rooms[roomID] = cloneRoom(working)
	return working, nil
}

// put 直接写入一个房间，用于构造测试场景
func (m *memoryRoomRepository) put(room *domain.Room) *domain.Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room.ID == 0 {
		m.nextID++
		room.ID = m.nextID
	} else if room.ID > m.nextID {
		m.nextID = room.ID
	}
	m.rooms[room.ID] = cloneRoom(room)
	return room
}
