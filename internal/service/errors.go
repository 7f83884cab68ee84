package service

import (
	"errors"

	"github.com/SnehitPandey/studyflow-backend/internal/repository"
)

var (
	ErrInvalidInput            = errors.New("invalid input")
	ErrAccessDenied            = errors.New("access denied")
	ErrNotAMember              = errors.New("not a member of this room")
	ErrAuthenticationFailed    = errors.New("authentication failed")
	ErrUserNotFound            = errors.New("user not found")
	ErrRoomNotFound            = errors.New("room not found")
	ErrRoomFull                = errors.New("room is full")
	ErrAlreadyMember           = errors.New("already a member of this room")
	ErrRoomClosed              = errors.New("room is closed")
	ErrCodeGenerationExhausted = errors.New("could not generate a unique join code")
	ErrRegistrationFailed      = errors.New("registration failed: username or email already exists")
	ErrInternalServer          = errors.New("internal server error")
)

// isBusinessError 判断是否为本包定义的业务错误，这类错误原样返回给调用者
func isBusinessError(err error) bool {
	for _, target := range []error{
		ErrInvalidInput, ErrAccessDenied, ErrNotAMember, ErrRoomFull,
		ErrAlreadyMember, ErrRoomClosed, ErrRoomNotFound, ErrUserNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// mapRoomRepoError 将房间仓库错误映射为服务层错误
func mapRoomRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case isBusinessError(err):
		return err
	case errors.Is(err, repository.ErrRoomNotFound):
		return ErrRoomNotFound
	default:
		return ErrInternalServer
	}
}
