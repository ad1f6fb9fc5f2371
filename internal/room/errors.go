package room

import "errors"

// 房间存储错误定义

var (
	ErrRoomNotFound = errors.New("ROOM_NOT_FOUND")
	ErrRoomExists   = errors.New("ROOM_EXISTS")
	ErrRoomBusy     = errors.New("ROOM_BUSY")

	errSkip = errors.New("skip")
)
