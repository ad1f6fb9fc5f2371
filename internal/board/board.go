// Package board 定义棋盘引擎共用的坐标与落子错误
package board

import "errors"

// Position 棋盘坐标，行列均从 0 开始
type Position struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// In 判断坐标是否位于 size×size 棋盘内
func (p Position) In(size int) bool {
	return p.Row >= 0 && p.Row < size && p.Col >= 0 && p.Col < size
}

// 落子校验错误，由会话层映射为带原因的 InvalidMove
var (
	ErrOccupied     = errors.New("cell occupied")
	ErrNotYourTurn  = errors.New("not your turn")
	ErrGameFinished = errors.New("game finished")
	ErrOutOfBounds  = errors.New("position out of bounds")
)
