package reservation

import "errors"

// 领域错误定义
var (
	// ErrReservationNotFound 预留不存在（或已被终态清理）
	ErrReservationNotFound = errors.New("预留记录不存在")

	// ErrAlreadyTerminal 预留已进入终态
	// 教学要点：重复release、commit与清扫赛跑的败者都落在这里，
	// 必须幂等安全——报告错误但绝不重复增减库存
	ErrAlreadyTerminal = errors.New("预留已进入终态")

	// ErrReservationExpired 预留已过期，不能commit
	ErrReservationExpired = errors.New("预留已过期")

	// ErrInvalidTTL 过期时长必须大于0
	ErrInvalidTTL = errors.New("无效的预留有效期")
)
