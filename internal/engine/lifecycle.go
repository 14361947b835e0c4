package engine

import "time"

// Phase 是拍卖生命周期阶段，完全由当前时间与配置的起止时间推导，
// 不落任何可变标志位，避免与时间脱钩。
type Phase int

const (
	PhaseScheduled Phase = iota // now < startTime
	PhaseActive                 // startTime <= now < endTime
	PhaseEnded                  // now >= endTime
)

func (p Phase) String() string {
	switch p {
	case PhaseScheduled:
		return "scheduled"
	case PhaseActive:
		return "active"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// PhaseAt 计算某时刻的生命周期阶段。所有需要判断拍卖是否进行中的组件
// 一律调用这里，保证口径一致。
func PhaseAt(now, start, end time.Time) Phase {
	if now.Before(start) {
		return PhaseScheduled
	}
	if now.Before(end) {
		return PhaseActive
	}
	return PhaseEnded
}
