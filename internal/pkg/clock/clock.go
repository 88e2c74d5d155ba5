package clock

import "time"

// Clock 是轮询循环使用的时间抽象，便于在测试中替换为虚拟时钟。
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

// New 返回基于真实墙钟的 Clock。
func New() Clock {
	return realClock{}
}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
