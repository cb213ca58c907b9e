package tracking

import "time"

// Clock отдаёт время и таймеры; подменяется в тестах.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer — отменяемый отложенный вызов.
type Timer interface {
	Stop() bool
}

type systemClock struct{}

// SystemClock возвращает часы на основе пакета time.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
