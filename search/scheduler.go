package search

import "time"

// Task 已排期的任务；Stop 返回 false 表示已触发或已停止。
type Task interface {
	Stop() bool
}

// Scheduler 延迟执行抽象，便于测试时手动推进时间。
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Task
}

type timerScheduler struct{}

func (timerScheduler) AfterFunc(d time.Duration, f func()) Task {
	return time.AfterFunc(d, f)
}

// RealScheduler 基于 time.AfterFunc。
var RealScheduler Scheduler = timerScheduler{}
