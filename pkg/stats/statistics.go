// Package stats keeps per-server task statistics and gates admission of new
// requests.
package stats

import (
	"runtime"
	"sync"
	"time"
)

// DefaultRecentTaskNum is the default capacity of the recent-duration FIFO.
const DefaultRecentTaskNum = 100

// Statistics is the single counter set of a running server. All mutation
// happens under one lock.
type Statistics struct {
	mu sync.Mutex

	service   string
	startTime time.Time

	taskTotal      int64
	taskToday      int64
	curTask        int64
	totalTime      int64
	totalTimeToday int64
	skipTotal      int64
	skipToday      int64

	recent     []int64
	recentHead int
	recentLen  int

	now func() time.Time
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Service        string
	StartTime      time.Time
	Running        time.Duration
	TaskTotal      int64
	TaskToday      int64
	CurTask        int64
	TotalTime      int64
	TotalTimeToday int64
	SkipTotal      int64
	SkipToday      int64
	AvgTime        float64
	AvgTimeToday   float64
	AvgTimeRecent  float64
	Goroutines     int
}

// New creates statistics for service keeping the last recentN durations.
func New(service string, recentN int) *Statistics {
	if recentN <= 0 {
		recentN = DefaultRecentTaskNum
	}
	s := &Statistics{
		service: service,
		recent:  make([]int64, recentN),
		now:     time.Now,
	}
	s.startTime = s.now()
	return s
}

// StartTask counts a new admitted request.
func (s *Statistics) StartTask() {
	s.mu.Lock()
	s.startLocked()
	s.mu.Unlock()
}

func (s *Statistics) startLocked() {
	s.taskTotal++
	s.taskToday++
	s.curTask++
}

// FinishTask records the completion of an admitted request that took
// durationMs milliseconds.
func (s *Statistics) FinishTask(durationMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curTask > 0 {
		s.curTask--
	}
	s.totalTime += durationMs
	s.totalTimeToday += durationMs

	idx := (s.recentHead + s.recentLen) % len(s.recent)
	if s.recentLen == len(s.recent) {
		s.recentHead = (s.recentHead + 1) % len(s.recent)
	} else {
		s.recentLen++
	}
	s.recent[idx] = durationMs
}

// SkipTask counts a request rejected before doing any work.
func (s *Statistics) SkipTask() {
	s.mu.Lock()
	s.skipLocked()
	s.mu.Unlock()
}

func (s *Statistics) skipLocked() {
	s.skipTotal++
	s.skipToday++
}

// RolloverDay zeroes the "today" counters.
func (s *Statistics) RolloverDay() {
	s.mu.Lock()
	s.taskToday = 0
	s.totalTimeToday = 0
	s.skipToday = 0
	s.mu.Unlock()
}

// CurTask returns the in-flight count.
func (s *Statistics) CurTask() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.curTask
}

// RecentAverage returns the mean of the recent durations, 0 when empty.
func (s *Statistics) RecentAverage() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recentAverageLocked()
}

func (s *Statistics) recentAverageLocked() float64 {
	if s.recentLen == 0 {
		return 0
	}
	var sum int64
	for i := 0; i < s.recentLen; i++ {
		sum += s.recent[(s.recentHead+i)%len(s.recent)]
	}
	return float64(sum) / float64(s.recentLen)
}

// Snapshot copies the counters.
func (s *Statistics) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Service:        s.service,
		StartTime:      s.startTime,
		Running:        s.now().Sub(s.startTime),
		TaskTotal:      s.taskTotal,
		TaskToday:      s.taskToday,
		CurTask:        s.curTask,
		TotalTime:      s.totalTime,
		TotalTimeToday: s.totalTimeToday,
		SkipTotal:      s.skipTotal,
		SkipToday:      s.skipToday,
		AvgTimeRecent:  s.recentAverageLocked(),
		Goroutines:     runtime.NumGoroutine(),
	}
	// Completed tasks are total minus in-flight.
	if done := s.taskTotal - s.curTask; done > 0 {
		snap.AvgTime = float64(s.totalTime) / float64(done)
	}
	if done := s.taskToday - s.curTask; done > 0 {
		snap.AvgTimeToday = float64(s.totalTimeToday) / float64(done)
	}
	return snap
}
