package xcron

import (
	"sort"
	"sync"
	"time"
)

// JobStats 单个任务的执行统计快照
type JobStats struct {
	Name         string        `json:"name"`
	Executions   int64         `json:"executions"`
	Successes    int64         `json:"successes"`
	Failures     int64         `json:"failures"`
	Skips        int64         `json:"skips"`
	LastRun      time.Time     `json:"last_run,omitzero"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats 执行统计，并发安全。未命名任务归入 ""。
type Stats struct {
	mu   sync.Mutex
	jobs map[string]*JobStats
}

func newStats() *Stats {
	return &Stats{jobs: make(map[string]*JobStats)}
}

func (s *Stats) entry(name string) *JobStats {
	js, ok := s.jobs[name]
	if !ok {
		js = &JobStats{Name: name}
		s.jobs[name] = js
	}
	return js
}

func (s *Stats) recordExecution(name string, d time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	js := s.entry(name)
	js.Executions++
	js.LastRun = time.Now()
	js.LastDuration = d
	if err != nil {
		js.Failures++
		js.LastError = err.Error()
		return
	}
	js.Successes++
	js.LastError = ""
}

func (s *Stats) recordSkip(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(name).Skips++
}

// Job 返回指定任务的统计，不存在时返回零值
func (s *Stats) Job(name string) JobStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if js, ok := s.jobs[name]; ok {
		return *js
	}
	return JobStats{Name: name}
}

// Jobs 按任务名排序的全部统计
func (s *Stats) Jobs() []JobStats {
	s.mu.Lock()
	out := make([]JobStats, 0, len(s.jobs))
	for _, js := range s.jobs {
		out = append(out, *js)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
