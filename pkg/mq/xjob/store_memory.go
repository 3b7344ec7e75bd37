package xjob

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// memoryStore 进程内存储，重启后状态丢失
type memoryStore struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	idem    map[string]string
	waiting readyHeap
	delayed delayHeap
	seq     int64
	closed  bool
}

var _ Store = (*memoryStore)(nil)

// NewMemoryStore 创建进程内存储
func NewMemoryStore() Store {
	return &memoryStore{
		jobs: make(map[string]*Job),
		idem: make(map[string]string),
	}
}

func (s *memoryStore) Add(_ context.Context, job *Job) (*Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrStoreClosed
	}
	if scope := job.idemScope(); scope != "" {
		if id, ok := s.idem[scope]; ok {
			if existing, ok := s.jobs[id]; ok {
				return existing.Clone(), false, nil
			}
		}
	}
	s.seq++
	j := job.Clone()
	j.Seq = s.seq
	s.jobs[j.ID] = j
	if scope := j.idemScope(); scope != "" {
		s.idem[scope] = j.ID
	}
	if j.Status == StatusDelayed {
		heap.Push(&s.delayed, delayItem{id: j.ID, at: j.RunAt})
	} else {
		j.Status = StatusWaiting
		heap.Push(&s.waiting, readyItem{id: j.ID, priority: j.Priority, seq: j.Seq})
	}
	return j.Clone(), true, nil
}

func (s *memoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.Clone(), nil
}

func (s *memoryStore) Claim(_ context.Context, owner string, now time.Time, lease time.Duration) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	s.promote(now)
	for s.waiting.Len() > 0 {
		it := heap.Pop(&s.waiting).(readyItem)
		j, ok := s.jobs[it.id]
		// 已取消的任务在堆中残留，惰性丢弃
		if !ok || j.Status != StatusWaiting {
			continue
		}
		j.Status = StatusActive
		j.AttemptsMade++
		j.LeaseOwner = owner
		j.LeaseUntil = now.Add(lease)
		j.UpdatedAt = now
		return j.Clone(), nil
	}
	return nil, ErrNoJob
}

// promote 将到期的 delayed 任务转入 waiting
func (s *memoryStore) promote(now time.Time) {
	for s.delayed.Len() > 0 && !s.delayed[0].at.After(now) {
		it := heap.Pop(&s.delayed).(delayItem)
		j, ok := s.jobs[it.id]
		if !ok || j.Status != StatusDelayed {
			continue
		}
		j.Status = StatusWaiting
		j.UpdatedAt = now
		heap.Push(&s.waiting, readyItem{id: j.ID, priority: j.Priority, seq: j.Seq})
	}
}

// leased 返回 owner 持有租约的 active 任务
func (s *memoryStore) leased(id, owner string) (*Job, error) {
	j, ok := s.jobs[id]
	if !ok || j.Status != StatusActive || j.LeaseOwner != owner {
		return nil, ErrLeaseLost
	}
	return j, nil
}

func (s *memoryStore) Heartbeat(_ context.Context, id, owner string, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.leased(id, owner)
	if err != nil {
		return false, err
	}
	j.LeaseUntil = until
	return j.CancelRequested, nil
}

func (s *memoryStore) Complete(_ context.Context, id, owner string, result []byte, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.leased(id, owner)
	if err != nil {
		return err
	}
	j.Status = StatusCompleted
	j.Result = append([]byte(nil), result...)
	j.Error = ""
	j.LeaseOwner = ""
	j.LeaseUntil = time.Time{}
	j.UpdatedAt = now
	j.FinishedAt = now
	return nil
}

func (s *memoryStore) Fail(_ context.Context, id, owner string, p FailParams, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.leased(id, owner)
	if err != nil {
		return err
	}
	j.Error = p.Message
	j.LeaseOwner = ""
	j.LeaseUntil = time.Time{}
	j.UpdatedAt = now
	if p.RetryAt != nil {
		j.Status = StatusDelayed
		j.RunAt = *p.RetryAt
		heap.Push(&s.delayed, delayItem{id: j.ID, at: j.RunAt})
		return nil
	}
	j.Status = StatusFailed
	j.Exhausted = p.Exhausted
	j.FinishedAt = now
	return nil
}

func (s *memoryStore) Cancel(_ context.Context, id string, now time.Time) (CancelResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return "", ErrJobNotFound
	}
	switch j.Status {
	case StatusWaiting, StatusDelayed:
		s.remove(j)
		return CancelRemoved, nil
	case StatusActive:
		j.CancelRequested = true
		j.UpdatedAt = now
		return CancelSignalled, nil
	default:
		return CancelNotCancellable, nil
	}
}

// remove 删除任务及其幂等键，堆中残留项在出堆时丢弃
func (s *memoryStore) remove(j *Job) {
	delete(s.jobs, j.ID)
	if scope := j.idemScope(); scope != "" && s.idem[scope] == j.ID {
		delete(s.idem, scope)
	}
}

func (s *memoryStore) ReclaimStalled(_ context.Context, now time.Time) (ReclaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res ReclaimResult
	for _, j := range s.jobs {
		if j.Status != StatusActive || !j.LeaseUntil.Before(now) {
			continue
		}
		j.LeaseOwner = ""
		j.LeaseUntil = time.Time{}
		j.UpdatedAt = now
		if j.AttemptsMade >= j.MaxAttempts {
			j.Status = StatusFailed
			j.Error = stalledMessage
			j.Exhausted = true
			j.FinishedAt = now
			res.Failed++
			continue
		}
		j.Status = StatusWaiting
		heap.Push(&s.waiting, readyItem{id: j.ID, priority: j.Priority, seq: j.Seq})
		res.Requeued++
	}
	return res, nil
}

func (s *memoryStore) Purge(_ context.Context, completedBefore, failedBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if (j.Status == StatusCompleted && j.FinishedAt.Before(completedBefore)) ||
			(j.Status == StatusFailed && j.FinishedAt.Before(failedBefore)) {
			s.remove(j)
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) Counts(context.Context) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c Counts
	for _, j := range s.jobs {
		switch j.Status {
		case StatusWaiting:
			c.Waiting++
		case StatusActive:
			c.Active++
		case StatusDelayed:
			c.Delayed++
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type readyItem struct {
	id       string
	priority int
	seq      int64
}

// readyHeap 按 (priority, seq) 升序
type readyHeap []readyItem

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x any)   { *h = append(*h, x.(readyItem)) }
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

type delayItem struct {
	id string
	at time.Time
}

// delayHeap 按到期时间升序
type delayHeap []delayItem

func (h delayHeap) Len() int           { return len(h) }
func (h delayHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h delayHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *delayHeap) Push(x any)        { *h = append(*h, x.(delayItem)) }
func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
