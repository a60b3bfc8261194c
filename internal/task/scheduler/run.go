package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "relaybot/pkg/logx"
)

func (s *Service) run(name string, timeout time.Duration, job Task) {
	_ = s.runCtx(context.Background(), name, timeout, job)
}

// runCtx executes job with a timeout, converting panics to errors so one bad
// task can't take the process down.
func (s *Service) runCtx(ctx context.Context, name string, timeout time.Duration, job Task) (err error) {
	if job == nil {
		return nil
	}
	if timeout <= 0 {
		s.mu.Lock()
		timeout = s.cfg.DefaultTimeout
		s.mu.Unlock()
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("task.panic", logx.String("task", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		err = job(runCtx)
	}()
	dur := time.Since(start)

	item := HistoryItem{Name: name, Started: start, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("task.failed", logx.String("task", name), logx.Err(err), logx.Duration("dur", dur))
	} else {
		s.log.Debug("task.completed", logx.String("task", name), logx.Duration("dur", dur))
	}
	s.record(item)
	return err
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	if over := len(s.history) - limit; over > 0 {
		s.history = append([]HistoryItem(nil), s.history[over:]...)
	}
}
