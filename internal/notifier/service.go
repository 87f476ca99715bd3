// Package notifier pushes terminal run events to a Telegram chat.
//
// It is a plain bus subscriber: the scheduler does not know it exists, and
// a slow or failing Telegram API can never block a run. Failures and aborts
// are always sent; normal finishes only when configured.
package notifier

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"labrun/internal/eventbus"
	"labrun/internal/scheduler"
	logx "labrun/pkg/logx"
)

type Config struct {
	Enabled    bool
	Token      string
	ChatID     int64
	RatePerMin int  // max messages per minute (default 20)
	OnFinished bool // also notify normal finishes
}

type sender interface {
	Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error)
}

type Service struct {
	log     logx.Logger
	cfg     Config
	bus     eventbus.Bus
	bot     sender
	limiter *rate.Limiter

	mu     sync.Mutex
	unsub  func()
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) (*Service, error) {
	s := &Service{log: log, cfg: cfg, bus: bus}
	if !cfg.Enabled {
		return s, nil
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("notifier: token is required")
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("notifier: chat_id is required")
	}
	// Send-only: the poller is never started.
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("notifier: %w", err)
	}
	s.bot = bot

	rpm := cfg.RatePerMin
	if rpm <= 0 {
		rpm = 20
	}
	s.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
	return s, nil
}

func (s *Service) Start(ctx context.Context) {
	if !s.cfg.Enabled || s.bot == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsub != nil {
		return
	}
	ch, unsub := s.bus.Subscribe(64)
	s.unsub = unsub
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.consume(runCtx, ch)
	}()
	s.log.Info("notifier started", logx.Int64("chat_id", s.cfg.ChatID))
}

func (s *Service) Stop() {
	s.mu.Lock()
	unsub := s.unsub
	cancel := s.cancel
	s.unsub = nil
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if unsub != nil {
		unsub()
	}
	s.wg.Wait()
}

func (s *Service) consume(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			msg := s.format(ev)
			if msg == "" {
				continue
			}
			if !s.limiter.Allow() {
				s.log.Debug("notification dropped (rate limit)", logx.String("topic", ev.Topic))
				continue
			}
			opts := &tele.SendOptions{DisableWebPagePreview: true}
			if _, err := s.bot.Send(&tele.Chat{ID: s.cfg.ChatID}, msg, opts); err != nil {
				s.log.Warn("notification send failed", logx.String("topic", ev.Topic), logx.Err(err))
			}
		}
	}
}

func (s *Service) format(ev eventbus.Event) string {
	exp, ok := ev.Data.(*scheduler.Experiment)
	if !ok {
		return ""
	}
	switch ev.Topic {
	case scheduler.TopicFailed:
		return fmt.Sprintf("❌ %s failed after %s: %v",
			exp.Name(), roundDur(exp.Duration()), exp.Err())
	case scheduler.TopicAbortReturned:
		return fmt.Sprintf("⏹ %s aborted after %s",
			exp.Name(), roundDur(exp.Duration()))
	case scheduler.TopicFinished:
		if !s.cfg.OnFinished {
			return ""
		}
		return fmt.Sprintf("✅ %s finished in %s",
			exp.Name(), roundDur(exp.Duration()))
	}
	return ""
}

func roundDur(d time.Duration) time.Duration {
	if d >= time.Minute {
		return d.Round(time.Second)
	}
	return d.Round(10 * time.Millisecond)
}
