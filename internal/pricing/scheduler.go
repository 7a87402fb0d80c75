package pricing

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// ErrAlreadyRunning 手动触发时该规则已有一轮在途
var ErrAlreadyRunning = errors.New("already_running")

// ErrStopped 调度器已进入停机流程，不再接受手动触发
var ErrStopped = errors.New("scheduler_stopped")

// Scheduler 按各规则自己的 check_interval 独立驱动评估周期。
// 同一规则同一时刻最多一轮在途（单飞）：到点时上一轮未结束则丢弃本次
// tick（不排队），手动触发遇到在途周期直接拒绝。规则之间互不影响，
// 并行执行。周期不可中途取消——对真实市场的半截改价是不安全的。
type Scheduler struct {
	engine *Engine
	rules  RuleStore
	logger *log.Logger

	refreshInterval time.Duration
	defaultInterval time.Duration

	mu      sync.Mutex
	running map[uint]bool
	runners map[uint]*ruleRunner
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type ruleRunner struct {
	interval time.Duration
	stop     chan struct{}
}

// NewScheduler 创建调度器
func NewScheduler(engine *Engine, rules RuleStore, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		engine:          engine,
		rules:           rules,
		logger:          logger,
		refreshInterval: 30 * time.Second,
		defaultInterval: 60 * time.Second,
		running:         make(map[uint]bool),
		runners:         make(map[uint]*ruleRunner),
		ctx:             context.Background(),
	}
}

// SetRefreshInterval 设置规则列表刷新间隔（运营增删改规则后生效的延迟上限）
func (s *Scheduler) SetRefreshInterval(d time.Duration) {
	if d > 0 {
		s.refreshInterval = d
	}
}

// SetDefaultInterval 设置规则未配置 check_interval_seconds 时的默认评估间隔
func (s *Scheduler) SetDefaultInterval(d time.Duration) {
	if d > 0 {
		s.defaultInterval = d
	}
}

// Start 启动调度：加载活跃规则并为每条规则启动独立定时器，
// 之后周期性刷新规则列表，使运营端的修改无需重启即可生效。
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.refresh()

	s.wg.Add(1)
	go s.refreshLoop()

	s.logger.Printf("调度器已启动，规则刷新间隔 %v", s.refreshInterval)
	return nil
}

// Stop 优雅停机：停止所有定时器并等待在途周期结束
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	// 先关门再排水：置位之后 runOnce 不再放新周期进来。
	// stopped 与 runOnce 内的 wg.Add 用同一把锁互斥，避免 Add 与 Wait 赛跑
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Println("调度器已停止")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger 手动触发一轮评估。规则空闲则立即开始并返回 nil；
// 该规则已有一轮在途则返回 ErrAlreadyRunning，绝不并发执行；
// 调度器停机后返回 ErrStopped。
func (s *Scheduler) Trigger(ruleID uint) error {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	if !s.runOnce(ruleID, true) {
		return ErrAlreadyRunning
	}
	return nil
}

// RunAllOnce 对所有活跃规则同步执行一轮（daemon 的 -once 模式）
func (s *Scheduler) RunAllOnce(ctx context.Context) error {
	rules, err := s.rules.ListActive()
	if err != nil {
		return err
	}
	for i := range rules {
		rule := rules[i]
		if !s.tryAcquire(rule.ID) {
			continue
		}
		s.engine.RunCycle(ctx, &rule)
		s.release(rule.ID)
	}
	return nil
}

func (s *Scheduler) refreshLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.refresh()
		}
	}
}

// refresh 对账活跃规则与在跑定时器：新增规则启动定时器，
// 停用/删除的规则停掉定时器，间隔变化的重启
func (s *Scheduler) refresh() {
	rules, err := s.rules.ListActive()
	if err != nil {
		s.logger.Printf("刷新规则列表失败: %v", err)
		return
	}

	desired := make(map[uint]time.Duration, len(rules))
	for _, rule := range rules {
		interval := time.Duration(rule.CheckIntervalSeconds) * time.Second
		if interval <= 0 {
			interval = s.defaultInterval
		}
		desired[rule.ID] = interval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, runner := range s.runners {
		interval, ok := desired[id]
		if ok && interval == runner.interval {
			continue
		}
		close(runner.stop)
		delete(s.runners, id)
		if !ok {
			s.logger.Printf("规则 #%d 已停用，定时器停止", id)
		}
	}

	for id, interval := range desired {
		if _, ok := s.runners[id]; ok {
			continue
		}
		runner := &ruleRunner{interval: interval, stop: make(chan struct{})}
		s.runners[id] = runner
		s.wg.Add(1)
		go s.runLoop(id, interval, runner.stop)
	}
}

func (s *Scheduler) runLoop(ruleID uint, interval time.Duration, stop chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// 启动即先跑一轮
	s.runOnce(ruleID, false)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.runOnce(ruleID, false)
		}
	}
}

// runOnce 获取该规则的单飞锁并异步执行一轮；获取失败返回 false。
// 配置快照在周期开始时读取一次，周期内不回读，避免读到半截的修改。
// 周期本身不挂在调度器 context 上：停机是等在途周期做完，
// 不是把广告改到一半的周期取消掉。RunCycle 自带墙钟超时兜底。
func (s *Scheduler) runOnce(ruleID uint, manual bool) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	if s.running[ruleID] {
		s.mu.Unlock()
		if !manual {
			s.logger.Printf("规则 #%d 上一轮仍在执行，丢弃本次tick", ruleID)
		}
		return false
	}
	s.running[ruleID] = true
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.release(ruleID)

		rule, err := s.rules.Get(ruleID)
		if err != nil {
			s.logger.Printf("读取规则 #%d 失败: %v", ruleID, err)
			return
		}
		if rule == nil || !rule.IsActive {
			return
		}
		s.engine.RunCycle(context.Background(), rule)
	}()
	return true
}

func (s *Scheduler) tryAcquire(ruleID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[ruleID] {
		return false
	}
	s.running[ruleID] = true
	return true
}

func (s *Scheduler) release(ruleID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, ruleID)
}
