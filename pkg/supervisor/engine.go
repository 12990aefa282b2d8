// Package supervisor 提供进程监督的核心功能
//
// 每个program由一个Engine负责：按目标副本数拉起子进程、
// 后台收割退出、按策略重启、优雅停止并升级强杀、
// 以及在配置变更时做字段级的热更新或重启。
// Registry持有name到Engine的有序表，负责指令分发和重载编排。
package supervisor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"taskmaster/pkg/codec"
	"taskmaster/pkg/config"
	"taskmaster/pkg/logger"
)

// Recorder 生命周期事件的落盘接口，由历史库实现
type Recorder interface {
	Record(ev codec.Event)
}

// Engine 单个program的生命周期控制器
//
// 三个原子标志的约定：
//   - monitorRunning: 监控任务存活
//   - stopRequested: 通知监控任务退出
//   - suppressRestart: 编排中的启停期间屏蔽监控的自动重启
type Engine struct {
	// mu 串行化Start/Stop/Scale/Reload等编排操作
	mu sync.Mutex

	cfgMu sync.RWMutex
	cfg   *config.ProgramConfig
	state codec.EngineState

	replicas *ReplicaSet

	monitorRunning  atomic.Bool
	stopRequested   atomic.Bool
	suppressRestart atomic.Bool

	journal Recorder
	logger  *zap.SugaredLogger
}

func NewEngine(cfg *config.ProgramConfig, journal Recorder) *Engine {
	return &Engine{
		cfg:      cfg,
		state:    codec.EngineIdle,
		replicas: NewReplicaSet(),
		journal:  journal,
		logger:   logger.Logging("engine::" + cfg.Name),
	}
}

func (e *Engine) Config() *config.ProgramConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()

	return e.cfg
}

func (e *Engine) setConfig(cfg *config.ProgramConfig) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()

	e.cfg = cfg
}

func (e *Engine) State() codec.EngineState {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()

	return e.state
}

func (e *Engine) setState(s codec.EngineState) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()

	e.state = s
}

// Start 把存活副本数拉到目标值，对已有副本幂等
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.startLocked()
}

func (e *Engine) startLocked() error {
	cfg := e.Config()

	if cfg.Instances == 0 {
		return &StartError{Program: cfg.Name, Reason: "instances is 0, refusing to start"}
	}

	if e.replicas.Count() == cfg.Instances {
		e.logger.Infof("%s already running %d instances", cfg.Name, cfg.Instances)
		return nil
	}

	// 整个启动期间屏蔽自动重启，宽限期内的死亡由本调用兜底
	e.suppressRestart.Store(true)
	defer e.suppressRestart.Store(false)

	e.setState(codec.EngineStarting)

	var lastErr error

	for attempt := 0; attempt <= cfg.RestartAttempts; attempt++ {
		if attempt > 0 {
			e.logger.Warnf("Retrying start of %s, attempt %d of %d", cfg.Name, attempt, cfg.RestartAttempts)
		}

		if err := e.spawnShortfall(cfg); err != nil {
			e.stopLocked()
			return err
		}

		e.ensureMonitor()

		if e.awaitGrace(cfg) {
			e.setState(codec.EngineRunning)
			e.logger.Infof("%s is running %d instances", cfg.Name, cfg.Instances)
			return nil
		}

		lastErr = &StartError{
			Program: cfg.Name,
			Reason:  fmt.Sprintf("did not hold %d instances through the %ds grace window", cfg.Instances, cfg.StartTime),
		}
	}

	// 重试预算耗尽，清场后上报失败
	e.stopLocked()

	return lastErr
}

// awaitGrace 宽限期内每秒采样一次存活数，start_time为0退化成一次立即采样
func (e *Engine) awaitGrace(cfg *config.ProgramConfig) bool {
	if cfg.StartTime == 0 {
		return e.replicas.Count() == cfg.Instances
	}

	for i := 0; i < cfg.StartTime; i++ {
		time.Sleep(time.Second)
		e.ensureMonitor()

		if e.replicas.Count() == cfg.Instances {
			return true
		}
	}

	return false
}

// Stop 停掉所有副本，对已停止的引擎幂等
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopLocked()

	return nil
}

// stopLocked 先等监控任务退出，再对每个存活PID执行优雅终止
func (e *Engine) stopLocked() {
	cfg := e.Config()

	e.setState(codec.EngineStopping)

	// 循环里重复置位：监控任务退出瞬间的自拉起会清掉这个标志
	e.stopRequested.Store(true)
	for e.monitorRunning.Load() {
		e.stopRequested.Store(true)
		time.Sleep(scanInterval)
	}

	// 每轮之后重扫副本集，上一轮可能有残留
	for {
		pids := e.replicas.Snapshot()
		if len(pids) == 0 {
			break
		}

		for _, pid := range pids {
			e.terminate(cfg, pid)
			e.replicas.Remove(pid)
			replicaGauge.WithLabelValues(cfg.Name).Set(float64(e.replicas.Count()))
		}
	}

	e.stopRequested.Store(false)
	e.setState(codec.EngineIdle)

	e.logger.Infof("%s stopped", cfg.Name)
}

// StopInstance 只摘掉最新加入的副本，用于重载时缩容
func (e *Engine) StopInstance() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.stopInstanceLocked()
}

func (e *Engine) stopInstanceLocked() error {
	cfg := e.Config()

	pid := e.replicas.Newest()
	if pid < 0 {
		return nil
	}

	e.suppressRestart.Store(true)
	defer e.suppressRestart.Store(false)

	// 先从集合摘除，监控任务不再碰这个PID
	e.replicas.Remove(pid)
	replicaGauge.WithLabelValues(cfg.Name).Set(float64(e.replicas.Count()))

	e.terminate(cfg, pid)
	e.logger.Infof("Scaled down %s, removed pid %d", cfg.Name, pid)

	return nil
}

// Scale 只有副本数变化时走扩缩容，存量副本不受影响
func (e *Engine) Scale(newCfg *config.ProgramConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.setConfig(newCfg)

	diff := newCfg.Instances - e.replicas.Count()
	switch {
	case diff > 0:
		e.logger.Infof("Scaling up %s to %d instances", newCfg.Name, newCfg.Instances)
		return e.startLocked()
	case diff < 0:
		e.logger.Infof("Scaling down %s to %d instances", newCfg.Name, newCfg.Instances)
		for i := 0; i < -diff; i++ {
			if err := e.stopInstanceLocked(); err != nil {
				return err
			}
		}
	}

	return nil
}

// Reload 应用一份新配置
//
// 变更集为空则什么都不做；含重启级字段则停机，auto_start为真时再拉起；
// 只含热更新字段（umask）时原地替换配置，不碰存活副本。
func (e *Engine) Reload(newCfg *config.ProgramConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := config.Compare(e.Config(), newCfg)
	if d.Empty() {
		e.logger.Debugf("No changes for %s", newCfg.Name)
		return nil
	}

	if !d.RequiresRestart() {
		e.logger.Infof("Hot applying %v for %s", d.Fields(), newCfg.Name)
		e.setConfig(newCfg)
		return nil
	}

	e.logger.Infof("Fields %v changed for %s, restart required", d.Fields(), newCfg.Name)

	e.stopLocked()
	e.setConfig(newCfg)

	if newCfg.AutoStart {
		return e.startLocked()
	}

	return nil
}

// Status 文本快照
func (e *Engine) Status() string {
	return fmt.Sprintf("%d out of %d instances running", e.replicas.Count(), e.Config().Instances)
}

func (e *Engine) IsRunning() bool {
	return e.replicas.Count() == e.Config().Instances
}

func (e *Engine) record(kind codec.EventKind, pid int, detail string) {
	if e.journal == nil {
		return
	}

	e.journal.Record(codec.Event{
		Program: e.Config().Name,
		Pid:     pid,
		Kind:    kind,
		Detail:  detail,
		At:      time.Now(),
	})
}
