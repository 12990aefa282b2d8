package supervisor

import (
	"fmt"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/zap"

	"taskmaster/pkg/config"
	"taskmaster/pkg/logger"
)

// Registry 持有name到Engine的有序表，按配置文档的声明顺序
//
// 表只在主任务的初始化、重载和关闭路径上变更，
// Engine内部的并发由Engine自己负责。
type Registry struct {
	mu sync.RWMutex

	cfg     *config.Config
	engines *orderedmap.OrderedMap[string, *Engine]

	journal Recorder
	logger  *zap.SugaredLogger
}

func NewRegistry(cfg *config.Config, journal Recorder) *Registry {
	return &Registry{
		cfg:     cfg,
		engines: orderedmap.New[string, *Engine](),
		journal: journal,
		logger:  logger.Logging("registry"),
	}
}

// Initialize 为每个program构造Engine并拉起auto_start的那些
//
// 任何一个启动失败都会停掉已经启动的引擎并中止初始化。
func (r *Registry) Initialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for pair := r.cfg.Programs.Oldest(); pair != nil; pair = pair.Next() {
		r.engines.Set(pair.Key, NewEngine(pair.Value, r.journal))
	}

	started := make([]*Engine, 0)

	for pair := r.engines.Oldest(); pair != nil; pair = pair.Next() {
		eng := pair.Value
		if !eng.Config().AutoStart {
			continue
		}

		if err := eng.Start(); err != nil {
			r.logger.Errorf("Initialization aborted: %v", err)

			for _, s := range started {
				_ = s.Stop()
			}

			return err
		}

		started = append(started, eng)
	}

	return nil
}

func (r *Registry) Engine(name string) (*Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.engines.Get(name)
}

// Names 按声明顺序返回所有program名
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, r.engines.Len())
	for pair := r.engines.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}

	return names
}

func (r *Registry) Start(name string) error {
	eng, ok := r.Engine(name)
	if !ok {
		return fmt.Errorf("no program named %q", name)
	}

	return eng.Start()
}

func (r *Registry) Stop(name string) error {
	eng, ok := r.Engine(name)
	if !ok {
		return fmt.Errorf("no program named %q", name)
	}

	return eng.Stop()
}

// Restart 先停后起
func (r *Registry) Restart(name string) error {
	eng, ok := r.Engine(name)
	if !ok {
		return fmt.Errorf("no program named %q", name)
	}

	if err := eng.Stop(); err != nil {
		return err
	}

	return eng.Start()
}

// Status 每个program一行文本快照
func (r *Registry) Status() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lines := make([]string, 0, r.engines.Len())
	for pair := r.engines.Oldest(); pair != nil; pair = pair.Next() {
		lines = append(lines, fmt.Sprintf("%s: %s", pair.Key, pair.Value.Status()))
	}

	return lines
}

// Reload 重新加载配置文档并做三段式对账
//
// 第一段更新两边都有的program：只有副本数变化走扩缩容，
// 否则交给Engine.Reload做字段级处理；第二段注册新增的program；
// 第三段停掉并摘除消失的program。解析或校验失败时整个重载
// 中止，不碰任何引擎。
func (r *Registry) Reload() error {
	newCfg, err := r.cfg.Reload()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	reloadCounter.Inc()
	r.logger.Infof("Reloading configuration from %s", r.cfg.Path())

	// 更新
	for pair := newCfg.Programs.Oldest(); pair != nil; pair = pair.Next() {
		name, programCfg := pair.Key, pair.Value

		eng, ok := r.engines.Get(name)
		if !ok {
			continue
		}

		d := config.Compare(eng.Config(), programCfg)
		if d.Empty() {
			continue
		}

		if d.InstancesOnly() {
			if err := eng.Scale(programCfg); err != nil {
				r.logger.Errorf("Scale %s failed: %v", name, err)
			}
			continue
		}

		if err := eng.Reload(programCfg); err != nil {
			r.logger.Errorf("Reload %s failed: %v", name, err)
		}
	}

	// 新增
	for pair := newCfg.Programs.Oldest(); pair != nil; pair = pair.Next() {
		name, programCfg := pair.Key, pair.Value

		if _, ok := r.engines.Get(name); ok {
			continue
		}

		eng := NewEngine(programCfg, r.journal)
		r.engines.Set(name, eng)
		r.logger.Infof("Added program %s", name)

		if programCfg.AutoStart {
			if err := eng.Start(); err != nil {
				r.logger.Errorf("Start %s failed: %v", name, err)
			}
		}
	}

	// 移除
	removed := make([]string, 0)
	for pair := r.engines.Oldest(); pair != nil; pair = pair.Next() {
		if _, ok := newCfg.Programs.Get(pair.Key); !ok {
			removed = append(removed, pair.Key)
		}
	}

	for _, name := range removed {
		eng, _ := r.engines.Get(name)
		_ = eng.Stop()
		r.engines.Delete(name)
		r.logger.Infof("Removed program %s", name)
	}

	r.cfg = newCfg

	return nil
}

// StopAll 关闭时逐个停掉所有引擎
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for pair := r.engines.Oldest(); pair != nil; pair = pair.Next() {
		_ = pair.Value.Stop()
	}

	r.logger.Info("All programs stopped")
}

// Config 当前生效的配置文档
func (r *Registry) Config() *config.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.cfg
}
