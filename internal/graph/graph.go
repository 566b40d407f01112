package graph

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"ChainPilot/pkg/logger"
)

// Graph 是一次动作请求展开的无环任务集合。执行期间可以继续追加
// 后续任务（规划器看到结果后提议的下一步），因此用显式的结构承载
// 增长，而不是隐式的数组突变。
type Graph struct {
	mu      sync.Mutex
	tasks   []*Task
	byAlias map[string]*Task
	// memo 按任务身份缓存终态结果，支撑同图内的幂等去重。
	memo map[string]*Task
}

// New 创建空任务图。
func New() *Graph {
	return &Graph{
		byAlias: make(map[string]*Task),
		memo:    make(map[string]*Task),
	}
}

// Append 把任务加入图。依赖只允许指向已经在图中的别名，由此保证
// 无环：新节点永远不可能成为既有节点的前置。指向未知别名的依赖
// 记一条警告并在执行时跳过，不阻断构图。
func (g *Graph) Append(task *Task) *Task {
	g.mu.Lock()
	defer g.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Alias == "" {
		task.Alias = task.Name
	}
	// 别名冲突时退化为任务 ID，保证依赖解析仍然确定。
	if _, exists := g.byAlias[task.Alias]; exists {
		task.Alias = task.Alias + "#" + task.ID[:8]
	}
	if task.Status == "" {
		task.Status = StatusPending
	}
	for _, dep := range task.DependsOn {
		if _, ok := g.byAlias[dep]; !ok {
			logger.L().Warn("任务依赖指向图中不存在的别名，执行时将不等待",
				slog.String("task", task.Alias),
				slog.String("dependency", dep),
			)
		}
	}
	g.tasks = append(g.tasks, task)
	g.byAlias[task.Alias] = task
	return task
}

// ByAlias 按别名查找任务。
func (g *Graph) ByAlias(alias string) (*Task, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	task, ok := g.byAlias[alias]
	return task, ok
}

// NextPending 返回按加入顺序第一个未到终态的任务。
func (g *Graph) NextPending() *Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, task := range g.tasks {
		if !task.Terminal() {
			return task
		}
	}
	return nil
}

// Tasks 返回全部任务的快照切片（元素为共享指针）。
func (g *Graph) Tasks() []*Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Task(nil), g.tasks...)
}

// Len 返回图中任务数量。
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tasks)
}

// Memoized 按身份返回已有终态结果的任务。
func (g *Graph) Memoized(key string) (*Task, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	task, ok := g.memo[key]
	return task, ok
}

// Memoize 登记任务的终态结果供同身份任务复用。先到先得。
func (g *Graph) Memoize(key string, task *Task) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.memo[key]; !exists {
		g.memo[key] = task
	}
}
