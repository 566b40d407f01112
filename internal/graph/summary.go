package graph

import (
	"fmt"
	"strings"
)

const (
	defaultSummaryLineBudget = 240
	defaultSummaryTasks      = 12
)

// Summarizer 把执行完的任务图渲染成面向用户的结果汇总：
// 规划器的收尾文本在前，逐任务的结果报告在后，按图内顺序排列。
type Summarizer struct {
	lineBudget int
	taskBudget int
}

// NewSummarizer 构造汇总器。lineBudget 限制单个结果的展示长度，
// taskBudget 限制报告的任务条数。
func NewSummarizer(lineBudget, taskBudget int) *Summarizer {
	if lineBudget <= 0 {
		lineBudget = defaultSummaryLineBudget
	}
	if taskBudget <= 0 {
		taskBudget = defaultSummaryTasks
	}
	return &Summarizer{lineBudget: lineBudget, taskBudget: taskBudget}
}

// Summarize 渲染汇总文本。closing 是规划器在追加阶段给出的收尾
// 回复，可以为空。
func (s *Summarizer) Summarize(g *Graph, closing string) string {
	var b strings.Builder
	if closing = strings.TrimSpace(closing); closing != "" {
		b.WriteString(closing)
	}

	tasks := g.Tasks()
	if len(tasks) == 0 {
		return b.String()
	}
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}

	shown := 0
	for _, task := range tasks {
		if shown >= s.taskBudget {
			b.WriteString(fmt.Sprintf("…… 以及另外 %d 项任务\n", len(tasks)-shown))
			break
		}
		b.WriteString(s.renderTask(task))
		b.WriteString("\n")
		shown++
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Summarizer) renderTask(task *Task) string {
	switch task.Status {
	case StatusSucceeded:
		line := fmt.Sprintf("%s: %s", task.Alias, s.clip(renderPayload(task.Payload)))
		if task.ServedBy != "" && task.ServedBy != task.Name {
			line += fmt.Sprintf("（由备选 %s 提供）", task.ServedBy)
		}
		if task.Memoized {
			line += "（复用前序结果）"
		}
		return line
	case StatusFailed:
		return fmt.Sprintf("%s: 执行失败（%s）", task.Alias, s.clip(task.Failure.Error()))
	default:
		return fmt.Sprintf("%s: 未执行", task.Alias)
	}
}

// clip 把超长文本截到展示预算内，保留截断前的长度信息。
func (s *Summarizer) clip(text string) string {
	runes := []rune(text)
	if len(runes) <= s.lineBudget {
		return text
	}
	return fmt.Sprintf("%s… [truncated from %d chars]", string(runes[:s.lineBudget]), len(runes))
}
