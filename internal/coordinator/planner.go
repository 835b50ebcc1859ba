package coordinator

import (
	"context"
	"time"

	"github.com/dyluth/huddle/internal/config"
)

// PlannedTask is one unit of work produced by a Planner.
type PlannedTask struct {
	Task         any
	Requirements map[string]any
	Deadline     time.Duration // Zero uses the coordinator's default deadline
}

// Planner decomposes a goal into tasks to announce, in order.
type Planner interface {
	DecomposeGoal(ctx context.Context, goal string) ([]PlannedTask, error)
}

// PlannerFunc adapts a function to the Planner interface.
type PlannerFunc func(ctx context.Context, goal string) ([]PlannedTask, error)

// DecomposeGoal calls f(ctx, goal).
func (f PlannerFunc) DecomposeGoal(ctx context.Context, goal string) ([]PlannedTask, error) {
	return f(ctx, goal)
}

// StaticPlanner returns the same fixed task list for every goal.
type StaticPlanner struct {
	tasks []PlannedTask
}

// NewStaticPlanner builds a planner from the goals section of huddle.yml.
func NewStaticPlanner(goals []config.Goal) *StaticPlanner {
	tasks := make([]PlannedTask, 0, len(goals))
	for _, g := range goals {
		tasks = append(tasks, PlannedTask{
			Task:         g.Task,
			Requirements: g.Requirements,
			Deadline:     g.Deadline,
		})
	}
	return &StaticPlanner{tasks: tasks}
}

// DecomposeGoal returns a copy of the configured tasks.
func (p *StaticPlanner) DecomposeGoal(ctx context.Context, _ string) ([]PlannedTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]PlannedTask(nil), p.tasks...), nil
}
