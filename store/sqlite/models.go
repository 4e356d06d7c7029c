package sqlite

import (
	"time"

	"github.com/kbukum/devflow/runstate"
	"github.com/kbukum/devflow/scheduler"
)

type runModel struct {
	RunID       string `gorm:"primaryKey;column:run_id"`
	FlowID      string `gorm:"index;not null"`
	Status      string `gorm:"not null"`
	ResumeFrom  string
	Debug       bool
	StartedAt   time.Time `gorm:"index"`
	FinishedAt  *time.Time
	DurationMs  int64
	Checkpoint  string
	Statuses    map[string]runstate.Status `gorm:"serializer:json"`
	Abandoned   []string                   `gorm:"serializer:json"`
	Unscheduled []string                   `gorm:"serializer:json"`
	CreatedAt   time.Time                  `gorm:"autoCreateTime"`
	UpdatedAt   time.Time                  `gorm:"autoUpdateTime"`

	Executions []nodeExecutionModel `gorm:"foreignKey:RunID;references:RunID;constraint:OnDelete:CASCADE"`
}

func (runModel) TableName() string { return "runs" }

type nodeExecutionModel struct {
	ID          uint   `gorm:"primaryKey"`
	RunID       string `gorm:"index;not null"`
	Seq         int
	NodeID      string `gorm:"not null"`
	NodeLabel   string
	NodeType    string
	Status      string
	StartedAt   time.Time
	FinishedAt  *time.Time
	DurationMs  int64
	MaxCPU      float64
	MaxMemoryMB float64
	Attempts    int
	Error       string
}

func (nodeExecutionModel) TableName() string { return "node_executions" }

type checkpointModel struct {
	FlowID    string `gorm:"primaryKey"`
	NodeID    string `gorm:"not null"`
	UpdatedAt time.Time
}

func (checkpointModel) TableName() string { return "checkpoints" }

func toRunModel(rep *scheduler.Report) runModel {
	m := runModel{
		RunID:       rep.RunID,
		FlowID:      rep.FlowID,
		Status:      string(rep.Status),
		ResumeFrom:  rep.ResumeFrom,
		Debug:       rep.Debug,
		StartedAt:   rep.StartedAt,
		FinishedAt:  rep.FinishedAt,
		DurationMs:  rep.DurationMs,
		Checkpoint:  rep.Checkpoint,
		Statuses:    rep.Statuses,
		Abandoned:   rep.Abandoned,
		Unscheduled: rep.Unscheduled,
	}
	for i, rec := range rep.Timeline {
		m.Executions = append(m.Executions, nodeExecutionModel{
			RunID:       rep.RunID,
			Seq:         i,
			NodeID:      rec.NodeID,
			NodeLabel:   rec.NodeLabel,
			NodeType:    rec.NodeType,
			Status:      string(rec.Status),
			StartedAt:   rec.StartedAt,
			FinishedAt:  rec.FinishedAt,
			DurationMs:  rec.DurationMs,
			MaxCPU:      rec.MaxCPU,
			MaxMemoryMB: rec.MaxMemoryMB,
			Attempts:    rec.Attempts,
			Error:       rec.Error,
		})
	}
	return m
}

func (m runModel) report() *scheduler.Report {
	rep := &scheduler.Report{
		RunID:       m.RunID,
		FlowID:      m.FlowID,
		Status:      runstate.RunStatus(m.Status),
		ResumeFrom:  m.ResumeFrom,
		Debug:       m.Debug,
		StartedAt:   m.StartedAt,
		FinishedAt:  m.FinishedAt,
		DurationMs:  m.DurationMs,
		Statuses:    m.Statuses,
		Checkpoint:  m.Checkpoint,
		Abandoned:   m.Abandoned,
		Unscheduled: m.Unscheduled,
		Timeline:    make([]runstate.ExecutionRecord, 0, len(m.Executions)),
	}
	for _, e := range m.Executions {
		rep.Timeline = append(rep.Timeline, runstate.ExecutionRecord{
			NodeID:      e.NodeID,
			NodeLabel:   e.NodeLabel,
			NodeType:    e.NodeType,
			Status:      runstate.Status(e.Status),
			StartedAt:   e.StartedAt,
			FinishedAt:  e.FinishedAt,
			DurationMs:  e.DurationMs,
			MaxCPU:      e.MaxCPU,
			MaxMemoryMB: e.MaxMemoryMB,
			Attempts:    e.Attempts,
			Error:       e.Error,
		})
	}
	return rep
}
