package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RunRecord is the stored row of a run.
type RunRecord struct {
	ID              string       `gorm:"primaryKey;size:36"`
	Framework       string       `gorm:"size:128;index"`
	StartedAt       time.Time    `gorm:"index"`
	Outcome         string       `gorm:"size:32"`
	TotalCostUSD    float64      `gorm:"not null;default:0"`
	TotalDurationMs int64        `gorm:"not null;default:0"`
	Input           string       `gorm:"type:text"`
	Result          string       `gorm:"type:text"`
	Steps           []StepRecord `gorm:"foreignKey:RunID;references:ID"`
	CreatedAt       time.Time
}

// TableName implements gorm's tabler.
func (RunRecord) TableName() string { return "audit_runs" }

// StepRecord is the stored row of a step.
type StepRecord struct {
	ID           uint   `gorm:"primaryKey"`
	RunID        string `gorm:"size:36;index:idx_audit_steps_run_seq,priority:1"`
	Seq          int    `gorm:"index:idx_audit_steps_run_seq,priority:2"`
	AgentLabel   string `gorm:"size:128"`
	Backend      string `gorm:"size:32"`
	Model        string `gorm:"size:128"`
	PromptDigest string `gorm:"size:64"`
	ReplyDigest  string `gorm:"size:64"`
	Prompt       string `gorm:"type:text"`
	Reply        string `gorm:"type:text"`
	DurationMs   int64
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Timestamp    time.Time
	Attempt      int
	Status       string `gorm:"size:32"`
	Error        string `gorm:"type:text"`
}

// TableName implements gorm's tabler.
func (StepRecord) TableName() string { return "audit_steps" }

// SQLSink stores runs and steps through gorm.
type SQLSink struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLSink migrates the audit tables and returns the sink.
func NewSQLSink(db *gorm.DB, logger *zap.Logger) (*SQLSink, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&RunRecord{}, &StepRecord{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate audit tables: %w", err)
	}
	return &SQLSink{db: db, logger: logger.With(zap.String("component", "audit_sql_sink"))}, nil
}

// Write implements Sink. The run and its steps are stored in one transaction.
func (s *SQLSink) Write(ctx context.Context, log *Log) error {
	run, err := toRunRecord(log)
	if err != nil {
		return err
	}
	steps := run.Steps
	run.Steps = nil

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&run).Error; err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		if len(steps) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(&steps, 100).Error; err != nil {
			return fmt.Errorf("insert steps: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("audit log stored", zap.String("run_id", log.RunID), zap.Int("steps", len(steps)))
	return nil
}

// Load returns a stored run with its steps ordered by sequence.
func (s *SQLSink) Load(ctx context.Context, runID string) (*RunRecord, error) {
	var run RunRecord
	err := s.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		First(&run, "id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	return &run, nil
}

// TotalCostByFramework sums stored run costs per framework.
func (s *SQLSink) TotalCostByFramework(ctx context.Context) (map[string]float64, error) {
	var rows []struct {
		Framework string
		Total     float64
	}
	err := s.db.WithContext(ctx).Model(&RunRecord{}).
		Select("framework, SUM(total_cost_usd) AS total").
		Group("framework").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate cost: %w", err)
	}
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		out[r.Framework] = r.Total
	}
	return out, nil
}

func toRunRecord(log *Log) (RunRecord, error) {
	input, err := json.Marshal(log.Input)
	if err != nil {
		return RunRecord{}, fmt.Errorf("encode input: %w", err)
	}
	result, err := json.Marshal(log.Result)
	if err != nil {
		return RunRecord{}, fmt.Errorf("encode result: %w", err)
	}
	run := RunRecord{
		ID:              log.RunID,
		Framework:       log.Framework,
		StartedAt:       log.Timestamp,
		Outcome:         string(log.Outcome),
		TotalCostUSD:    log.TotalCost,
		TotalDurationMs: log.TotalDurationMs,
		Input:           string(input),
		Result:          string(result),
		Steps:           make([]StepRecord, 0, len(log.Steps)),
	}
	for _, st := range log.Steps {
		run.Steps = append(run.Steps, StepRecord{
			RunID:        log.RunID,
			Seq:          st.Seq,
			AgentLabel:   st.AgentLabel,
			Backend:      string(st.BackendID),
			Model:        st.Model,
			PromptDigest: st.PromptDigest,
			ReplyDigest:  st.ReplyDigest,
			Prompt:       st.Prompt,
			Reply:        st.Reply,
			DurationMs:   st.DurationMs,
			InputTokens:  st.Tokens.Input,
			OutputTokens: st.Tokens.Output,
			CostUSD:      st.CostUSD,
			Timestamp:    st.TimestampUTC,
			Attempt:      st.Attempt,
			Status:       string(st.Status),
			Error:        st.Error,
		})
	}
	return run, nil
}
