// pkg/queue/queue.go
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// TaskType 定义任务类型
const (
	TaskTypeJobRun = "job:run"
)

// Queue 接口定义
type Queue interface {
	Enqueue(ctx context.Context, task *Task) error
	Close() error
}

// Handler processes one task. Returning an error asks the backend to retry.
type Handler func(ctx context.Context, task *Task) error

// Task 定义任务结构
type Task struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Priority  int               `json:"priority"`
	Payload   map[string]string `json:"payload"`
	CreatedAt time.Time         `json:"createdAt"`
}

// NewJobRunTask builds the task that drives one report job.
func NewJobRunTask(jobID string) *Task {
	return &Task{
		ID:        jobID,
		Type:      TaskTypeJobRun,
		Priority:  2,
		Payload:   map[string]string{"jobId": jobID},
		CreatedAt: time.Now(),
	}
}

// JobID returns the job id carried by a job:run task.
func (t *Task) JobID() string {
	if t.Payload == nil {
		return ""
	}
	return t.Payload["jobId"]
}

// DecodeTask parses a task payload produced by Enqueue.
func DecodeTask(data []byte) (*Task, error) {
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &task, nil
}

// AsynqQueue 实现
type AsynqQueue struct {
	client *asynq.Client
	config *QueueConfig
}

// QueueConfig 定义队列配置
type QueueConfig struct {
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	MaxRetries     int
	ProcessTimeout time.Duration
}

// NewAsynqQueue 创建新的队列实例
func NewAsynqQueue(cfg *QueueConfig) *AsynqQueue {
	if cfg.ProcessTimeout == 0 {
		cfg.ProcessTimeout = 10 * time.Minute
	}
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &AsynqQueue{client: client, config: cfg}
}

// Enqueue 将任务加入队列
func (q *AsynqQueue) Enqueue(ctx context.Context, task *Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	opts := []asynq.Option{
		asynq.MaxRetry(q.config.MaxRetries),
		asynq.Timeout(q.config.ProcessTimeout),
		asynq.TaskID(task.ID),
		asynq.Queue(QueueName(task.Priority)),
	}

	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(task.Type, payload), opts...)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	task.ID = info.ID
	return nil
}

func (q *AsynqQueue) Close() error {
	return q.client.Close()
}

// QueueName 根据优先级选择队列
func QueueName(priority int) string {
	switch priority {
	case 1:
		return "critical"
	case 2:
		return "default"
	default:
		return "low"
	}
}

// Queues is the asynq weight table matching QueueName.
func Queues() map[string]int {
	return map[string]int{
		"critical": 6,
		"default":  3,
		"low":      1,
	}
}
