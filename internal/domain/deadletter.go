package domain

import "time"

// DeadLetter 记录重试耗尽的队列任务，供运维排查。
type DeadLetter struct {
	TaskID   string    `bson:"task_id" json:"task_id"`
	Type     string    `bson:"type" json:"type"`
	Queue    string    `bson:"queue" json:"queue"`
	Payload  string    `bson:"payload" json:"payload"`
	Error    string    `bson:"error" json:"error"`
	Retried  int       `bson:"retried" json:"retried"`
	MaxRetry int       `bson:"max_retry" json:"max_retry"`
	FailedAt time.Time `bson:"failed_at" json:"failed_at"`
}
