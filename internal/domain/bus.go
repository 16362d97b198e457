package domain

import (
	"context"
	"time"
)

// EventBus moves jobs and their results between processes. Every message
// is addressed to a tenant channel; jobs use GlobalTenantID and carry the
// real tenant in their payload.
type EventBus interface {
	Publish(ctx context.Context, tenantID, topic string, payload []byte) error

	// Subscribe delivers every message on the tenant's topic to handler.
	Subscribe(ctx context.Context, tenantID, topic string, handler MessageHandler) (Subscription, error)

	// QueueSubscribe is Subscribe where each message reaches one member of
	// the named group.
	QueueSubscribe(ctx context.Context, tenantID, topic, group string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler consumes one message. A returned error is logged; the
// message is not redelivered.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope around a JSON payload.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"` // unix nanoseconds
}

// Subscription is a live handler registration.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects the bus.
type EventBusConfig struct {
	// Type is "channel" (in process) or "nats".
	Type string `yaml:"type" json:"type"`

	// ChannelBufferSize is each in-process subscriber's queue length.
	ChannelBufferSize int `yaml:"channel_buffer_size" json:"channelBufferSize"`

	NATSUrl           string `yaml:"nats_url" json:"natsUrl"`
	NATSToken         string `yaml:"nats_token" json:"-"`
	NATSMaxReconnects int    `yaml:"nats_max_reconnects" json:"natsMaxReconnects"`
	NATSReconnectWait int    `yaml:"nats_reconnect_wait" json:"natsReconnectWait"` // seconds
}

// GlobalTenantID is the bus channel every job is published on. It is never
// a valid tenant.
const GlobalTenantID = "_global"

// Standard topic names for the forecasting pipeline.
const (
	TopicTrainRequested    = "kestrel.model.train"
	TopicForecastRequested = "kestrel.forecast.request"
	TopicModelTrained      = "kestrel.model.trained"
	TopicForecastCompleted = "kestrel.forecast.completed"
	TopicRiskAlert         = "kestrel.forecast.alert"
)

// TrainJob asks a worker to retrain a tenant's delay model.
type TrainJob struct {
	TenantID string `json:"tenantId"`
	BranchID string `json:"branchId,omitempty"`
	Force    bool   `json:"force"`
}

// ForecastJob asks a worker to run and persist one forecast.
type ForecastJob struct {
	TenantID    string `json:"tenantId"`
	BranchID    string `json:"branchId,omitempty"`
	Scenario    string `json:"scenario"`
	HorizonDays int    `json:"horizonDays"`
}

// ForecastEvent is published after a forecast has been stored.
type ForecastEvent struct {
	TenantID     string      `json:"tenantId"`
	BranchID     string      `json:"branchId,omitempty"`
	Scenario     string      `json:"scenario"`
	HorizonDays  int         `json:"horizonDays"`
	FinalBalance float64     `json:"finalBalance"`
	MinBalance   float64     `json:"minBalance"`
	CriticalDays []time.Time `json:"criticalDays,omitempty"`
}
