package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// BuildJob asks a worker to (re)build one session's index.
type BuildJob struct {
	SessionID   string    `json:"session_id"`
	RequestedAt time.Time `json:"requested_at"`
}

type BuildPublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewBuildPublisher(conn *amqp.Connection, queueName string) *BuildPublisher {
	return &BuildPublisher{
		conn:      conn,
		queueName: queueName,
	}
}

func (p *BuildPublisher) PublishBuild(ctx context.Context, sessionID string) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	if err := DeclareQueue(ch, p.queueName); err != nil {
		return err
	}

	payload, err := json.Marshal(BuildJob{SessionID: sessionID, RequestedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal build job failed: %w", err)
	}

	if err := ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		},
	); err != nil {
		return fmt.Errorf("publish build job failed: %w", err)
	}
	return nil
}
