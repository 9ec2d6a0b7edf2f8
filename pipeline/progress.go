package pipeline

import (
	"encoding/json"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"

	"videorag/core"
)

// ProgressSink receives processing state updates as the pipeline
// moves through its stages.
type ProgressSink interface {
	Publish(state core.ProcessingState)
}

// MultiSink fans one update out to several sinks.
type MultiSink []ProgressSink

func (m MultiSink) Publish(state core.ProcessingState) {
	for _, s := range m {
		s.Publish(state)
	}
}

// LogSink writes progress to the process log.
type LogSink struct{}

func (LogSink) Publish(state core.ProcessingState) {
	log.Printf("Video %s: %s (%.0f%%) %s", state.VideoID, state.Status, state.Progress*100, state.Message)
}

// AMQPSink publishes progress events to a durable RabbitMQ queue so
// other services can follow ingestion without polling.
type AMQPSink struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewAMQPSink(url string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	q, err := ch.QueueDeclare(
		"video_status_events",
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &AMQPSink{conn: conn, ch: ch, queue: q.Name}, nil
}

func (s *AMQPSink) Publish(state core.ProcessingState) {
	body, err := json.Marshal(state)
	if err != nil {
		return
	}
	err = s.ch.Publish("", s.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		log.Printf("Warning: failed to publish status event for %s: %v", state.VideoID, err)
	}
}

func (s *AMQPSink) Close() error {
	s.ch.Close()
	return s.conn.Close()
}
