package collector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nsqio/go-nsq"

	"github.com/austindbirch/relay_load/internal/record"
)

// publisher is the part of *nsq.Producer the NSQ sink needs
type publisher interface {
	Publish(topic string, body []byte) error
	Stop()
}

// NSQSink mirrors each record onto an NSQ topic so downstream consumers can
// follow a run while it is in progress.
type NSQSink struct {
	producer publisher
	topic    string
	runID    string
}

// MirrorRecord is the NSQ message body: a result record tagged with its run.
type MirrorRecord struct {
	RunID string `json:"run_id"`
	record.Record
}

func NewNSQSink(nsqdAddr, topic, runID string) (*NSQSink, error) {
	p, err := nsq.NewProducer(nsqdAddr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer %s: %w", nsqdAddr, err)
	}
	if err := p.Ping(); err != nil {
		p.Stop()
		return nil, fmt.Errorf("nsq ping %s: %w", nsqdAddr, err)
	}
	p.SetLoggerLevel(nsq.LogLevelWarning)
	return &NSQSink{producer: p, topic: topic, runID: runID}, nil
}

func (s *NSQSink) Name() string { return "nsq:" + s.topic }

func (s *NSQSink) Write(_ context.Context, rec record.Record) error {
	body, err := json.Marshal(MirrorRecord{RunID: s.runID, Record: rec})
	if err != nil {
		return &record.SerializationError{Err: err}
	}
	return s.producer.Publish(s.topic, body)
}

func (s *NSQSink) Close() error {
	s.producer.Stop()
	return nil
}

// execer is satisfied by *pgxpool.Pool
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresSink inserts each record into relayload.submissions, keyed by run.
type PostgresSink struct {
	db    execer
	runID string
}

func NewPostgresSink(db execer, runID string) *PostgresSink {
	return &PostgresSink{db: db, runID: runID}
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) Write(ctx context.Context, rec record.Record) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO relayload.submissions(run_id, job_id, file_name, created)
		VALUES ($1, $2, $3, $4)`,
		s.runID, int64(rec.JobID), rec.FileName, rec.Created)
	return err
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresSink) Close() error { return nil }
