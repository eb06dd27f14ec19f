// Package kafkatransport implements transport.Transport over a single
// Kafka topic shared by every rank, grounded on the reader/writer
// conventions from scalytics-KafClaw's internal/group/kafka_consumer.go
// and internal/kshark/kshark.go. Each rank runs its own consumer group so
// every rank sees every message — the topic behaves as a broadcast
// medium, the same role sqltransport gives a shared SQLite file, just
// over real brokers for a genuinely distributed deployment.
package kafkatransport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mabmrun/mabm/pkg/mabmerr"
)

const rootRank = 0

const (
	kindGather    = "gather"
	kindBroadcast = "broadcast"
	kindReduce    = "reduce"
)

// row is the wire format for every message on the collective topic.
type row struct {
	Kind    string  `json:"kind"`
	Round   int     `json:"round"`
	Rank    int     `json:"rank"`
	Payload string  `json:"payload,omitempty"`
	Value   float64 `json:"value,omitempty"`
}

// roundCounter hands out round numbers in call order, same discipline as
// chantransport's generation counters and sqltransport's roundCounter:
// every rank calls each collective the same number of times in the same
// order, so round numbers line up across ranks without coordination.
type roundCounter struct{ next int }

func (c *roundCounter) advance() int {
	r := c.next
	c.next++
	return r
}

// Transport implements transport.Transport over one Kafka topic.
type Transport struct {
	rank      int
	worldSize int
	topic     string

	writer *kafka.Writer
	reader *kafka.Reader

	readCtx    context.Context
	readCancel context.CancelFunc

	mu           sync.Mutex
	cond         *sync.Cond
	gatherBuf    map[int]map[int]string
	broadcastBuf map[int]string
	reduceBuf    map[int]map[int]float64
	readErr      error

	gatherRound    roundCounter
	broadcastRound roundCounter
	reduceRound    roundCounter
}

// Open connects to brokers and starts consuming runID's collective topic
// as rank within a worldSize-peer collective. Every rank uses its own
// consumer group (derived from runID and rank) so each one independently
// replays every message from the beginning of the topic.
func Open(brokers []string, runID string, rank, worldSize int) (*Transport, error) {
	topic := fmt.Sprintf("mabm-%s-collective", runID)
	groupID := fmt.Sprintf("mabm-%s-rank-%d", runID, rank)

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		rank:         rank,
		worldSize:    worldSize,
		topic:        topic,
		writer:       writer,
		reader:       reader,
		readCtx:      ctx,
		readCancel:   cancel,
		gatherBuf:    make(map[int]map[int]string),
		broadcastBuf: make(map[int]string),
		reduceBuf:    make(map[int]map[int]float64),
	}
	t.cond = sync.NewCond(&t.mu)
	go t.consume()
	return t, nil
}

// Close stops the background consumer and releases the Kafka reader and
// writer.
func (t *Transport) Close() error {
	t.readCancel()
	writeErr := t.writer.Close()
	readErr := t.reader.Close()
	if writeErr != nil {
		return writeErr
	}
	return readErr
}

// Rank returns this process's rank.
func (t *Transport) Rank() int { return t.rank }

// WorldSize returns the number of peers in the collective.
func (t *Transport) WorldSize() int { return t.worldSize }

// consume runs for the life of the Transport, dispatching every message
// on the topic into the buffer its Kind names and waking blocked callers.
func (t *Transport) consume() {
	for {
		msg, err := t.reader.ReadMessage(t.readCtx)
		if err != nil {
			if t.readCtx.Err() != nil {
				return
			}
			t.mu.Lock()
			t.readErr = fmt.Errorf("kafkatransport: read message: %w: %w", err, mabmerr.ErrTransport)
			t.cond.Broadcast()
			t.mu.Unlock()
			continue
		}
		var r row
		if err := json.Unmarshal(msg.Value, &r); err != nil {
			t.mu.Lock()
			t.readErr = fmt.Errorf("kafkatransport: decode message: %w", err)
			t.cond.Broadcast()
			t.mu.Unlock()
			continue
		}

		t.mu.Lock()
		switch r.Kind {
		case kindGather:
			if t.gatherBuf[r.Round] == nil {
				t.gatherBuf[r.Round] = make(map[int]string)
			}
			t.gatherBuf[r.Round][r.Rank] = r.Payload
		case kindBroadcast:
			t.broadcastBuf[r.Round] = r.Payload
		case kindReduce:
			if t.reduceBuf[r.Round] == nil {
				t.reduceBuf[r.Round] = make(map[int]float64)
			}
			t.reduceBuf[r.Round][r.Rank] = r.Value
		}
		t.cond.Broadcast()
		t.mu.Unlock()
	}
}

func (t *Transport) publish(r row) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("kafkatransport: marshal row: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := t.writer.WriteMessages(ctx, kafka.Message{Value: payload}); err != nil {
		return fmt.Errorf("kafkatransport: write message: %w: %w", err, mabmerr.ErrTransport)
	}
	return nil
}

// GatherToRoot implements transport.Transport.
func (t *Transport) GatherToRoot(value any) ([]any, error) {
	round := t.gatherRound.advance()
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("kafkatransport: marshal gather payload: %w", err)
	}
	if err := t.publish(row{Kind: kindGather, Round: round, Rank: t.rank, Payload: string(payload)}); err != nil {
		return nil, err
	}

	t.mu.Lock()
	for len(t.gatherBuf[round]) < t.worldSize && t.readErr == nil {
		t.cond.Wait()
	}
	if t.readErr != nil {
		err := t.readErr
		t.mu.Unlock()
		return nil, err
	}
	raw := make(map[int]string, t.worldSize)
	for rank, payload := range t.gatherBuf[round] {
		raw[rank] = payload
	}
	t.mu.Unlock()

	if t.rank != rootRank {
		return nil, nil
	}
	result := make([]any, t.worldSize)
	for rank, r := range raw {
		var v any
		if err := json.Unmarshal([]byte(r), &v); err != nil {
			return nil, fmt.Errorf("kafkatransport: decode gather payload from rank %d: %w", rank, err)
		}
		result[rank] = v
	}
	return result, nil
}

// BroadcastFromRoot implements transport.Transport.
func (t *Transport) BroadcastFromRoot(value any) (any, error) {
	round := t.broadcastRound.advance()
	if t.rank == rootRank {
		payload, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("kafkatransport: marshal broadcast payload: %w", err)
		}
		if err := t.publish(row{Kind: kindBroadcast, Round: round, Rank: t.rank, Payload: string(payload)}); err != nil {
			return nil, err
		}
	}

	t.mu.Lock()
	for {
		if payload, ok := t.broadcastBuf[round]; ok {
			t.mu.Unlock()
			var v any
			if err := json.Unmarshal([]byte(payload), &v); err != nil {
				return nil, fmt.Errorf("kafkatransport: decode broadcast payload: %w", err)
			}
			return v, nil
		}
		if t.readErr != nil {
			err := t.readErr
			t.mu.Unlock()
			return nil, err
		}
		t.cond.Wait()
	}
}

// ReduceMinToRoot implements transport.Transport.
func (t *Transport) ReduceMinToRoot(value float64) (float64, error) {
	round := t.reduceRound.advance()
	if err := t.publish(row{Kind: kindReduce, Round: round, Rank: t.rank, Value: value}); err != nil {
		return 0, err
	}

	t.mu.Lock()
	for len(t.reduceBuf[round]) < t.worldSize && t.readErr == nil {
		t.cond.Wait()
	}
	if t.readErr != nil {
		err := t.readErr
		t.mu.Unlock()
		return 0, err
	}
	values := make([]float64, 0, t.worldSize)
	for _, v := range t.reduceBuf[round] {
		values = append(values, v)
	}
	t.mu.Unlock()

	if len(values) == 0 {
		return 0, fmt.Errorf("kafkatransport: reduce round %d has no rows: %w", round, mabmerr.ErrTransport)
	}
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min, nil
}
