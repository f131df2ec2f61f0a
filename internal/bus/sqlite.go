package bus

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"governor/internal/domain"
)

// SQLite is a durable Bus over the bus_queue table. Publish inserts a row,
// the subscription goroutine polls in insert order, and Ack deletes the
// row. Unacked events survive a restart and are delivered again to the
// next subscriber.
type SQLite struct {
	DB           *sql.DB
	PollInterval time.Duration

	mu        sync.Mutex
	closed    bool
	done      chan struct{}
	delivered chan Delivery
	loopDone  chan struct{}
}

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{
		DB:           db,
		PollInterval: 250 * time.Millisecond,
		done:         make(chan struct{}),
	}
}

func (s *SQLite) Publish(event domain.GovernorEvent) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = s.DB.Exec(`INSERT INTO bus_queue(id,enqueued_at,payload_json) VALUES (?,?,?)`,
		uuid.New().String(), time.Now().UTC().Format(time.RFC3339Nano), string(payload))
	if err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}
	return nil
}

// Subscribe starts the polling loop. Only one subscription per bus.
func (s *SQLite) Subscribe() (<-chan Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.delivered != nil {
		return nil, fmt.Errorf("bus already subscribed")
	}
	s.delivered = make(chan Delivery)
	s.loopDone = make(chan struct{})
	go s.pollLoop()
	return s.delivered, nil
}

func (s *SQLite) pollLoop() {
	defer close(s.loopDone)
	defer close(s.delivered)

	interval := s.PollInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	// Tracks what this subscription already handed out, so an unacked event
	// is not redelivered within the same run.
	var lastSeq int64
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		rows, err := s.DB.Query(`SELECT seq,id,payload_json FROM bus_queue WHERE seq > ? ORDER BY seq ASC LIMIT 100`, lastSeq)
		if err == nil {
			type pending struct {
				seq     int64
				id      string
				payload string
			}
			var batch []pending
			for rows.Next() {
				var p pending
				if err := rows.Scan(&p.seq, &p.id, &p.payload); err != nil {
					break
				}
				batch = append(batch, p)
			}
			rows.Close()
			for _, p := range batch {
				var event domain.GovernorEvent
				if err := json.Unmarshal([]byte(p.payload), &event); err != nil {
					// Poison row: drop it rather than wedging the queue.
					_, _ = s.DB.Exec(`DELETE FROM bus_queue WHERE id=?`, p.id)
					lastSeq = p.seq
					continue
				}
				select {
				case s.delivered <- Delivery{ID: p.id, Event: event}:
					lastSeq = p.seq
				case <-s.done:
					return
				}
			}
		}
		select {
		case <-ticker.C:
		case <-s.done:
			return
		}
	}
}

func (s *SQLite) Ack(id string) error {
	_, err := s.DB.Exec(`DELETE FROM bus_queue WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("ack event: %w", err)
	}
	return nil
}

// Close stops the polling loop and closes the subscription channel. It does
// not return until the loop has exited.
func (s *SQLite) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	loopDone := s.loopDone
	s.mu.Unlock()
	if loopDone != nil {
		<-loopDone
	}
	return nil
}
