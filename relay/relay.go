// Package relay decodes power meter frames arriving over MQTT and republishes
// the fixed-interval records.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	powerrec "github.com/lucasjlepore/power-recorder"
	"github.com/lucasjlepore/power-recorder/pipeline"
	"github.com/rs/zerolog"
)

// ErrStopped is returned by Handle once the relay is shutting down.
var ErrStopped = errors.New("relay stopped")

// Config controls topics, buffering and the decoder.
type Config struct {
	RecordTopic string
	// AuxTopic receives TE/PS and balance events; empty disables them.
	AuxTopic  string
	Decoder   powerrec.Config
	MeterHint powerrec.PageType
	// Start is the wall-clock time of rx_time 0; zero means when the relay was built.
	Start      time.Time
	BufferSize int
	// BatchSize is how many records are stored per insert.
	BatchSize int
	// KeepFrames retains every decoded frame for Frames.
	KeepFrames bool
}

// Stats counts relay activity.
type Stats struct {
	Frames        int64
	Rejected      int64
	Records       int64
	PublishErrors int64
	StoreErrors   int64
}

// Relay owns one decoder session. Handle may be called from any goroutine;
// Run must run on exactly one.
type Relay struct {
	cfg       Config
	publisher Publisher
	store     RecordStore
	logger    zerolog.Logger
	sessionID string

	session *powerrec.Session
	in      chan []byte
	done    chan struct{}
	stop    sync.Once

	// gate orders Stop against Handle so Run can wait out in-flight sends.
	gate     sync.Mutex
	stopped  bool
	inflight sync.WaitGroup

	seq     int64
	batch   []RecordPayload
	pending []powerrec.Record
	aux     powerrec.AuxBuffer

	mu     sync.Mutex
	stats  Stats
	frames []pipeline.Frame
}

// New builds a relay around publisher; store may be nil.
func New(cfg Config, publisher Publisher, store RecordStore, logger zerolog.Logger) (*Relay, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if cfg.RecordTopic == "" {
		return nil, fmt.Errorf("record topic is required")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 60
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Now().UTC()
	}

	r := &Relay{
		cfg:       cfg,
		publisher: publisher,
		store:     store,
		sessionID: uuid.NewString(),
		in:        make(chan []byte, cfg.BufferSize),
		done:      make(chan struct{}),
	}
	r.logger = logger.With().Str("session_id", r.sessionID).Logger()

	sink := powerrec.RecordSinkFunc(func(rec powerrec.Record) {
		r.pending = append(r.pending, rec)
	})
	session, err := powerrec.NewSession(cfg.Decoder, sink, powerrec.WithLogger(r.logger), powerrec.WithAuxSink(&r.aux))
	if err != nil {
		return nil, err
	}
	if cfg.MeterHint != powerrec.MeterUnknown && cfg.MeterHint != 0 {
		session.SetMeterTypeHint(cfg.MeterHint)
	}
	r.session = session
	return r, nil
}

// SessionID identifies this relay's records.
func (r *Relay) SessionID() string { return r.sessionID }

// Handle queues one raw frame message, blocking while the buffer is full.
// A nil return means Run will decode the message.
func (r *Relay) Handle(payload []byte) error {
	r.gate.Lock()
	if r.stopped {
		r.gate.Unlock()
		return ErrStopped
	}
	r.inflight.Add(1)
	r.gate.Unlock()
	defer r.inflight.Done()

	select {
	case r.in <- payload:
		return nil
	case <-r.done:
		return ErrStopped
	}
}

// Stop makes Run drain the queued messages and return.
func (r *Relay) Stop() {
	r.gate.Lock()
	r.stopped = true
	r.gate.Unlock()
	r.stop.Do(func() { close(r.done) })
}

// Run decodes queued messages until Stop is called or ctx is cancelled,
// then flushes buffered records to the store.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info().Str("topic", r.cfg.RecordTopic).Msg("relay running")
	for {
		select {
		case msg := <-r.in:
			r.process(ctx, msg)
		case <-r.done:
			ctx = context.WithoutCancel(ctx)
			r.drain(ctx)
			return r.flush(ctx)
		case <-ctx.Done():
			r.Stop()
			ctx = context.WithoutCancel(ctx)
			r.drain(ctx)
			return r.flush(ctx)
		}
	}
}

// drain processes queued messages until every Handle that got past Stop has
// delivered, then empties the queue.
func (r *Relay) drain(ctx context.Context) {
	idle := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(idle)
	}()
	for {
		select {
		case msg := <-r.in:
			r.process(ctx, msg)
		case <-idle:
			for {
				select {
				case msg := <-r.in:
					r.process(ctx, msg)
				default:
					return
				}
			}
		}
	}
}

func (r *Relay) process(ctx context.Context, msg []byte) {
	rx, payload, err := ParseFrameMessage(msg)
	if err != nil {
		r.count(func(s *Stats) { s.Rejected++ })
		r.logger.Warn().Err(err).Msg("dropping frame message")
		return
	}
	r.session.DecodeFrame(rx, payload)
	r.count(func(s *Stats) { s.Frames++ })
	if r.cfg.KeepFrames {
		r.mu.Lock()
		r.frames = append(r.frames, pipeline.Frame{RxTime: rx, Payload: payload})
		r.mu.Unlock()
	}

	for _, rec := range r.pending {
		r.publishRecord(ctx, rec)
	}
	r.pending = r.pending[:0]
	r.publishAux()
}

func (r *Relay) publishRecord(ctx context.Context, rec powerrec.Record) {
	row := newRecordPayload(r.sessionID, r.seq, r.cfg.Start, rec)
	r.seq++
	r.count(func(s *Stats) { s.Records++ })

	data, err := json.Marshal(row)
	if err == nil {
		err = r.publisher.Publish(r.cfg.RecordTopic, data)
	}
	if err != nil {
		r.count(func(s *Stats) { s.PublishErrors++ })
		r.logger.Error().Err(err).Int64("sequence", row.Sequence).Msg("publish record failed")
	}

	if r.store == nil {
		return
	}
	r.batch = append(r.batch, row)
	if len(r.batch) >= r.cfg.BatchSize {
		if err := r.flush(ctx); err != nil {
			r.logger.Error().Err(err).Msg("store records failed")
		}
	}
}

func (r *Relay) publishAux() {
	if r.cfg.AuxTopic == "" {
		r.aux = powerrec.AuxBuffer{}
		return
	}
	var msgs []AuxPayload
	for i := range r.aux.TorqueEffectiveness {
		msgs = append(msgs, AuxPayload{SessionID: r.sessionID, Kind: "te_ps", TorqueEffectiveness: &r.aux.TorqueEffectiveness[i]})
	}
	for i := range r.aux.PowerBalance {
		msgs = append(msgs, AuxPayload{SessionID: r.sessionID, Kind: "balance", PowerBalance: &r.aux.PowerBalance[i]})
	}
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err == nil {
			err = r.publisher.Publish(r.cfg.AuxTopic, data)
		}
		if err != nil {
			r.count(func(s *Stats) { s.PublishErrors++ })
			r.logger.Error().Err(err).Str("kind", m.Kind).Msg("publish aux event failed")
		}
	}
	r.aux = powerrec.AuxBuffer{}
}

func (r *Relay) flush(ctx context.Context) error {
	if r.store == nil || len(r.batch) == 0 {
		return nil
	}
	if err := r.store.InsertRecords(ctx, r.batch); err != nil {
		r.count(func(s *Stats) { s.StoreErrors++ })
		// Rows stay batched for the next flush.
		return fmt.Errorf("insert %d records: %w", len(r.batch), err)
	}
	r.batch = nil
	return nil
}

func (r *Relay) count(f func(*Stats)) {
	r.mu.Lock()
	f(&r.stats)
	r.mu.Unlock()
}

// Stats returns a snapshot of the counters.
func (r *Relay) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Frames returns the decoded frames when KeepFrames is set.
func (r *Relay) Frames() []pipeline.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pipeline.Frame(nil), r.frames...)
}
