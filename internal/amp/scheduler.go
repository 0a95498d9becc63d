package amp

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mwhaudio/mwha2mqtt/internal/infrastructure/logging"
)

// defaultWriteQueueSize bounds the pending write channel. Producers
// never block; beyond this the write is dropped with an error.
const defaultWriteQueueSize = 64

// Scheduler serializes all bus traffic through one goroutine.
//
// The loop alternates two phases: drain and execute every queued write
// (coalescing repeated writes to the same zone attribute down to the
// newest), then poll every configured amp in ascending order. A write
// submission wakes the loop immediately; otherwise the poll interval
// paces it. Nothing else may touch the port while the scheduler runs.
//
// Failed exchanges are retried once after a resync. A second failure
// leaves the affected zones stale for the round, keeping their previous
// snapshot, and is logged; bus errors after startup are never fatal.
type Scheduler struct {
	conn  *Conn
	store *Store

	amps         []uint8
	pollInterval time.Duration

	writes chan PendingWrite
	done   chan struct{}

	stopOnce sync.Once
	wg       sync.WaitGroup

	logger *logging.Logger

	onChange    func(Change)
	onConnected func()
	connected   bool

	// stats, updated atomically
	polls          atomic.Uint64
	staleRounds    atomic.Uint64
	writesExecuted atomic.Uint64
	writesDropped  atomic.Uint64
}

// NewScheduler creates a scheduler for the given amps.
//
// Parameters:
//   - conn: Protocol connection; the scheduler becomes its sole user
//   - store: Zone state store; the scheduler becomes its sole mutator
//   - amps: Configured amp IDs (1-3)
//   - pollInterval: Delay between poll rounds
//   - logger: May be nil
func NewScheduler(conn *Conn, store *Store, amps []uint8, pollInterval time.Duration, logger *logging.Logger) *Scheduler {
	return &Scheduler{
		conn:         conn,
		store:        store,
		amps:         amps,
		pollInterval: pollInterval,
		writes:       make(chan PendingWrite, defaultWriteQueueSize),
		done:         make(chan struct{}),
		logger:       logger,
	}
}

// SetOnChange registers the change event callback. Called synchronously
// from the scheduler goroutine; must be set before Start.
func (s *Scheduler) SetOnChange(fn func(Change)) {
	s.onChange = fn
}

// SetOnConnected registers a callback fired once, after the first poll
// round in which every amp answered. Must be set before Start.
func (s *Scheduler) SetOnConnected(fn func()) {
	s.onConnected = fn
}

// Start launches the scheduler goroutine.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop shuts the scheduler down, waiting for any in-flight exchange to
// finish or time out. Writes still queued are dropped and logged.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()

		dropped := 0
		for {
			select {
			case <-s.writes:
				dropped++
			default:
				if dropped > 0 {
					s.writesDropped.Add(uint64(dropped))
					s.logWarn("dropping queued writes at shutdown", "count", dropped)
				}
				return
			}
		}
	})
}

// Submit queues an attribute write for the next scheduler cycle.
// Validation happens here, off the bus: invalid targets and values
// never consume bus time.
//
// Returns:
//   - error: ErrInvalidZone, ErrReadOnlyAttribute, ErrValueOutOfRange,
//     ErrWriteQueueFull, or ErrSchedulerStopped
func (s *Scheduler) Submit(w PendingWrite) error {
	if err := w.Zone.Validate(); err != nil {
		return err
	}
	if w.Attr.ReadOnly() {
		return fmt.Errorf("%w: %s", ErrReadOnlyAttribute, w.Attr)
	}
	if err := w.Attr.ValidateValue(w.Value); err != nil {
		return err
	}

	select {
	case <-s.done:
		return ErrSchedulerStopped
	default:
	}

	select {
	case s.writes <- w:
		return nil
	default:
		s.writesDropped.Add(1)
		return fmt.Errorf("%w: dropping %s %s=%d", ErrWriteQueueFull, w.Zone, w.Attr, w.Value)
	}
}

// Stats returns cumulative counters: poll rounds, rounds with at least
// one stale amp, writes executed, and writes dropped.
func (s *Scheduler) Stats() (polls, staleRounds, writesExecuted, writesDropped uint64) {
	return s.polls.Load(), s.staleRounds.Load(), s.writesExecuted.Load(), s.writesDropped.Load()
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	timer := time.NewTimer(s.pollInterval)
	defer timer.Stop()

	// Seed state before the first interval elapses.
	s.pollRound()

	for {
		var batch []PendingWrite

		select {
		case <-s.done:
			return
		case w := <-s.writes:
			batch = append(batch, w)
			if !timer.Stop() {
				<-timer.C
			}
		case <-timer.C:
		}

		batch = s.drainWrites(batch)
		s.executeWrites(batch)
		s.pollRound()

		timer.Reset(s.pollInterval)
	}
}

// drainWrites empties the queue without blocking.
func (s *Scheduler) drainWrites(batch []PendingWrite) []PendingWrite {
	for {
		select {
		case w := <-s.writes:
			batch = append(batch, w)
		default:
			return batch
		}
	}
}

// coalesceWrites expands virtual targets to physical zones and keeps
// only the newest value per (zone, attribute), preserving first-seen
// order. A volume ramp queued faster than the bus drains collapses to
// its final value.
func (s *Scheduler) coalesceWrites(batch []PendingWrite) []PendingWrite {
	type key struct {
		zone ZoneID
		attr Attribute
	}

	out := make([]PendingWrite, 0, len(batch))
	index := make(map[key]int)

	for _, w := range batch {
		for _, zone := range w.Zone.Expand(s.amps) {
			pw := w
			pw.Zone = zone
			k := key{zone: zone, attr: w.Attr}
			if i, ok := index[k]; ok {
				out[i] = pw
				continue
			}
			index[k] = len(out)
			out = append(out, pw)
		}
	}
	return out
}

// executeWrites sends the batch over the bus. A rejected or failed
// write is logged and skipped; the next poll reconciles whatever state
// the amp actually holds.
func (s *Scheduler) executeWrites(batch []PendingWrite) {
	for _, w := range s.coalesceWrites(batch) {
		cmd, err := EncodeSet(w.Zone, w.Attr, w.Value)
		if err != nil {
			s.logWarn("skipping unencodable write",
				"zone", w.Zone.String(), "attribute", w.Attr.String(),
				"value", w.Value, "error", err.Error())
			continue
		}

		if _, err := s.conn.ExecResync(cmd, 0); err != nil {
			s.logWarn("write failed",
				"zone", w.Zone.String(), "attribute", w.Attr.String(),
				"value", w.Value, "origin", string(w.Origin),
				"error", err.Error())
			continue
		}

		s.writesExecuted.Add(1)
		if change, ok := s.store.ApplyWrite(w.Zone, w.Attr, w.Value, w.Origin); ok {
			s.emit(change)
		}
	}
}

// pollRound queries every configured amp once. One amp-level enquiry
// returns all six zone status lines of that unit.
func (s *Scheduler) pollRound() {
	s.polls.Add(1)
	allAnswered := true

	for _, ampID := range s.amps {
		query := EncodeQuery(ZoneID{Amp: ampID})

		chunks, err := s.conn.ExecResync(query, ZonesPerAmp)
		if err != nil {
			allAnswered = false
			s.logWarn("amp stale for this round",
				"amp", int(ampID), "error", err.Error())
			continue
		}

		for _, chunk := range chunks {
			status, err := DecodeStatus(chunk)
			if err != nil {
				allAnswered = false
				s.logWarn("discarding undecodable status line",
					"amp", int(ampID), "error", err.Error())
				continue
			}
			for _, change := range s.store.ApplyStatus(status) {
				s.emit(change)
			}
		}
	}

	if !allAnswered {
		s.staleRounds.Add(1)
		return
	}
	if !s.connected && s.onConnected != nil {
		s.connected = true
		s.onConnected()
	}
}

func (s *Scheduler) emit(change Change) {
	if s.onChange != nil {
		s.onChange(change)
	}
}

func (s *Scheduler) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
