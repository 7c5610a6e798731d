package history

import (
	"sync"

	"github.com/1mmey/SecurityChat/internal/interfaces"
	"github.com/1mmey/SecurityChat/internal/logger"
	"github.com/1mmey/SecurityChat/internal/models"
)

// Dispatcher normalizes events from both channels into a single
// per-counterpart history and broadcasts them to subscribers. It is the
// sole writer of history and the sole broadcaster; channel managers never
// touch listener sets directly.
type Dispatcher struct {
	logger *logger.Logger

	histories map[string][]*models.Envelope
	seen      map[string]struct{}

	messageListeners map[interfaces.MessageListener]struct{}
	statusListeners  map[interfaces.StatusListener]struct{}

	mutex sync.RWMutex
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		logger:           log.WithComponent("dispatcher"),
		histories:        make(map[string][]*models.Envelope),
		seen:             make(map[string]struct{}),
		messageListeners: make(map[interfaces.MessageListener]struct{}),
		statusListeners:  make(map[interfaces.StatusListener]struct{}),
	}
}

var _ interfaces.Dispatcher = (*Dispatcher)(nil)

// Append stores an envelope in the counterpart's history and broadcasts it.
// Envelopes whose id was already appended are dropped, so a frame delivered
// over both transports lands in history exactly once.
func (d *Dispatcher) Append(counterpart string, envelope *models.Envelope) {
	d.mutex.Lock()
	if _, dup := d.seen[envelope.ID]; dup {
		d.mutex.Unlock()
		d.logger.Debug("Skipping duplicate envelope", "id", envelope.ID, "counterpart", counterpart)
		return
	}
	d.seen[envelope.ID] = struct{}{}
	d.histories[counterpart] = append(d.histories[counterpart], envelope)
	d.mutex.Unlock()

	d.broadcastMessage(counterpart, envelope)
}

// Publish broadcasts an envelope event without appending.
func (d *Dispatcher) Publish(counterpart string, envelope *models.Envelope) {
	d.broadcastMessage(counterpart, envelope)
}

// MarkDelivered records that a stored envelope was actually sent, e.g. a
// queued message replayed after its connection opened. The stored entry is
// replaced by a delivered copy under the dispatcher's lock; the envelope
// that was appended is never written to, so snapshots handed out by History
// remain safe to read concurrently.
func (d *Dispatcher) MarkDelivered(counterpart, id string) *models.Envelope {
	d.mutex.Lock()
	var updated *models.Envelope
	for i, envelope := range d.histories[counterpart] {
		if envelope.ID == id {
			copied := *envelope
			copied.Status = models.StatusDelivered
			updated = &copied
			d.histories[counterpart][i] = updated
			break
		}
	}
	d.mutex.Unlock()

	if updated == nil {
		d.logger.Debug("MarkDelivered for unknown envelope", "id", id, "counterpart", counterpart)
		return nil
	}
	d.Publish(counterpart, updated)
	return updated
}

// Notice broadcasts a connection or protocol notice. Notices never enter
// history.
func (d *Dispatcher) Notice(notice models.Notice) {
	d.mutex.RLock()
	listeners := make([]interfaces.StatusListener, 0, len(d.statusListeners))
	for listener := range d.statusListeners {
		listeners = append(listeners, listener)
	}
	d.mutex.RUnlock()

	for _, listener := range listeners {
		d.notifyStatus(listener, notice)
	}
}

// History returns a snapshot of the ordered sequence for a counterpart,
// creating an empty one on first use. Snapshots are never written to after
// they are handed out; status updates swap in fresh entries instead.
func (d *Dispatcher) History(counterpart string) []*models.Envelope {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if _, ok := d.histories[counterpart]; !ok {
		d.histories[counterpart] = []*models.Envelope{}
	}
	snapshot := make([]*models.Envelope, len(d.histories[counterpart]))
	copy(snapshot, d.histories[counterpart])
	return snapshot
}

// Clear removes the counterpart's history sequence entirely.
func (d *Dispatcher) Clear(counterpart string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	for _, envelope := range d.histories[counterpart] {
		delete(d.seen, envelope.ID)
	}
	delete(d.histories, counterpart)
	d.logger.Debug("History cleared", "counterpart", counterpart)
}

// Counterparts lists every counterpart with a history sequence.
func (d *Dispatcher) Counterparts() []string {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	counterparts := make([]string, 0, len(d.histories))
	for counterpart := range d.histories {
		counterparts = append(counterparts, counterpart)
	}
	return counterparts
}

// SubscribeMessages registers a listener for envelope events.
func (d *Dispatcher) SubscribeMessages(listener interfaces.MessageListener) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.messageListeners[listener] = struct{}{}
}

// UnsubscribeMessages removes a previously registered listener.
func (d *Dispatcher) UnsubscribeMessages(listener interfaces.MessageListener) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	delete(d.messageListeners, listener)
}

// SubscribeStatus registers a listener for notices.
func (d *Dispatcher) SubscribeStatus(listener interfaces.StatusListener) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.statusListeners[listener] = struct{}{}
}

// UnsubscribeStatus removes a previously registered listener.
func (d *Dispatcher) UnsubscribeStatus(listener interfaces.StatusListener) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	delete(d.statusListeners, listener)
}

func (d *Dispatcher) broadcastMessage(counterpart string, envelope *models.Envelope) {
	d.mutex.RLock()
	listeners := make([]interfaces.MessageListener, 0, len(d.messageListeners))
	for listener := range d.messageListeners {
		listeners = append(listeners, listener)
	}
	d.mutex.RUnlock()

	for _, listener := range listeners {
		d.notifyMessage(listener, counterpart, envelope)
	}
}

// notifyMessage delivers one event to one listener. A panicking listener
// must not prevent delivery to the others or reach the appending channel.
func (d *Dispatcher) notifyMessage(listener interfaces.MessageListener, counterpart string, envelope *models.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Message listener panicked", "panic", r, "counterpart", counterpart)
		}
	}()
	listener.OnMessage(counterpart, envelope)
}

func (d *Dispatcher) notifyStatus(listener interfaces.StatusListener, notice models.Notice) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Status listener panicked", "panic", r, "kind", notice.Kind)
		}
	}()
	listener.OnNotice(notice)
}
