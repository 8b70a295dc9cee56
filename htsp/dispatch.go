package htsp

import (
	"go.uber.org/zap"

	"github.com/luma/antenna/htsmsg"
)

// MethodInitialSyncCompleted is the distinguished push verb that marks
// the end of the bulk synchronisation burst.
const MethodInitialSyncCompleted = "initialSyncCompleted"

// route ties one push verb to the cache mutation it drives.
type route struct {
	kind Kind
	op   Op
}

// pushRoutes is the closed table of push verbs we understand. Verbs
// outside the table are logged and dropped so newer servers cannot
// kill the session by introducing notifications we have never heard of.
var pushRoutes = map[string]route{
	"tagAdd":             {KindTag, OpAdd},
	"tagUpdate":          {KindTag, OpUpdate},
	"channelAdd":         {KindChannel, OpAdd},
	"channelUpdate":      {KindChannel, OpUpdate},
	"eventAdd":           {KindEvent, OpAdd},
	"eventDelete":        {KindEvent, OpDelete},
	"dvrEntryAdd":        {KindDvrEntry, OpAdd},
	"dvrEntryUpdate":     {KindDvrEntry, OpUpdate},
	"dvrEntryDelete":     {KindDvrEntry, OpDelete},
	"autorecEntryAdd":    {KindAutorec, OpAdd},
	"autorecEntryUpdate": {KindAutorec, OpUpdate},
}

// Observer receives every dispatched push notification. The entity is
// the post-mutation state (the removed entity for deletes, nil for
// verbs that carry no entity, such as the sync completion marker).
type Observer func(method string, entity Entity)

// Dispatcher routes push messages into the entity mirror and fans the
// result out to registered observers.
//
// Like the mirror it belongs to the session's receive path and is not
// safe for concurrent use. Subscribe and unsubscribe are safe to call
// from within an observer callback.
type Dispatcher struct {
	mirror *Mirror
	log    *zap.Logger

	nextID    int
	observers []observerEntry
}

type observerEntry struct {
	id int
	fn Observer
}

func NewDispatcher(mirror *Mirror, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}

	return &Dispatcher{
		mirror: mirror,
		log:    log,
	}
}

// Subscribe registers an observer and returns the func that removes it
// again. Observers are notified in registration order.
func (d *Dispatcher) Subscribe(fn Observer) (unsubscribe func()) {
	d.nextID++
	id := d.nextID

	d.observers = append(d.observers, observerEntry{id: id, fn: fn})

	return func() {
		for i, entry := range d.observers {
			if entry.id == id {
				d.observers = append(d.observers[:i], d.observers[i+1:]...)
				return
			}
		}
	}
}

// Dispatch applies one push message to the mirror and notifies the
// observers. It returns the verb and the resulting entity.
func (d *Dispatcher) Dispatch(msg htsmsg.Message) (string, Entity, error) {
	method, ok := msg.Str("method")
	if !ok {
		// Push traffic always carries a verb; anything else is noise
		d.log.Debug("Dropping pushed message without a method")
		return "", nil, nil
	}

	if method == MethodInitialSyncCompleted {
		d.notify(method, nil)
		return method, nil, nil
	}

	route, ok := pushRoutes[method]
	if !ok {
		d.log.Debug("Dropping unrecognised push verb", zap.String("method", method))
		return method, nil, nil
	}

	entity, err := d.mirror.Apply(route.kind, route.op, msg)
	if err != nil {
		return method, nil, err
	}

	d.notify(method, entity)
	return method, entity, nil
}

func (d *Dispatcher) notify(method string, entity Entity) {
	// Iterate over a snapshot so observers can subscribe or remove
	// themselves mid-notification
	snapshot := append([]observerEntry(nil), d.observers...)

	for _, entry := range snapshot {
		d.notifyOne(entry, method, entity)
	}
}

// notifyOne isolates observer panics: one faulty observer must not
// take down the whole monitoring session.
func (d *Dispatcher) notifyOne(entry observerEntry, method string, entity Entity) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Observer panicked",
				zap.Int("observer", entry.id),
				zap.String("method", method),
				zap.Any("panic", r))
		}
	}()

	entry.fn(method, entity)
}
