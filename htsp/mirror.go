package htsp

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/luma/antenna/htsmsg"
)

// Op is the cache mutation a push verb drives.
type Op int

const (
	OpAdd Op = iota
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// Mirror is the client-local cache of server entities, kept consistent
// by the bulk sync plus incremental push notifications.
//
// It has exactly one writer, the session's receive path, so it carries
// no locks. Accessors hand out copies; merge replaces slices wholesale
// instead of mutating them, so a copy never changes under the caller.
type Mirror struct {
	tags     map[uint32]*Tag
	channels map[uint32]*Channel
	dvr      map[uint32]*DvrEntry
	autorecs map[string]*AutorecRule

	// events is nil until EPG mirroring is requested. eventAdd still
	// constructs entities for the caller, they just are not retained.
	events map[uint32]*Event

	log *zap.Logger
}

func NewMirror(log *zap.Logger) *Mirror {
	if log == nil {
		log = zap.NewNop()
	}

	return &Mirror{
		tags:     make(map[uint32]*Tag),
		channels: make(map[uint32]*Channel),
		dvr:      make(map[uint32]*DvrEntry),
		autorecs: make(map[string]*AutorecRule),
		log:      log,
	}
}

// EnableEPG turns on retention of EPG events. Must be called before
// the bulk sync that should populate them.
func (m *Mirror) EnableEPG() {
	if m.events == nil {
		m.events = make(map[uint32]*Event)
	}
}

func (m *Mirror) EPGEnabled() bool {
	return m.events != nil
}

// Apply routes one entity mutation into the cache and returns the
// resulting entity (for deletes, the removed entity). A delete for an
// unknown id returns nil without error; an update for an unknown id
// fails with a LookupError.
func (m *Mirror) Apply(kind Kind, op Op, msg htsmsg.Message) (Entity, error) {
	switch kind {
	case KindTag:
		return m.applyTag(op, msg)
	case KindChannel:
		return m.applyChannel(op, msg)
	case KindEvent:
		return m.applyEvent(op, msg)
	case KindDvrEntry:
		return m.applyDvrEntry(op, msg)
	case KindAutorec:
		return m.applyAutorec(op, msg)
	}

	return nil, fmt.Errorf("No cache for entity kind '%s'", kind)
}

func (m *Mirror) applyTag(op Op, msg htsmsg.Message) (Entity, error) {
	switch op {
	case OpAdd:
		tag, err := tagFromMessage(msg)
		if err != nil {
			return nil, err
		}
		if _, stale := m.tags[tag.ID]; stale {
			m.log.Warn("Add overwrote a live entity", zap.String("kind", string(KindTag)), zap.Uint32("id", tag.ID))
		}
		m.tags[tag.ID] = tag
		return tag.clone(), nil

	case OpUpdate:
		id, ok := msg.U32("tagId")
		if !ok {
			return nil, fmt.Errorf("tagUpdate: %w", ErrMissingID)
		}
		tag, ok := m.tags[id]
		if !ok {
			return nil, &LookupError{Kind: KindTag, ID: u32id(id)}
		}
		tag.merge(msg)
		return tag.clone(), nil

	case OpDelete:
		id, ok := msg.U32("tagId")
		if !ok {
			return nil, fmt.Errorf("tagDelete: %w", ErrMissingID)
		}
		tag, ok := m.tags[id]
		if !ok {
			m.logMissingDelete(KindTag, u32id(id))
			return nil, nil
		}
		delete(m.tags, id)
		return tag.clone(), nil
	}

	return nil, nil
}

func (m *Mirror) applyChannel(op Op, msg htsmsg.Message) (Entity, error) {
	switch op {
	case OpAdd:
		channel, err := channelFromMessage(msg)
		if err != nil {
			return nil, err
		}
		if _, stale := m.channels[channel.ID]; stale {
			m.log.Warn("Add overwrote a live entity", zap.String("kind", string(KindChannel)), zap.Uint32("id", channel.ID))
		}
		m.channels[channel.ID] = channel
		return channel.clone(), nil

	case OpUpdate:
		id, ok := msg.U32("channelId")
		if !ok {
			return nil, fmt.Errorf("channelUpdate: %w", ErrMissingID)
		}
		channel, ok := m.channels[id]
		if !ok {
			return nil, &LookupError{Kind: KindChannel, ID: u32id(id)}
		}
		channel.merge(msg)
		return channel.clone(), nil

	case OpDelete:
		id, ok := msg.U32("channelId")
		if !ok {
			return nil, fmt.Errorf("channelDelete: %w", ErrMissingID)
		}
		channel, ok := m.channels[id]
		if !ok {
			m.logMissingDelete(KindChannel, u32id(id))
			return nil, nil
		}
		delete(m.channels, id)
		return channel.clone(), nil
	}

	return nil, nil
}

func (m *Mirror) applyEvent(op Op, msg htsmsg.Message) (Entity, error) {
	switch op {
	case OpAdd:
		event, err := eventFromMessage(msg)
		if err != nil {
			return nil, err
		}
		if m.events != nil {
			if _, stale := m.events[event.ID]; stale {
				m.log.Warn("Add overwrote a live entity", zap.String("kind", string(KindEvent)), zap.Uint32("id", event.ID))
			}
			m.events[event.ID] = event
		}
		return event.clone(), nil

	case OpUpdate:
		id, ok := msg.U32("eventId")
		if !ok {
			return nil, fmt.Errorf("eventUpdate: %w", ErrMissingID)
		}
		if m.events == nil {
			return nil, &LookupError{Kind: KindEvent, ID: u32id(id)}
		}
		event, ok := m.events[id]
		if !ok {
			return nil, &LookupError{Kind: KindEvent, ID: u32id(id)}
		}
		event.merge(msg)
		return event.clone(), nil

	case OpDelete:
		id, ok := msg.U32("eventId")
		if !ok {
			return nil, fmt.Errorf("eventDelete: %w", ErrMissingID)
		}
		if m.events == nil {
			m.log.Debug("eventDelete received but EPG mirroring is off")
			return nil, nil
		}
		event, ok := m.events[id]
		if !ok {
			m.logMissingDelete(KindEvent, u32id(id))
			return nil, nil
		}
		delete(m.events, id)
		return event.clone(), nil
	}

	return nil, nil
}

func (m *Mirror) applyDvrEntry(op Op, msg htsmsg.Message) (Entity, error) {
	switch op {
	case OpAdd:
		entry, err := dvrEntryFromMessage(msg)
		if err != nil {
			return nil, err
		}
		if _, stale := m.dvr[entry.ID]; stale {
			m.log.Warn("Add overwrote a live entity", zap.String("kind", string(KindDvrEntry)), zap.Uint32("id", entry.ID))
		}
		m.dvr[entry.ID] = entry
		return entry.clone(), nil

	case OpUpdate:
		id, ok := msg.U32("id")
		if !ok {
			return nil, fmt.Errorf("dvrEntryUpdate: %w", ErrMissingID)
		}
		entry, ok := m.dvr[id]
		if !ok {
			return nil, &LookupError{Kind: KindDvrEntry, ID: u32id(id)}
		}
		entry.merge(msg)
		return entry.clone(), nil

	case OpDelete:
		id, ok := msg.U32("id")
		if !ok {
			return nil, fmt.Errorf("dvrEntryDelete: %w", ErrMissingID)
		}
		entry, ok := m.dvr[id]
		if !ok {
			m.logMissingDelete(KindDvrEntry, u32id(id))
			return nil, nil
		}
		delete(m.dvr, id)
		return entry.clone(), nil
	}

	return nil, nil
}

func (m *Mirror) applyAutorec(op Op, msg htsmsg.Message) (Entity, error) {
	switch op {
	case OpAdd:
		rule, err := autorecFromMessage(msg)
		if err != nil {
			return nil, err
		}
		if _, stale := m.autorecs[rule.ID]; stale {
			m.log.Warn("Add overwrote a live entity", zap.String("kind", string(KindAutorec)), zap.String("id", rule.ID))
		}
		m.autorecs[rule.ID] = rule
		return rule.clone(), nil

	case OpUpdate:
		id, ok := msg.Str("id")
		if !ok || id == "" {
			return nil, fmt.Errorf("autorecEntryUpdate: %w", ErrMissingID)
		}
		rule, ok := m.autorecs[id]
		if !ok {
			return nil, &LookupError{Kind: KindAutorec, ID: id}
		}
		rule.merge(msg)
		return rule.clone(), nil

	case OpDelete:
		id, ok := msg.Str("id")
		if !ok || id == "" {
			return nil, fmt.Errorf("autorecEntryDelete: %w", ErrMissingID)
		}
		rule, ok := m.autorecs[id]
		if !ok {
			m.logMissingDelete(KindAutorec, id)
			return nil, nil
		}
		delete(m.autorecs, id)
		return rule.clone(), nil
	}

	return nil, nil
}

// Tags returns every mirrored tag, ordered by id.
func (m *Mirror) Tags() []Tag {
	out := make([]Tag, 0, len(m.tags))
	for _, tag := range m.tags {
		out = append(out, *tag.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Mirror) Tag(id uint32) (Tag, bool) {
	tag, ok := m.tags[id]
	if !ok {
		return Tag{}, false
	}
	return *tag.clone(), true
}

// Channels returns every mirrored channel, ordered by id.
func (m *Mirror) Channels() []Channel {
	out := make([]Channel, 0, len(m.channels))
	for _, channel := range m.channels {
		out = append(out, *channel.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Mirror) Channel(id uint32) (Channel, bool) {
	channel, ok := m.channels[id]
	if !ok {
		return Channel{}, false
	}
	return *channel.clone(), true
}

func (m *Mirror) Event(id uint32) (Event, bool) {
	if m.events == nil {
		return Event{}, false
	}
	event, ok := m.events[id]
	if !ok {
		return Event{}, false
	}
	return *event.clone(), true
}

// EventsForChannel returns the mirrored EPG entries for one channel,
// ordered by start time.
func (m *Mirror) EventsForChannel(channelID uint32) []Event {
	out := make([]Event, 0)
	for _, event := range m.events {
		if event.ChannelID == channelID {
			out = append(out, *event.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func (m *Mirror) DvrEntry(id uint32) (DvrEntry, bool) {
	entry, ok := m.dvr[id]
	if !ok {
		return DvrEntry{}, false
	}
	return *entry.clone(), true
}

// Recordings returns the mirrored recording entries whose state is one
// of the given states, ordered by start time. No states means all.
func (m *Mirror) Recordings(states ...DvrState) []DvrEntry {
	out := make([]DvrEntry, 0)
	for _, entry := range m.dvr {
		if len(states) == 0 || stateIn(entry.State, states) {
			out = append(out, *entry.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// AutorecRules returns every mirrored auto-record rule, ordered by id.
func (m *Mirror) AutorecRules() []AutorecRule {
	out := make([]AutorecRule, 0, len(m.autorecs))
	for _, rule := range m.autorecs {
		out = append(out, *rule.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Mirror) AutorecRule(id string) (AutorecRule, bool) {
	rule, ok := m.autorecs[id]
	if !ok {
		return AutorecRule{}, false
	}
	return *rule.clone(), true
}

// Counts reports how many entities of each kind are mirrored.
func (m *Mirror) Counts() map[Kind]int {
	return map[Kind]int{
		KindTag:      len(m.tags),
		KindChannel:  len(m.channels),
		KindEvent:    len(m.events),
		KindDvrEntry: len(m.dvr),
		KindAutorec:  len(m.autorecs),
	}
}

func (m *Mirror) logMissingDelete(kind Kind, id string) {
	// Deletes can legitimately race a bulk sync, so absence is logged
	// rather than propagated
	m.log.Debug("Delete for an entity that is not mirrored",
		zap.String("kind", string(kind)),
		zap.String("id", id))
}

func stateIn(state DvrState, states []DvrState) bool {
	for _, s := range states {
		if state == s {
			return true
		}
	}
	return false
}

func u32id(id uint32) string {
	return fmt.Sprintf("%d", id)
}
