package htsp

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/luma/antenna/htsmsg"
)

// Kind names one entity namespace mirrored from the server.
type Kind string

const (
	KindTag      Kind = "tag"
	KindChannel  Kind = "channel"
	KindEvent    Kind = "event"
	KindDvrEntry Kind = "dvrEntry"
	KindAutorec  Kind = "autorec"
)

// Entity is any record mirrored from the server.
type Entity interface {
	EntityKind() Kind
	EntityID() string
}

var (
	ErrMissingID = fmt.Errorf("Message is missing its entity identifier")
)

// Merge semantics, shared by every kind: a field overwrites the mirror
// only when the incoming message carries it with a non-empty value.
// This matches the server's convention of omitting unchanged fields
// and never sending empty strings or empty lists to mean "clear".
// The one documented exception is a channel's current/next event id,
// where an explicit 0 means "no event" and does clear (see Channel).

// Tag is a named grouping of channels.
type Tag struct {
	ID      uint32
	Name    string
	Members []uint32
}

func (t *Tag) EntityKind() Kind { return KindTag }
func (t *Tag) EntityID() string { return strconv.FormatUint(uint64(t.ID), 10) }

func tagFromMessage(msg htsmsg.Message) (*Tag, error) {
	id, ok := msg.U32("tagId")
	if !ok {
		return nil, fmt.Errorf("tagAdd: %w", ErrMissingID)
	}

	tag := &Tag{ID: id}
	tag.merge(msg)
	return tag, nil
}

func (t *Tag) merge(msg htsmsg.Message) {
	if name, ok := msg.Str("tagName"); ok && name != "" {
		t.Name = name
	}
	if members, ok := msg.List("members"); ok && len(members) > 0 {
		t.Members = u32sFromList(members)
	}
}

func (t *Tag) clone() *Tag {
	out := *t
	out.Members = append([]uint32(nil), t.Members...)
	return &out
}

// Service is one broadcast service carried by a channel.
type Service struct {
	Name string
	Type string
}

// Network, Mux and Resource are derived by splitting the service name
// on "/" (e.g. "Gloucestershire/530/BBC TWO"). This is a heuristic,
// not a protocol guarantee, so each reports ok=false when the name
// does not have the expected three part shape.

func (s Service) Network() (string, bool) {
	parts := strings.Split(s.Name, "/")
	if len(parts) < 3 {
		return "", false
	}
	return parts[0], true
}

func (s Service) Mux() (string, bool) {
	parts := strings.Split(s.Name, "/")
	if len(parts) < 3 {
		return "", false
	}
	return parts[1], true
}

func (s Service) Resource() (string, bool) {
	parts := strings.Split(s.Name, "/")
	if len(parts) < 3 {
		return "", false
	}
	return parts[0] + "/" + parts[1], true
}

// Channel is one entry in the server's channel lineup.
type Channel struct {
	ID          uint32
	Number      uint32
	MinorNumber uint32
	Name        string
	TagIDs      []uint32

	// EventID and NextEventID reference the current and next EPG
	// events. 0 means no event.
	EventID     uint32
	NextEventID uint32

	Services []Service
}

func (c *Channel) EntityKind() Kind { return KindChannel }
func (c *Channel) EntityID() string { return strconv.FormatUint(uint64(c.ID), 10) }

func channelFromMessage(msg htsmsg.Message) (*Channel, error) {
	id, ok := msg.U32("channelId")
	if !ok {
		return nil, fmt.Errorf("channelAdd: %w", ErrMissingID)
	}

	channel := &Channel{ID: id}
	channel.merge(msg)
	return channel, nil
}

func (c *Channel) merge(msg htsmsg.Message) {
	if number, ok := msg.U32("channelNumber"); ok && number != 0 {
		c.Number = number
	}
	if minor, ok := msg.U32("channelNumberMinor"); ok && minor != 0 {
		c.MinorNumber = minor
	}
	if name, ok := msg.Str("channelName"); ok && name != "" {
		c.Name = name
	}
	if tags, ok := msg.List("tags"); ok && len(tags) > 0 {
		c.TagIDs = u32sFromList(tags)
	}

	// An explicit 0 clears the current/next event, it is how the server
	// says a programme ended with nothing to follow
	if eventID, ok := msg.U32("eventId"); ok {
		c.EventID = eventID
	}
	if nextID, ok := msg.U32("nextEventId"); ok {
		c.NextEventID = nextID
	}

	if services, ok := msg.List("services"); ok && len(services) > 0 {
		c.Services = servicesFromList(services)
	}
}

func (c *Channel) clone() *Channel {
	out := *c
	out.TagIDs = append([]uint32(nil), c.TagIDs...)
	out.Services = append([]Service(nil), c.Services...)
	return &out
}

// Event is one EPG entry.
type Event struct {
	ID        uint32
	ChannelID uint32
	Start     time.Time
	Stop      time.Time

	Title       string
	Summary     string
	Description string

	SeriesLinkID  uint32
	EpisodeID     uint32
	SeasonID      uint32
	BrandID       uint32
	EpisodeURI    string
	SeriesLinkURI string

	// DvrID references the recording scheduled for this event, 0 when
	// there is none.
	DvrID uint32
}

func (e *Event) EntityKind() Kind { return KindEvent }
func (e *Event) EntityID() string { return strconv.FormatUint(uint64(e.ID), 10) }

func (e *Event) Duration() time.Duration {
	return e.Stop.Sub(e.Start)
}

func eventFromMessage(msg htsmsg.Message) (*Event, error) {
	id, ok := msg.U32("eventId")
	if !ok {
		return nil, fmt.Errorf("eventAdd: %w", ErrMissingID)
	}

	event := &Event{ID: id}
	event.merge(msg)
	return event, nil
}

func (e *Event) merge(msg htsmsg.Message) {
	if channelID, ok := msg.U32("channelId"); ok && channelID != 0 {
		e.ChannelID = channelID
	}
	if start, ok := msg.S64("start"); ok && start != 0 {
		e.Start = time.Unix(start, 0)
	}
	if stop, ok := msg.S64("stop"); ok && stop != 0 {
		e.Stop = time.Unix(stop, 0)
	}
	if title, ok := msg.Str("title"); ok && title != "" {
		e.Title = title
	}
	if summary, ok := msg.Str("summary"); ok && summary != "" {
		e.Summary = summary
	}
	if description, ok := msg.Str("description"); ok && description != "" {
		e.Description = description
	}
	if v, ok := msg.U32("serieslinkId"); ok && v != 0 {
		e.SeriesLinkID = v
	}
	if v, ok := msg.U32("episodeId"); ok && v != 0 {
		e.EpisodeID = v
	}
	if v, ok := msg.U32("seasonId"); ok && v != 0 {
		e.SeasonID = v
	}
	if v, ok := msg.U32("brandId"); ok && v != 0 {
		e.BrandID = v
	}
	if uri, ok := msg.Str("episodeUri"); ok && uri != "" {
		e.EpisodeURI = uri
	}
	if uri, ok := msg.Str("serieslinkUri"); ok && uri != "" {
		e.SeriesLinkURI = uri
	}
	if v, ok := msg.U32("dvrId"); ok && v != 0 {
		e.DvrID = v
	}
}

func (e *Event) clone() *Event {
	out := *e
	return &out
}

// DvrState is the lifecycle state of a recording entry.
type DvrState string

const (
	DvrScheduled DvrState = "scheduled"
	DvrRecording DvrState = "recording"
	DvrCompleted DvrState = "completed"
	DvrMissed    DvrState = "missed"
	DvrInvalid   DvrState = "invalid"
)

// DvrEntry is one scheduled, running or finished recording.
type DvrEntry struct {
	ID        uint32
	ChannelID uint32
	Start     time.Time
	Stop      time.Time

	// Pre and post padding in minutes
	StartExtra int64
	StopExtra  int64

	// Retention in days
	Retention int64
	Priority  uint32

	// EventID links the EPG event being recorded, 0 for bare timers.
	// Title/Summary/Description are only authoritative when there is no
	// linked event.
	EventID     uint32
	Title       string
	Summary     string
	Description string

	State DvrState

	// Error carries the server's free-text diagnostics for failed
	// entries
	Error string
}

func (d *DvrEntry) EntityKind() Kind { return KindDvrEntry }
func (d *DvrEntry) EntityID() string { return strconv.FormatUint(uint64(d.ID), 10) }

func (d *DvrEntry) Duration() time.Duration {
	return d.Stop.Sub(d.Start)
}

func dvrEntryFromMessage(msg htsmsg.Message) (*DvrEntry, error) {
	id, ok := msg.U32("id")
	if !ok {
		return nil, fmt.Errorf("dvrEntryAdd: %w", ErrMissingID)
	}

	entry := &DvrEntry{ID: id}
	entry.merge(msg)
	return entry, nil
}

func (d *DvrEntry) merge(msg htsmsg.Message) {
	if channelID, ok := msg.U32("channel"); ok && channelID != 0 {
		d.ChannelID = channelID
	}
	if start, ok := msg.S64("start"); ok && start != 0 {
		d.Start = time.Unix(start, 0)
	}
	if stop, ok := msg.S64("stop"); ok && stop != 0 {
		d.Stop = time.Unix(stop, 0)
	}
	if extra, ok := msg.S64("startExtra"); ok && extra != 0 {
		d.StartExtra = extra
	}
	if extra, ok := msg.S64("stopExtra"); ok && extra != 0 {
		d.StopExtra = extra
	}
	if retention, ok := msg.S64("retention"); ok && retention != 0 {
		d.Retention = retention
	}
	if priority, ok := msg.U32("priority"); ok && priority != 0 {
		d.Priority = priority
	}
	if eventID, ok := msg.U32("eventId"); ok && eventID != 0 {
		d.EventID = eventID
	}
	if title, ok := msg.Str("title"); ok && title != "" {
		d.Title = title
	}
	if summary, ok := msg.Str("summary"); ok && summary != "" {
		d.Summary = summary
	}
	if description, ok := msg.Str("description"); ok && description != "" {
		d.Description = description
	}
	if state, ok := msg.Str("state"); ok && state != "" {
		d.State = DvrState(state)
	}
	if errText, ok := msg.Str("error"); ok && errText != "" {
		d.Error = errText
	}
}

func (d *DvrEntry) clone() *DvrEntry {
	out := *d
	return &out
}

// AutorecRule is an auto-record rule. Unlike every other entity its
// server-assigned id is textual.
type AutorecRule struct {
	ID        string
	Enabled   bool
	Title     string
	ChannelID uint32
	Priority  uint32
	Retention int64
}

func (a *AutorecRule) EntityKind() Kind { return KindAutorec }
func (a *AutorecRule) EntityID() string { return a.ID }

func autorecFromMessage(msg htsmsg.Message) (*AutorecRule, error) {
	id, ok := msg.Str("id")
	if !ok || id == "" {
		return nil, fmt.Errorf("autorecEntryAdd: %w", ErrMissingID)
	}

	rule := &AutorecRule{ID: id}
	rule.merge(msg)
	return rule, nil
}

func (a *AutorecRule) merge(msg htsmsg.Message) {
	// Enabled genuinely toggles through 0, so presence alone wins here
	if enabled, ok := msg.U32("enabled"); ok {
		a.Enabled = enabled != 0
	}
	if title, ok := msg.Str("title"); ok && title != "" {
		a.Title = title
	}
	if channelID, ok := msg.U32("channel"); ok && channelID != 0 {
		a.ChannelID = channelID
	}
	if priority, ok := msg.U32("priority"); ok && priority != 0 {
		a.Priority = priority
	}
	if retention, ok := msg.S64("retention"); ok && retention != 0 {
		a.Retention = retention
	}
}

func (a *AutorecRule) clone() *AutorecRule {
	out := *a
	return &out
}

func u32sFromList(items []interface{}) []uint32 {
	out := make([]uint32, 0, len(items))
	for _, item := range items {
		if v, ok := item.(int64); ok && v >= 0 && v <= 0xffffffff {
			out = append(out, uint32(v))
		}
	}
	return out
}

func servicesFromList(items []interface{}) []Service {
	out := make([]Service, 0, len(items))
	for _, item := range items {
		msg, ok := item.(htsmsg.Message)
		if !ok {
			continue
		}

		var service Service
		service.Name, _ = msg.Str("name")
		service.Type, _ = msg.Str("type")
		out = append(out, service)
	}
	return out
}
