package htsp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/luma/antenna/htsmsg"
	"github.com/luma/antenna/transport"
)

// ProtocolVersion is the highest HTSP version this client speaks.
const ProtocolVersion = 17

const defaultClientName = "antenna"

type Options struct {
	// Host and Port of the media server
	Host string
	Port int

	// ClientName is reported to the server in the hello handshake
	ClientName string

	// User and Password are used by Authenticate. Leaving Password
	// empty authenticates by name only.
	User     string
	Password string

	// EPG mirrors the programme guide during the bulk sync. Off by
	// default as it is by far the largest entity set.
	EPG bool

	DialTimeout time.Duration

	// Trace will log every frame sent and received. This is only useful
	// in local debugging
	Trace bool

	// Conn overrides dialling, mostly for tests
	Conn transport.Conn

	Log *zap.Logger
}

// Session is a client session against one media server.
//
// A session walks Disconnected -> Connected -> (Authenticated) ->
// Synchronized -> Monitoring. Connect and EnsureSynchronized happen
// implicitly when an operation needs them.
//
// The session is a single-threaded cooperative engine: one request in
// flight at a time, one message decoded at a time, and the mirror is
// only ever written by the session's own receive path. Callers wanting
// concurrent commands must serialise them externally.
type Session struct {
	opts Options
	log  *zap.Logger

	conn transport.Conn

	hello *Hello
	creds *credentials

	seq     int64
	pending atomic.Bool
	broken  atomic.Bool

	synced bool

	mirror     *Mirror
	dispatcher *Dispatcher
}

func New(options Options) *Session {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}
	if options.ClientName == "" {
		options.ClientName = defaultClientName
	}

	mirror := NewMirror(log.Named("mirror"))
	if options.EPG {
		mirror.EnableEPG()
	}

	return &Session{
		opts:       options,
		log:        log,
		seq:        1,
		mirror:     mirror,
		dispatcher: NewDispatcher(mirror, log.Named("dispatch")),
	}
}

// Mirror exposes the session's entity cache for read access. The
// single-writer contract applies: do not read while Monitor or another
// session operation is running on a different goroutine.
func (s *Session) Mirror() *Mirror {
	return s.mirror
}

// Subscribe registers an observer for push notifications. See
// Dispatcher.Subscribe.
func (s *Session) Subscribe(fn Observer) (unsubscribe func()) {
	return s.dispatcher.Subscribe(fn)
}

// Connect establishes the transport and performs the hello handshake.
// Calling it on a connected session just returns the negotiated hello.
func (s *Session) Connect(ctx context.Context) (*Hello, error) {
	if s.hello != nil {
		return s.hello, nil
	}

	if s.conn == nil {
		if s.opts.Conn != nil {
			s.conn = s.opts.Conn
		} else {
			conn, err := transport.Dial(ctx, transport.Options{
				Host:        s.opts.Host,
				Port:        s.opts.Port,
				DialTimeout: s.opts.DialTimeout,
				Trace:       s.opts.Trace,
				Log:         s.log.Named("transport"),
			})
			if err != nil {
				return nil, err
			}
			s.conn = conn
		}
	}

	reply, err := s.invoke(ctx, "hello", htsmsg.Message{
		"htspversion": int64(ProtocolVersion),
		"clientname":  s.opts.ClientName,
	})
	if err != nil {
		return nil, err
	}

	hello, err := helloFromMessage(reply)
	if err != nil {
		return nil, err
	}

	s.hello = hello
	s.log.Info("Connected to server",
		zap.String("servername", hello.ServerName),
		zap.String("serverversion", hello.ServerVersion),
		zap.Uint32("htspversion", hello.Version))

	return hello, nil
}

// Close tears the session down. The session cannot be reused after.
func (s *Session) Close() error {
	s.broken.Store(true)

	if s.conn == nil {
		return nil
	}

	conn := s.conn
	s.conn = nil
	return conn.Close()
}

// Version is the negotiated protocol version, 0 before Connect.
func (s *Session) Version() uint32 {
	if s.hello == nil {
		return 0
	}
	return s.hello.Version
}

// Authenticate proves the configured identity to the server. An
// access-denied reply fails with ErrAccessDenied; there is no retry.
func (s *Session) Authenticate(ctx context.Context) error {
	if _, err := s.Connect(ctx); err != nil {
		return err
	}

	creds := &credentials{username: s.opts.User}
	if s.opts.Password != "" {
		creds.digest = digestFor(s.opts.Password, s.hello.challenge)
	}

	// The authenticate request itself already carries the identity
	s.creds = creds

	if _, err := s.invoke(ctx, "authenticate", nil); err != nil {
		s.creds = nil

		var reqErr *RequestError
		if errors.As(err, &reqErr) {
			return fmt.Errorf("%s: %w", reqErr.Reason, ErrAccessDenied)
		}
		return err
	}

	return nil
}

// EnsureSynchronized performs the initial bulk synchronisation if it
// has not happened yet: ask the server to start pushing live metadata,
// then consume the add-notification burst until the completion marker.
// Messages in this phase carry no sequence tags, every one of them is
// dispatched.
func (s *Session) EnsureSynchronized(ctx context.Context) error {
	if s.synced {
		return nil
	}

	if _, err := s.Connect(ctx); err != nil {
		return err
	}

	epg := int64(0)
	if s.opts.EPG {
		epg = 1
	}

	s.log.Info("Starting bulk synchronisation", zap.Bool("epg", s.opts.EPG))

	if _, err := s.invoke(ctx, "enableAsyncMetadata", htsmsg.Message{"epg": epg}); err != nil {
		return err
	}

	// The server may enqueue the whole dump, completion marker
	// included, ahead of the enableAsyncMetadata reply. The correlator
	// then drains it as held push traffic and dispatch has already
	// recorded the marker, leaving nothing on the wire to wait for.
	for !s.synced {
		msg, err := s.conn.Recv(ctx)
		if err != nil {
			s.broken.Store(true)
			return err
		}

		if _, _, err := s.dispatch(msg); err != nil {
			return err
		}
	}

	s.log.Info("Bulk synchronisation complete")
	return nil
}

// dispatch routes one push message, recording the bulk sync marker
// wherever it shows up, including held traffic drained by the
// correlator.
func (s *Session) dispatch(msg htsmsg.Message) (string, Entity, error) {
	method, entity, err := s.dispatcher.Dispatch(msg)
	if method == MethodInitialSyncCompleted {
		s.synced = true
	}
	return method, entity, err
}

// DiskSpace reports the server's recording storage. Requires v3.
func (s *Session) DiskSpace(ctx context.Context) (DiskSpace, error) {
	if _, err := s.Connect(ctx); err != nil {
		return DiskSpace{}, err
	}
	if err := s.requireVersion(3); err != nil {
		return DiskSpace{}, err
	}

	reply, err := s.invoke(ctx, "getDiskSpace", nil)
	if err != nil {
		return DiskSpace{}, err
	}

	return diskSpaceFromMessage(reply), nil
}

// SystemTime reports the server clock and timezone. Requires v3.
func (s *Session) SystemTime(ctx context.Context) (SystemTime, error) {
	if _, err := s.Connect(ctx); err != nil {
		return SystemTime{}, err
	}
	if err := s.requireVersion(3); err != nil {
		return SystemTime{}, err
	}

	reply, err := s.invoke(ctx, "getSysTime", nil)
	if err != nil {
		return SystemTime{}, err
	}

	return systemTimeFromMessage(reply), nil
}

// Tags lists the channel tags defined on the server.
func (s *Session) Tags(ctx context.Context) ([]Tag, error) {
	if err := s.EnsureSynchronized(ctx); err != nil {
		return nil, err
	}
	return s.mirror.Tags(), nil
}

// Channels lists the server's channel lineup.
func (s *Session) Channels(ctx context.Context) ([]Channel, error) {
	if err := s.EnsureSynchronized(ctx); err != nil {
		return nil, err
	}
	return s.mirror.Channels(), nil
}

// Recorded lists finished recordings.
func (s *Session) Recorded(ctx context.Context) ([]DvrEntry, error) {
	if err := s.EnsureSynchronized(ctx); err != nil {
		return nil, err
	}
	return s.mirror.Recordings(DvrCompleted), nil
}

// Scheduled lists upcoming and currently running recordings.
func (s *Session) Scheduled(ctx context.Context) ([]DvrEntry, error) {
	if err := s.EnsureSynchronized(ctx); err != nil {
		return nil, err
	}
	return s.mirror.Recordings(DvrScheduled, DvrRecording), nil
}

// Failed lists recordings that did not happen.
func (s *Session) Failed(ctx context.Context) ([]DvrEntry, error) {
	if err := s.EnsureSynchronized(ctx); err != nil {
		return nil, err
	}
	return s.mirror.Recordings(DvrMissed), nil
}

// AutorecRules lists the auto-record rules.
func (s *Session) AutorecRules(ctx context.Context) ([]AutorecRule, error) {
	if err := s.EnsureSynchronized(ctx); err != nil {
		return nil, err
	}
	return s.mirror.AutorecRules(), nil
}

// Channel resolves one channel, from the mirror when possible and
// otherwise from the server (getChannel requires v14).
func (s *Session) Channel(ctx context.Context, id uint32) (Channel, error) {
	if channel, ok := s.mirror.Channel(id); ok {
		return channel, nil
	}

	if _, err := s.Connect(ctx); err != nil {
		return Channel{}, err
	}
	if err := s.requireVersion(14); err != nil {
		return Channel{}, err
	}

	reply, err := s.invoke(ctx, "getChannel", htsmsg.Message{"channelId": int64(id)})
	if err != nil {
		return Channel{}, err
	}

	entity, err := s.mirror.Apply(KindChannel, OpAdd, reply)
	if err != nil {
		return Channel{}, err
	}

	return *(entity.(*Channel)), nil
}

// Events lists the EPG entries for one channel, from the mirror when
// EPG mirroring is on and otherwise from the server (getEvents
// requires v4).
func (s *Session) Events(ctx context.Context, channelID uint32) ([]Event, error) {
	if err := s.EnsureSynchronized(ctx); err != nil {
		return nil, err
	}

	if s.mirror.EPGEnabled() {
		return s.mirror.EventsForChannel(channelID), nil
	}

	if err := s.requireVersion(4); err != nil {
		return nil, err
	}

	reply, err := s.invoke(ctx, "getEvents", htsmsg.Message{"channelId": int64(channelID)})
	if err != nil {
		return nil, err
	}

	items, _ := reply.List("events")
	events := make([]Event, 0, len(items))
	for _, item := range items {
		msg, ok := item.(htsmsg.Message)
		if !ok {
			continue
		}

		entity, err := s.mirror.Apply(KindEvent, OpAdd, msg)
		if err != nil {
			return nil, err
		}
		events = append(events, *(entity.(*Event)))
	}

	return events, nil
}

// Event resolves one EPG entry, from the mirror when possible and
// otherwise from the server.
func (s *Session) Event(ctx context.Context, id uint32) (Event, error) {
	if event, ok := s.mirror.Event(id); ok {
		return event, nil
	}

	if _, err := s.Connect(ctx); err != nil {
		return Event{}, err
	}

	reply, err := s.invoke(ctx, "getEvent", htsmsg.Message{"eventId": int64(id)})
	if err != nil {
		return Event{}, err
	}

	entity, err := s.mirror.Apply(KindEvent, OpAdd, reply)
	if err != nil {
		return Event{}, err
	}

	return *(entity.(*Event)), nil
}

// DvrRequest describes a recording to schedule: either against an EPG
// event (EventID set) or as a bare timer (ChannelID plus Start/Stop).
type DvrRequest struct {
	EventID uint32

	ChannelID uint32
	Start     time.Time
	Stop      time.Time

	// Title is required for timers; for event recordings it defaults
	// to the event's own title.
	Title string

	// Retention in days, 0 for the server default
	Retention int64
}

// AddDvrEntry schedules a recording and returns the resulting entry as
// the server mirrored it back.
func (s *Session) AddDvrEntry(ctx context.Context, req DvrRequest) (DvrEntry, error) {
	if err := s.EnsureSynchronized(ctx); err != nil {
		return DvrEntry{}, err
	}

	args := htsmsg.Message{
		"retention": req.Retention,
	}

	if req.EventID != 0 {
		args["eventId"] = int64(req.EventID)

		title := req.Title
		if title == "" {
			if event, err := s.Event(ctx, req.EventID); err == nil {
				title = event.Title
			}
		}
		if title != "" {
			args["title"] = title
		}
	} else {
		args["channelId"] = int64(req.ChannelID)
		args["start"] = req.Start.Unix()
		args["stop"] = req.Stop.Unix()
		args["title"] = req.Title
	}

	reply, err := s.invoke(ctx, "addDvrEntry", args)
	if err != nil {
		return DvrEntry{}, err
	}

	id, ok := reply.U32("id")
	if !ok {
		return DvrEntry{}, fmt.Errorf("addDvrEntry reply is missing 'id'")
	}

	// The dvrEntryAdd push precedes the reply (the correlator applies
	// held notifications first), so the entry is already mirrored
	entry, ok := s.mirror.DvrEntry(id)
	if !ok {
		return DvrEntry{}, &LookupError{Kind: KindDvrEntry, ID: u32id(id)}
	}

	return entry, nil
}

// CancelDvrEntry aborts or removes a recording entry.
func (s *Session) CancelDvrEntry(ctx context.Context, id uint32) error {
	if _, err := s.Connect(ctx); err != nil {
		return err
	}

	_, err := s.invoke(ctx, "cancelDvrEntry", htsmsg.Message{"id": int64(id)})
	return err
}

// Monitor subscribes the observer and consumes push traffic until the
// context ends or the transport fails. The calling goroutine is
// dedicated to the loop for its duration; cancellation is cooperative
// and takes effect at the receive call.
func (s *Session) Monitor(ctx context.Context, fn Observer) error {
	if err := s.EnsureSynchronized(ctx); err != nil {
		return err
	}

	unsubscribe := s.dispatcher.Subscribe(fn)
	defer unsubscribe()

	s.log.Info("Monitoring")

	for {
		msg, err := s.conn.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				// The caller asked us to stop; not a failure
				s.log.Info("Monitoring stopped")
				return nil
			}

			s.broken.Store(true)
			return err
		}

		if _, _, err := s.dispatch(msg); err != nil {
			return err
		}
	}
}

// requireVersion fails fast, before any request is sent, when the
// negotiated protocol version is below required.
func (s *Session) requireVersion(required uint32) error {
	if s.hello == nil {
		return ErrNotConnected
	}

	if s.hello.Version < required {
		return &ProtocolVersionError{Required: required, Negotiated: s.hello.Version}
	}

	return nil
}
