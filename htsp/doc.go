package htsp

// This package implements the client session engine for the HTSP
// protocol that Antenna uses to query and manage a media server:
// channel lineup, programme guide, recordings and auto-record rules.
//
// One long-lived connection carries two traffic classes
//
// - request/response exchanges initiated by us, correlated by the
//   'seq' tag we put on every request
// - push notifications the server sends whenever an entity changes,
//   carrying a 'method' verb and no 'seq'
//
// The two interleave freely. A push can arrive between our request and
// its reply, so the correlator holds tagless messages aside and
// applies them, in arrival order, before releasing the reply (see
// invoke.go). Everything the pushes describe lands in the Mirror, the
// client-local copy of the server's entity state, built by one bulk
// synchronisation burst and kept current by the incremental deltas.
//
// === Session lifecycle
//
//   ```
//   Disconnected -> Connected -> Authenticated -> Synchronized -> Monitoring
//   ```
//
// Connect performs the capability handshake and learns the server's
// protocol version; every versioned operation checks that version
// before sending anything. Authenticate is optional. The Synchronized
// transition happens implicitly the first time an accessor needs
// mirrored data, or explicitly via EnsureSynchronized.
//
// === Threading
//
// The engine is deliberately single-threaded: one outstanding request
// (a second caller gets ErrBusy), one message decoded at a time, and
// the mirror written only by the session's own receive path. Monitor
// blocks its calling goroutine until the context is cancelled.
