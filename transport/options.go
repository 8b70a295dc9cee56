package transport

import (
	"time"

	"go.uber.org/zap"
)

type Options struct {
	// Host of the media server
	Host string

	// Port the server listens for HTSP clients on
	Port int

	// DialTimeout bounds how long we wait for the TCP connect.
	// Zero means no bound.
	DialTimeout time.Duration

	// Trace will log every frame sent and received. This is only useful
	// in local debugging
	Trace bool

	Log *zap.Logger
}
