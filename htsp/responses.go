package htsp

import (
	"fmt"
	"time"

	"github.com/luma/antenna/htsmsg"
)

// Hello is the capability handshake reply. Fields added after the
// protocol baseline are behind gated accessors, which fail with a
// ProtocolVersionError instead of silently returning defaults.
type Hello struct {
	// Version is the highest HTSP version the server speaks.
	Version       uint32
	ServerName    string
	ServerVersion string

	capabilities []string
	webroot      string
	challenge    []byte
}

func helloFromMessage(msg htsmsg.Message) (*Hello, error) {
	version, ok := msg.U32("htspversion")
	if !ok {
		return nil, fmt.Errorf("hello reply is missing 'htspversion'")
	}

	challenge, ok := msg.Bin("challenge")
	if !ok {
		return nil, fmt.Errorf("hello reply is missing 'challenge'")
	}

	hello := &Hello{
		Version:   version,
		challenge: challenge,
	}
	hello.ServerName, _ = msg.Str("servername")
	hello.ServerVersion, _ = msg.Str("serverversion")
	hello.webroot, _ = msg.Str("webroot")

	if capabilities, ok := msg.List("servercapability"); ok {
		for _, item := range capabilities {
			if s, ok := item.(string); ok {
				hello.capabilities = append(hello.capabilities, s)
			}
		}
	}

	return hello, nil
}

// Capabilities lists the server capability strings. Requires v6.
func (h *Hello) Capabilities() ([]string, error) {
	if err := h.require(6); err != nil {
		return nil, err
	}
	return append([]string(nil), h.capabilities...), nil
}

// Webroot is the server's HTTP webroot. Requires v8.
func (h *Hello) Webroot() (string, error) {
	if err := h.require(8); err != nil {
		return "", err
	}
	return h.webroot, nil
}

func (h *Hello) require(version uint32) error {
	if h.Version < version {
		return &ProtocolVersionError{Required: version, Negotiated: h.Version}
	}
	return nil
}

// DiskSpace is the recording storage report.
type DiskSpace struct {
	// Bytes free and total on the recording volume
	Free  int64
	Total int64
}

func (d DiskSpace) Used() int64 {
	return d.Total - d.Free
}

func diskSpaceFromMessage(msg htsmsg.Message) DiskSpace {
	var out DiskSpace
	out.Free, _ = msg.S64("freediskspace")
	out.Total, _ = msg.S64("totaldiskspace")
	return out
}

// SystemTime is the server clock report.
type SystemTime struct {
	Time time.Time

	// TimezoneMinutesWest of GMT, as the server reports it
	TimezoneMinutesWest int
}

func systemTimeFromMessage(msg htsmsg.Message) SystemTime {
	var out SystemTime
	if unix, ok := msg.S64("time"); ok {
		out.Time = time.Unix(unix, 0)
	}
	if tz, ok := msg.S64("timezone"); ok {
		out.TimezoneMinutesWest = int(tz)
	}
	return out
}
