package htsp_test

import (
	"context"
	"crypto/sha1"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/antenna/htsmsg"
	"github.com/luma/antenna/htsp"
)

// recorder is a thread-safe log of observed notifications.
type recorder struct {
	mu      sync.Mutex
	methods []string
}

func (r *recorder) observe(method string, entity htsp.Entity) {
	r.mu.Lock()
	r.methods = append(r.methods, method)
	r.mu.Unlock()
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.methods...)
}

var _ = Describe("Session", func() {
	var (
		ctx     context.Context
		conn    *scriptConn
		session *htsp.Session
	)

	BeforeEach(func() {
		ctx = context.Background()
		conn = newScriptConn(17)
		session = htsp.New(htsp.Options{
			Conn:     conn,
			User:     "alice",
			Password: "secret",
		})
	})

	Describe("Connect()", func() {
		It("performs the hello handshake and learns the version", func() {
			hello, err := session.Connect(ctx)
			Expect(err).To(Succeed())
			Expect(hello.Version).To(Equal(uint32(17)))
			Expect(hello.ServerName).To(Equal("fake"))
			Expect(session.Version()).To(Equal(uint32(17)))

			Expect(conn.sentMethods()).To(Equal([]string{"hello"}))
		})

		It("is idempotent once connected", func() {
			_, err := session.Connect(ctx)
			Expect(err).To(Succeed())
			_, err = session.Connect(ctx)
			Expect(err).To(Succeed())

			Expect(conn.sentMethods()).To(Equal([]string{"hello"}))
		})
	})

	Describe("sequencing", func() {
		It("issues sequence tags increasing by 1 per completed exchange", func() {
			_, err := session.Connect(ctx)
			Expect(err).To(Succeed())

			_, err = session.DiskSpace(ctx)
			Expect(err).To(Succeed())

			_, err = session.SystemTime(ctx)
			Expect(err).To(Succeed())

			Expect(conn.sentSeqs()).To(Equal([]int64{1, 2, 3}))
		})

		It("keeps the +1 stride when pushes interleave before the reply", func() {
			conn.stub("getDiskSpace", func(seq int64, msg htsmsg.Message) {
				conn.push(htsmsg.Message{"method": "tagAdd", "tagId": int64(1), "tagName": "News"})
				conn.push(htsmsg.Message{"method": "tagAdd", "tagId": int64(2), "tagName": "Sport"})
				conn.reply(seq, htsmsg.Message{"freediskspace": int64(5), "totaldiskspace": int64(10)})
			})

			_, err := session.Connect(ctx)
			Expect(err).To(Succeed())

			space, err := session.DiskSpace(ctx)
			Expect(err).To(Succeed())
			Expect(space.Used()).To(Equal(int64(5)))

			_, err = session.SystemTime(ctx)
			Expect(err).To(Succeed())

			Expect(conn.sentSeqs()).To(Equal([]int64{1, 2, 3}))
		})

		It("fails with ErrOutOfSequence on a mismatched reply tag and poisons the session", func() {
			conn.stub("getSysTime", func(seq int64, msg htsmsg.Message) {
				conn.reply(seq+5, htsmsg.Message{"time": int64(0)})
			})

			_, err := session.Connect(ctx)
			Expect(err).To(Succeed())

			_, err = session.SystemTime(ctx)
			Expect(errors.Is(err, htsp.ErrOutOfSequence)).To(BeTrue())

			_, err = session.DiskSpace(ctx)
			Expect(errors.Is(err, htsp.ErrSessionBroken)).To(BeTrue())
		})
	})

	Describe("single outstanding request", func() {
		It("fails a second request with ErrBusy without corrupting the counter", func() {
			started := make(chan struct{})
			allow := make(chan struct{})

			conn.stub("getDiskSpace", func(seq int64, msg htsmsg.Message) {
				close(started)
				<-allow
				conn.reply(seq, htsmsg.Message{"freediskspace": int64(1), "totaldiskspace": int64(2)})
			})

			_, err := session.Connect(ctx)
			Expect(err).To(Succeed())

			done := make(chan error, 1)
			go func() {
				_, err := session.DiskSpace(ctx)
				done <- err
			}()

			<-started
			_, err = session.SystemTime(ctx)
			Expect(errors.Is(err, htsp.ErrBusy)).To(BeTrue())

			close(allow)
			Expect(<-done).To(Succeed())

			// The rejected request burnt no tag
			_, err = session.SystemTime(ctx)
			Expect(err).To(Succeed())
			Expect(conn.sentSeqs()).To(Equal([]int64{1, 2, 3}))
		})
	})

	Describe("version gating", func() {
		It("fails fast without sending when the negotiated version is too low", func() {
			conn = newScriptConn(2)
			session = htsp.New(htsp.Options{Conn: conn})

			_, err := session.Connect(ctx)
			Expect(err).To(Succeed())

			_, err = session.DiskSpace(ctx)

			var versionErr *htsp.ProtocolVersionError
			Expect(errors.As(err, &versionErr)).To(BeTrue())
			Expect(versionErr.Required).To(Equal(uint32(3)))
			Expect(versionErr.Negotiated).To(Equal(uint32(2)))

			// No getDiskSpace request ever hit the wire
			Expect(conn.sentMethods()).To(Equal([]string{"hello"}))
		})

		It("gates hello fields behind their versions", func() {
			conn = newScriptConn(5)
			session = htsp.New(htsp.Options{Conn: conn})

			hello, err := session.Connect(ctx)
			Expect(err).To(Succeed())

			_, err = hello.Capabilities()
			var versionErr *htsp.ProtocolVersionError
			Expect(errors.As(err, &versionErr)).To(BeTrue())
			Expect(versionErr.Required).To(Equal(uint32(6)))
		})
	})

	Describe("Authenticate()", func() {
		expectedDigest := func() []byte {
			sum := sha1.Sum(append([]byte("secret"), []byte("0123456789abcdef0123456789abcdef")...))
			return sum[:]
		}

		It("sends the challenge-response digest and carries identity afterwards", func() {
			conn.stub("authenticate", func(seq int64, msg htsmsg.Message) {
				user, _ := msg.Str("username")
				digest, _ := msg.Bin("digest")

				if user == "alice" && string(digest) == string(expectedDigest()) {
					conn.reply(seq, htsmsg.Message{})
				} else {
					conn.reply(seq, htsmsg.Message{"noaccess": int64(1)})
				}
			})

			Expect(session.Authenticate(ctx)).To(Succeed())

			// Every subsequent request carries the identity
			_, err := session.DiskSpace(ctx)
			Expect(err).To(Succeed())

			last := conn.lastSent()
			user, _ := last.Str("username")
			Expect(user).To(Equal("alice"))
			digest, _ := last.Bin("digest")
			Expect(digest).To(Equal(expectedDigest()))
		})

		It("fails with ErrAccessDenied and drops the identity on rejection", func() {
			conn.stub("authenticate", func(seq int64, msg htsmsg.Message) {
				conn.reply(seq, htsmsg.Message{"noaccess": int64(1)})
			})

			err := session.Authenticate(ctx)
			Expect(errors.Is(err, htsp.ErrAccessDenied)).To(BeTrue())

			_, err = session.DiskSpace(ctx)
			Expect(err).To(Succeed())
			Expect(conn.lastSent().Has("username")).To(BeFalse())
		})
	})

	Describe("bulk synchronisation", func() {
		BeforeEach(func() {
			conn.stub("enableAsyncMetadata", func(seq int64, msg htsmsg.Message) {
				conn.reply(seq, htsmsg.Message{})
				conn.push(htsmsg.Message{"method": "tagAdd", "tagId": int64(1), "tagName": "News"})
				conn.push(htsmsg.Message{
					"method":        "channelAdd",
					"channelId":     int64(10),
					"channelNumber": int64(101),
					"channelName":   "BBC",
					"tags":          []interface{}{int64(1)},
				})
				conn.push(htsmsg.Message{"method": "initialSyncCompleted"})
			})
		})

		It("is triggered by the first accessor and mirrors the burst", func() {
			channels, err := session.Channels(ctx)
			Expect(err).To(Succeed())
			Expect(channels).To(HaveLen(1))
			Expect(channels[0].Name).To(Equal("BBC"))
			Expect(channels[0].Number).To(Equal(uint32(101)))
			Expect(channels[0].TagIDs).To(Equal([]uint32{1}))

			// The channel's tag resolves through the mirror
			tag, ok := session.Mirror().Tag(channels[0].TagIDs[0])
			Expect(ok).To(BeTrue())
			Expect(tag.Name).To(Equal("News"))
		})

		It("completes when the server queues the dump ahead of the reply", func() {
			// Tvheadend can enqueue the whole burst, marker included,
			// before the enableAsyncMetadata reply. The correlator then
			// drains it as held traffic and there is nothing left to
			// wait for on the wire.
			conn.stub("enableAsyncMetadata", func(seq int64, msg htsmsg.Message) {
				conn.push(htsmsg.Message{"method": "tagAdd", "tagId": int64(1), "tagName": "News"})
				conn.push(htsmsg.Message{"method": "initialSyncCompleted"})
				conn.reply(seq, htsmsg.Message{})
			})

			bounded, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()

			Expect(session.EnsureSynchronized(bounded)).To(Succeed())

			tag, ok := session.Mirror().Tag(1)
			Expect(ok).To(BeTrue())
			Expect(tag.Name).To(Equal("News"))

			// Still a one-shot
			Expect(session.EnsureSynchronized(bounded)).To(Succeed())
			Expect(conn.sentMethods()).To(Equal([]string{"hello", "enableAsyncMetadata"}))
		})

		It("only synchronises once", func() {
			_, err := session.Channels(ctx)
			Expect(err).To(Succeed())
			_, err = session.Tags(ctx)
			Expect(err).To(Succeed())

			Expect(conn.sentMethods()).To(Equal([]string{"hello", "enableAsyncMetadata"}))
		})
	})

	Describe("AddDvrEntry()", func() {
		It("applies the racing dvrEntryAdd push before the reply is released", func() {
			rec := &recorder{}
			session.Subscribe(rec.observe)

			start := time.Unix(1700000000, 0)
			stop := start.Add(time.Hour)

			conn.stub("addDvrEntry", func(seq int64, msg htsmsg.Message) {
				// The entity push beats the reply onto the wire
				conn.push(htsmsg.Message{
					"method":  "dvrEntryAdd",
					"id":      int64(77),
					"channel": int64(10),
					"start":   start.Unix(),
					"stop":    stop.Unix(),
					"state":   "scheduled",
					"title":   "News at Ten",
				})
				conn.reply(seq, htsmsg.Message{"success": int64(1), "id": int64(77)})
			})

			entry, err := session.AddDvrEntry(ctx, htsp.DvrRequest{
				ChannelID: 10,
				Start:     start,
				Stop:      stop,
				Title:     "News at Ten",
			})
			Expect(err).To(Succeed())

			Expect(entry.ID).To(Equal(uint32(77)))
			Expect(entry.Title).To(Equal("News at Ten"))
			Expect(entry.State).To(Equal(htsp.DvrScheduled))

			cached, ok := session.Mirror().DvrEntry(77)
			Expect(ok).To(BeTrue())
			Expect(cached.Title).To(Equal("News at Ten"))

			// The held push was observed before the call returned
			Expect(rec.seen()).To(ContainElement("dvrEntryAdd"))

			sent := conn.lastSent()
			title, _ := sent.Str("title")
			Expect(title).To(Equal("News at Ten"))
			channelID, _ := sent.S64("channelId")
			Expect(channelID).To(Equal(int64(10)))
		})

		It("surfaces server-reported failure as a RequestError", func() {
			conn.stub("addDvrEntry", func(seq int64, msg htsmsg.Message) {
				conn.reply(seq, htsmsg.Message{"success": int64(0), "error": "invalid channel"})
			})

			_, err := session.AddDvrEntry(ctx, htsp.DvrRequest{ChannelID: 99, Title: "x"})

			var reqErr *htsp.RequestError
			Expect(errors.As(err, &reqErr)).To(BeTrue())
			Expect(reqErr.Reason).To(Equal("invalid channel"))
		})
	})

	Describe("held push ordering", func() {
		It("dispatches held notifications in arrival order before returning", func() {
			rec := &recorder{}
			session.Subscribe(rec.observe)

			conn.stub("getDiskSpace", func(seq int64, msg htsmsg.Message) {
				conn.push(htsmsg.Message{"method": "tagAdd", "tagId": int64(1), "tagName": "First"})
				conn.push(htsmsg.Message{"method": "tagAdd", "tagId": int64(2), "tagName": "Second"})
				conn.push(htsmsg.Message{"method": "tagUpdate", "tagId": int64(1), "tagName": "FirstRenamed"})
				conn.reply(seq, htsmsg.Message{"freediskspace": int64(1), "totaldiskspace": int64(2)})
			})

			_, err := session.Connect(ctx)
			Expect(err).To(Succeed())

			_, err = session.DiskSpace(ctx)
			Expect(err).To(Succeed())

			Expect(rec.seen()).To(Equal([]string{"tagAdd", "tagAdd", "tagUpdate"}))

			tag, ok := session.Mirror().Tag(1)
			Expect(ok).To(BeTrue())
			Expect(tag.Name).To(Equal("FirstRenamed"))
		})
	})

	Describe("Monitor()", func() {
		It("feeds observers until cancelled, then exits cleanly", func() {
			rec := &recorder{}
			Expect(session.EnsureSynchronized(ctx)).To(Succeed())

			monitorCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- session.Monitor(monitorCtx, rec.observe)
			}()

			conn.push(htsmsg.Message{"method": "tagAdd", "tagId": int64(9), "tagName": "Films"})

			Eventually(rec.seen).Should(ContainElement("tagAdd"))

			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})

		It("keeps running when one observer panics", func() {
			rec := &recorder{}
			Expect(session.EnsureSynchronized(ctx)).To(Succeed())
			session.Subscribe(func(method string, entity htsp.Entity) {
				panic("observer bug")
			})

			monitorCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- session.Monitor(monitorCtx, rec.observe)
			}()

			conn.push(htsmsg.Message{"method": "tagAdd", "tagId": int64(1), "tagName": "A"})
			conn.push(htsmsg.Message{"method": "tagAdd", "tagId": int64(2), "tagName": "B"})

			Eventually(rec.seen).Should(HaveLen(2))

			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})

		It("propagates an update for an entity that was never added", func() {
			Expect(session.EnsureSynchronized(ctx)).To(Succeed())

			monitorCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- session.Monitor(monitorCtx, func(string, htsp.Entity) {})
			}()

			conn.push(htsmsg.Message{"method": "dvrEntryUpdate", "id": int64(404), "state": "completed"})

			var err error
			Eventually(done).Should(Receive(&err))

			var lookupErr *htsp.LookupError
			Expect(errors.As(err, &lookupErr)).To(BeTrue())
			Expect(lookupErr.Kind).To(Equal(htsp.KindDvrEntry))
		})
	})
})
