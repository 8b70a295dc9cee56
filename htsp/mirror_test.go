package htsp_test

import (
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/antenna/htsmsg"
	"github.com/luma/antenna/htsp"
)

var _ = Describe("Mirror", func() {
	var mirror *htsp.Mirror

	BeforeEach(func() {
		mirror = htsp.NewMirror(nil)
	})

	Describe("partial updates", func() {
		It("never alters fields absent from the update payload", func() {
			_, err := mirror.Apply(htsp.KindDvrEntry, htsp.OpAdd, htsmsg.Message{
				"id":        int64(1),
				"title":     "A",
				"retention": int64(5),
				"state":     "scheduled",
			})
			Expect(err).To(Succeed())

			_, err = mirror.Apply(htsp.KindDvrEntry, htsp.OpUpdate, htsmsg.Message{
				"id":    int64(1),
				"title": "X",
			})
			Expect(err).To(Succeed())

			entry, ok := mirror.DvrEntry(1)
			Expect(ok).To(BeTrue())
			Expect(entry.Title).To(Equal("X"))
			Expect(entry.Retention).To(Equal(int64(5)))
			Expect(entry.State).To(Equal(htsp.DvrScheduled))
		})

		It("clears a channel's current event on an explicit zero", func() {
			_, err := mirror.Apply(htsp.KindChannel, htsp.OpAdd, htsmsg.Message{
				"channelId":   int64(10),
				"channelName": "BBC",
				"eventId":     int64(500),
			})
			Expect(err).To(Succeed())

			_, err = mirror.Apply(htsp.KindChannel, htsp.OpUpdate, htsmsg.Message{
				"channelId": int64(10),
				"eventId":   int64(0),
			})
			Expect(err).To(Succeed())

			channel, _ := mirror.Channel(10)
			Expect(channel.EventID).To(BeZero())
			Expect(channel.Name).To(Equal("BBC"))
		})
	})

	Describe("entity lifecycle", func() {
		It("leaves no dangling fields when an id is deleted and reused", func() {
			_, err := mirror.Apply(htsp.KindDvrEntry, htsp.OpAdd, htsmsg.Message{
				"id":          int64(1),
				"title":       "Old",
				"description": "stale text",
				"state":       "completed",
			})
			Expect(err).To(Succeed())

			removed, err := mirror.Apply(htsp.KindDvrEntry, htsp.OpDelete, htsmsg.Message{"id": int64(1)})
			Expect(err).To(Succeed())
			Expect(removed.(*htsp.DvrEntry).Title).To(Equal("Old"))

			_, err = mirror.Apply(htsp.KindDvrEntry, htsp.OpAdd, htsmsg.Message{
				"id":    int64(1),
				"title": "New",
				"state": "scheduled",
			})
			Expect(err).To(Succeed())

			entry, _ := mirror.DvrEntry(1)
			Expect(entry.Title).To(Equal("New"))
			Expect(entry.Description).To(BeEmpty())
		})

		It("propagates a LookupError for an update without a prior add", func() {
			_, err := mirror.Apply(htsp.KindTag, htsp.OpUpdate, htsmsg.Message{
				"tagId":   int64(404),
				"tagName": "ghost",
			})

			var lookupErr *htsp.LookupError
			Expect(errors.As(err, &lookupErr)).To(BeTrue())
			Expect(lookupErr.Kind).To(Equal(htsp.KindTag))
		})

		It("tolerates a delete without a prior add", func() {
			removed, err := mirror.Apply(htsp.KindDvrEntry, htsp.OpDelete, htsmsg.Message{"id": int64(404)})
			Expect(err).To(Succeed())
			Expect(removed).To(BeNil())
		})

		It("overwrites a stale record when an add reuses a live id", func() {
			_, err := mirror.Apply(htsp.KindTag, htsp.OpAdd, htsmsg.Message{"tagId": int64(1), "tagName": "Old"})
			Expect(err).To(Succeed())
			_, err = mirror.Apply(htsp.KindTag, htsp.OpAdd, htsmsg.Message{"tagId": int64(1), "tagName": "New"})
			Expect(err).To(Succeed())

			Expect(mirror.Tags()).To(HaveLen(1))
			tag, _ := mirror.Tag(1)
			Expect(tag.Name).To(Equal("New"))
		})
	})

	Describe("Recordings()", func() {
		BeforeEach(func() {
			add := func(id int64, state string, start int64) {
				_, err := mirror.Apply(htsp.KindDvrEntry, htsp.OpAdd, htsmsg.Message{
					"id":    id,
					"state": state,
					"start": start,
				})
				Expect(err).To(Succeed())
			}

			add(1, "completed", 300)
			add(2, "scheduled", 100)
			add(3, "recording", 200)
			add(4, "missed", 400)
		})

		It("filters by lifecycle state", func() {
			completed := mirror.Recordings(htsp.DvrCompleted)
			Expect(completed).To(HaveLen(1))
			Expect(completed[0].ID).To(Equal(uint32(1)))

			upcoming := mirror.Recordings(htsp.DvrScheduled, htsp.DvrRecording)
			Expect(upcoming).To(HaveLen(2))
		})

		It("orders by start time", func() {
			all := mirror.Recordings()
			ids := []uint32{all[0].ID, all[1].ID, all[2].ID, all[3].ID}
			Expect(ids).To(Equal([]uint32{2, 3, 1, 4}))
		})
	})

	Describe("EPG events", func() {
		It("retains nothing unless EPG mirroring is enabled", func() {
			_, err := mirror.Apply(htsp.KindEvent, htsp.OpAdd, htsmsg.Message{
				"eventId":   int64(5),
				"channelId": int64(10),
				"title":     "News",
			})
			Expect(err).To(Succeed())

			_, ok := mirror.Event(5)
			Expect(ok).To(BeFalse())
		})

		It("retains and indexes events per channel when enabled", func() {
			mirror.EnableEPG()

			for _, event := range []htsmsg.Message{
				{"eventId": int64(5), "channelId": int64(10), "start": int64(200), "title": "Later"},
				{"eventId": int64(6), "channelId": int64(10), "start": int64(100), "title": "Now"},
				{"eventId": int64(7), "channelId": int64(11), "start": int64(150), "title": "Elsewhere"},
			} {
				_, err := mirror.Apply(htsp.KindEvent, htsp.OpAdd, event)
				Expect(err).To(Succeed())
			}

			events := mirror.EventsForChannel(10)
			Expect(events).To(HaveLen(2))
			Expect(events[0].Title).To(Equal("Now"))
			Expect(events[1].Title).To(Equal("Later"))
		})
	})

	Describe("snapshots", func() {
		It("hands out copies that later mutations do not touch", func() {
			_, err := mirror.Apply(htsp.KindTag, htsp.OpAdd, htsmsg.Message{
				"tagId":   int64(1),
				"tagName": "Before",
				"members": []interface{}{int64(10)},
			})
			Expect(err).To(Succeed())

			snapshot, _ := mirror.Tag(1)

			_, err = mirror.Apply(htsp.KindTag, htsp.OpUpdate, htsmsg.Message{
				"tagId":   int64(1),
				"tagName": "After",
				"members": []interface{}{int64(10), int64(11)},
			})
			Expect(err).To(Succeed())

			Expect(snapshot.Name).To(Equal("Before"))
			Expect(snapshot.Members).To(Equal([]uint32{10}))
		})
	})
})
