package htsp_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/antenna/htsmsg"
	"github.com/luma/antenna/htsp"
)

var _ = Describe("Dispatcher", func() {
	var (
		mirror     *htsp.Mirror
		dispatcher *htsp.Dispatcher
	)

	BeforeEach(func() {
		mirror = htsp.NewMirror(nil)
		dispatcher = htsp.NewDispatcher(mirror, nil)
	})

	It("routes known verbs into the mirror", func() {
		method, entity, err := dispatcher.Dispatch(htsmsg.Message{
			"method":  "tagAdd",
			"tagId":   int64(1),
			"tagName": "News",
		})
		Expect(err).To(Succeed())
		Expect(method).To(Equal("tagAdd"))
		Expect(entity.(*htsp.Tag).Name).To(Equal("News"))

		tag, ok := mirror.Tag(1)
		Expect(ok).To(BeTrue())
		Expect(tag.Name).To(Equal("News"))
	})

	It("drops unrecognised verbs without failing", func() {
		method, entity, err := dispatcher.Dispatch(htsmsg.Message{
			"method": "somethingFromTheFuture",
			"id":     int64(1),
		})
		Expect(err).To(Succeed())
		Expect(method).To(Equal("somethingFromTheFuture"))
		Expect(entity).To(BeNil())
	})

	It("notifies observers in registration order", func() {
		var order []string
		dispatcher.Subscribe(func(method string, entity htsp.Entity) {
			order = append(order, "first")
		})
		dispatcher.Subscribe(func(method string, entity htsp.Entity) {
			order = append(order, "second")
		})

		_, _, err := dispatcher.Dispatch(htsmsg.Message{
			"method": "tagAdd", "tagId": int64(1), "tagName": "News",
		})
		Expect(err).To(Succeed())

		Expect(order).To(Equal([]string{"first", "second"}))
	})

	It("does not notify observers for unrecognised verbs", func() {
		var called bool
		dispatcher.Subscribe(func(method string, entity htsp.Entity) {
			called = true
		})

		_, _, err := dispatcher.Dispatch(htsmsg.Message{"method": "somethingFromTheFuture"})
		Expect(err).To(Succeed())
		Expect(called).To(BeFalse())
	})

	It("supports an observer removing itself mid-callback", func() {
		var calls int
		var unsubscribe func()
		unsubscribe = dispatcher.Subscribe(func(method string, entity htsp.Entity) {
			calls++
			unsubscribe()
		})

		push := htsmsg.Message{"method": "tagAdd", "tagId": int64(1), "tagName": "News"}

		_, _, err := dispatcher.Dispatch(push)
		Expect(err).To(Succeed())
		_, _, err = dispatcher.Dispatch(push)
		Expect(err).To(Succeed())

		Expect(calls).To(Equal(1))
	})

	It("notifies deletes with the removed entity", func() {
		_, _, err := dispatcher.Dispatch(htsmsg.Message{
			"method": "dvrEntryAdd", "id": int64(7), "title": "Doomed", "state": "scheduled",
		})
		Expect(err).To(Succeed())

		var removed htsp.Entity
		dispatcher.Subscribe(func(method string, entity htsp.Entity) {
			if method == "dvrEntryDelete" {
				removed = entity
			}
		})

		_, _, err = dispatcher.Dispatch(htsmsg.Message{"method": "dvrEntryDelete", "id": int64(7)})
		Expect(err).To(Succeed())

		Expect(removed).NotTo(BeNil())
		Expect(removed.(*htsp.DvrEntry).Title).To(Equal("Doomed"))

		_, ok := mirror.DvrEntry(7)
		Expect(ok).To(BeFalse())
	})

	It("notifies the sync completion marker with no entity", func() {
		var sawSync bool
		dispatcher.Subscribe(func(method string, entity htsp.Entity) {
			if method == htsp.MethodInitialSyncCompleted {
				sawSync = entity == nil
			}
		})

		method, entity, err := dispatcher.Dispatch(htsmsg.Message{"method": "initialSyncCompleted"})
		Expect(err).To(Succeed())
		Expect(method).To(Equal(htsp.MethodInitialSyncCompleted))
		Expect(entity).To(BeNil())
		Expect(sawSync).To(BeTrue())
	})
})
