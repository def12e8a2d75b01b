package memory_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/bec-fabric/bec/broker"
	"github.com/bec-fabric/bec/broker/memory"
)

var _ = Describe("memory broker", func() {
	var b *memory.Broker
	var ctx context.Context

	BeforeEach(func() {
		var err error
		b, err = memory.New(":memory:")
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	AfterEach(func() { b.Close() })

	It("round-trips a set/get", func() {
		Expect(b.Set(ctx, "k1", []byte("hello"))).To(Succeed())
		v, found, err := b.Get(ctx, "k1")
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(v).To(Equal([]byte("hello")))
	})

	It("delivers publishes to subscribers FIFO within one topic", func() {
		received := make(chan string, 8)
		sub, err := b.Subscribe(ctx, "topic-a", func(m broker.Msg) {
			received <- string(m.Payload)
		})
		Expect(err).NotTo(HaveOccurred())
		defer sub.Unsubscribe()

		for i := 0; i < 5; i++ {
			Expect(b.Publish(ctx, "topic-a", []byte{byte('0' + i)})).To(Succeed())
		}
		for i := 0; i < 5; i++ {
			Eventually(received).Should(Receive(Equal(string(rune('0' + i)))))
		}
	})

	It("supports the set+publish dual-write convention", func() {
		received := make(chan []byte, 1)
		sub, _ := b.Subscribe(ctx, "k2:sub", func(m broker.Msg) { received <- m.Payload })
		defer sub.Unsubscribe()

		Expect(broker.SetAndPublish(ctx, b, "k2", []byte("val"))).To(Succeed())

		v, found, _ := b.Get(ctx, "k2")
		Expect(found).To(BeTrue())
		Expect(v).To(Equal([]byte("val")))
		Eventually(received, time.Second).Should(Receive(Equal([]byte("val"))))
	})

	It("supports glob pattern key scans for public/<scanID>/file/*", func() {
		Expect(b.Set(ctx, "public/s1/file/master", []byte("a"))).To(Succeed())
		Expect(b.Set(ctx, "public/s1/file/aux", []byte("b"))).To(Succeed())
		Expect(b.Set(ctx, "public/s2/file/master", []byte("c"))).To(Succeed())

		keys, err := b.ScanKeys(ctx, "public/s1/file/*")
		Expect(err).NotTo(HaveOccurred())
		Expect(keys).To(ConsistOf("public/s1/file/master", "public/s1/file/aux"))
	})

	It("supports list push/range (lpush is head-insert)", func() {
		Expect(b.LPush(ctx, "l1", []byte("a"))).To(Succeed())
		Expect(b.LPush(ctx, "l1", []byte("b"))).To(Succeed())
		vals, err := b.LRange(ctx, "l1", 0, -1)
		Expect(err).NotTo(HaveOccurred())
		Expect(vals).To(Equal([][]byte{[]byte("b"), []byte("a")}))
	})

	It("supports stream append/range in append order", func() {
		Expect(b.XAdd(ctx, "s1", []byte("x"))).To(Succeed())
		Expect(b.XAdd(ctx, "s1", []byte("y"))).To(Succeed())
		vals, err := b.XRange(ctx, "s1")
		Expect(err).NotTo(HaveOccurred())
		Expect(vals).To(Equal([][]byte{[]byte("x"), []byte("y")}))
	})
})
