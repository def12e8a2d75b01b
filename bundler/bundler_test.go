package bundler_test

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/bec-fabric/bec/broker"
	"github.com/bec-fabric/bec/broker/memory"
	"github.com/bec-fabric/bec/bundler"
	"github.com/bec-fabric/bec/msg"
)

func publishReadback(b broker.Broker, dev, scanID string, pointID int64, value float64) {
	env := msg.New(msg.KindDeviceReadback, map[string]any{"value": value},
		map[string]any{"scanID": scanID, "pointID": pointID})
	payload, err := msg.Encode(env)
	Expect(err).NotTo(HaveOccurred())
	Expect(b.Publish(context.Background(), msg.EP.DeviceReadback(dev), payload)).To(Succeed())
}

var _ = Describe("segment bundler", func() {
	var b *memory.Broker
	var bd *bundler.Bundler
	var ctx context.Context

	BeforeEach(func() {
		var err error
		b, err = memory.New(":memory:")
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
		bd = bundler.New(b)
	})

	AfterEach(func() { b.Close() })

	It("publishes a row once every monitored-minus-async device has delivered it", func() {
		Expect(bd.OpenScan(ctx, "scan-1", []string{"samx", "cam1"}, nil)).To(Succeed())

		segments := make(chan []byte, 4)
		_, err := b.Subscribe(ctx, msg.EP.ScanSegment(), func(m broker.Msg) { segments <- m.Payload })
		Expect(err).NotTo(HaveOccurred())

		publishReadback(b, "samx", "scan-1", 0, 1.0)
		Consistently(segments).ShouldNot(Receive())

		publishReadback(b, "cam1", "scan-1", 0, 42.0)
		Eventually(segments).Should(Receive())
	})

	It("completes a row without waiting on the scan's async devices", func() {
		Expect(bd.OpenScan(ctx, "scan-1", []string{"samx"}, []string{"samx_async"})).To(Succeed())

		segments := make(chan []byte, 4)
		_, err := b.Subscribe(ctx, msg.EP.ScanSegment(), func(m broker.Msg) { segments <- m.Payload })
		Expect(err).NotTo(HaveOccurred())

		publishReadback(b, "samx", "scan-1", 0, 1.0)
		Eventually(segments).Should(Receive())
	})

	It("publishes the durable public_scan_segment key alongside scan_segment", func() {
		Expect(bd.OpenScan(ctx, "scan-1", []string{"samx"}, nil)).To(Succeed())
		publishReadback(b, "samx", "scan-1", 3, 7.0)

		Eventually(func() bool {
			_, found, err := b.Get(ctx, msg.EP.PublicScanSegment("scan-1", 3))
			Expect(err).NotTo(HaveOccurred())
			return found
		}).Should(BeTrue())
	})

	It("ignores readback addressed to a different scanID", func() {
		Expect(bd.OpenScan(ctx, "scan-1", []string{"samx"}, nil)).To(Succeed())
		segments := make(chan []byte, 4)
		_, err := b.Subscribe(ctx, msg.EP.ScanSegment(), func(m broker.Msg) { segments <- m.Payload })
		Expect(err).NotTo(HaveOccurred())

		publishReadback(b, "samx", "scan-other", 0, 1.0)
		Consistently(segments).ShouldNot(Receive())
	})

	It("drops a scan's in-flight rows on CloseScan", func() {
		Expect(bd.OpenScan(ctx, "scan-1", []string{"samx", "cam1"}, nil)).To(Succeed())
		publishReadback(b, "samx", "scan-1", 0, 1.0)
		Expect(bd.CloseScan("scan-1")).To(Succeed())

		segments := make(chan []byte, 4)
		_, err := b.Subscribe(ctx, msg.EP.ScanSegment(), func(m broker.Msg) { segments <- m.Payload })
		Expect(err).NotTo(HaveOccurred())
		publishReadback(b, "cam1", "scan-1", 0, 2.0)
		Consistently(segments).ShouldNot(Receive())
	})
})
