package memory_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestMemoryBroker(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "memory broker suite")
}
