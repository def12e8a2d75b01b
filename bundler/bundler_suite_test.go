package bundler_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestBundler(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "segment bundler suite")
}
