package comm

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies the facade's construction/teardown path leaves no
// goroutines behind (the topology engine's errgroup fan-out in particular
// must fully join before UpdateTopology returns), the same leak-check
// discipline the teacher applies to its background worker pool tests.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
