package metrics

import "time"

// recorder is a minimal in-memory BTMetrics/MgmtMetrics used to confirm
// the interfaces are satisfiable by a simple test double; pkg/gatt and
// pkg/mgmt exercise the real wiring against *testing.T in their own
// packages.
type recorder struct {
	commands int
	drops    int
}

func (r *recorder) RecordCommand(opcode string, duration time.Duration, err error) { r.commands++ }
func (r *recorder) RecordReplyRingDrop(count int)                                  { r.drops += count }
func (r *recorder) RecordReplyRingDepth(depth int)                                 {}
func (r *recorder) SetAdapterCount(count int)                                      {}

var (
	_ BTMetrics   = (*recorder)(nil)
	_ MgmtMetrics = (*recorder)(nil)
)
