package compile

import (
	"io"

	"stratus/internal/runtime"
	"stratus/internal/simulator"
)

// Run executes a compiled script on a fresh machine and heap. The
// returned word is the script's completion value. When out is non-nil
// it receives the script's print output.
func Run(sc *Script, cfg runtime.Config, out io.Writer) (uint32, *runtime.Heap, error) {
	h, err := runtime.NewHeap(cfg)
	if err != nil {
		return 0, nil, err
	}
	if out != nil {
		h.Out = out
	}
	m := simulator.NewMachine(h)
	v, err := m.Run(sc.Code)
	return v, h, err
}
