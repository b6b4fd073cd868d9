package notebook

import (
	"log"
	"os"
)

// LogKernel is a Kernel that only records intents in the log.
//
// It stands in for a real execution engine when the session runs without
// one attached.
type LogKernel struct {
	logger *log.Logger
}

// NewLogKernel creates a LogKernel. A nil logger writes to stderr.
func NewLogKernel(logger *log.Logger) *LogKernel {
	if logger == nil {
		logger = log.New(os.Stderr, "[kernel] ", log.LstdFlags)
	}
	return &LogKernel{logger: logger}
}

// Execute implements Kernel.
func (k *LogKernel) Execute(index int, cell Cell) error {
	k.logger.Printf("Execute cell %d (%s, %d bytes)", index, cell.Kind, len(cell.Source))
	return nil
}

// ExecuteAll implements Kernel.
func (k *LogKernel) ExecuteAll(cells []Cell) error {
	k.logger.Printf("Execute all (%d cells)", len(cells))
	return nil
}

// Restart implements Kernel.
func (k *LogKernel) Restart() error {
	k.logger.Println("Restart requested")
	return nil
}
