package worker

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"
)

// safeWorkerCount recommends a worker count for the available memory.
// Each analyzer process holds its models resident, roughly 3GB apiece.
func safeWorkerCount(availableGB float64) int {
	const memoryPerAnalyzer = 3.0 // GB per resident analyzer process
	const memoryBuffer = 2.0      // GB reserved for the rest of the system

	if availableGB < memoryBuffer {
		return 1
	}

	count := int((availableGB - memoryBuffer) / memoryPerAnalyzer)
	if count < 1 {
		return 1
	}
	if count > 10 {
		return 10
	}
	return count
}

// memoryPressureWarning returns a warning string when the requested worker
// count exceeds what available memory supports, or "" when it fits. Advisory
// only; the pool still starts the requested count.
func memoryPressureWarning(requested int) string {
	v, err := mem.VirtualMemory()
	if err != nil {
		return "" // can't check, assume OK
	}

	availableGB := float64(v.Available) / 1024 / 1024 / 1024
	totalGB := float64(v.Total) / 1024 / 1024 / 1024
	recommended := safeWorkerCount(availableGB)

	if requested > recommended {
		return fmt.Sprintf(
			"worker count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB used); "+
				"consider reducing workers to prevent memory pressure",
			requested, recommended, totalGB-availableGB, totalGB)
	}
	return ""
}
