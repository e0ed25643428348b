package worker

import "testing"

func TestSafeWorkerCount(t *testing.T) {
	tests := []struct {
		availableGB float64
		expected    int
	}{
		{1.0, 1},  // below buffer, minimum applies
		{4.0, 1},  // 4GB - 2GB = 2GB / 3GB rounds down, minimum applies
		{8.0, 2},  // 8GB - 2GB = 6GB / 3GB = 2 workers
		{14.0, 4}, // 14GB - 2GB = 12GB / 3GB = 4 workers
		{60.0, 10}, // caps at 10 workers
	}

	for _, tt := range tests {
		result := safeWorkerCount(tt.availableGB)
		if result != tt.expected {
			t.Errorf("safeWorkerCount(%.1fGB) = %d, expected %d",
				tt.availableGB, result, tt.expected)
		}
	}
}
