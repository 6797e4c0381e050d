package dtd

import "fmt"

// field extracts line[start:end], erroring instead of panicking when a
// row is shorter than the column layout demands — these files come
// from an external feed and truncated rows do occur in practice.
func field(line string, start, end int) (string, error) {
	if end > len(line) {
		return "", fmt.Errorf("row has %d bytes, need %d for column [%d:%d]", len(line), end, start, end)
	}
	return line[start:end], nil
}
