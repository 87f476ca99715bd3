package scheduler

import (
	"bufio"
	"encoding/csv"
	"os"
	"strings"
	"testing"
)

// readCSVRows parses a results CSV, skipping the commented metadata header.
func readCSVRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var data strings.Builder
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		data.WriteString(line)
		data.WriteString("\n")
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("read %s: %v", path, err)
	}

	rows, err := csv.NewReader(strings.NewReader(data.String())).ReadAll()
	if err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return rows
}
