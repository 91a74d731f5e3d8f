// Package peertable parses the static member->address table
// (network.config) that every council peer boots from.
package peertable

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Entry is one member's resolved address.
type Entry struct {
	ID   string
	Host string
	Port int
}

// Addr returns the "host:port" dial target for this entry.
func (e Entry) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Index derives a member's numeric tie-break index from its id,
// e.g. "M3" -> 3. Non-numeric suffixes fall back to 0, which is
// sufficient only for the nine-peer MemberID convention this engine
// assumes.
func Index(id string) int {
	trimmed := strings.TrimLeft(id, "Mm")
	idx, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0
	}
	return idx
}

// Table is the ordered member->address mapping, insertion order
// preserved as required by the spec'd bootstrap format.
type Table struct {
	order   []string
	entries map[string]Entry
}

// Load reads and parses the peer table at path.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("peertable: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads the peer table format from r: one non-blank,
// non-comment ("#") line per entry, "<memberId>,<host>,<port>".
func Parse(r io.Reader) (*Table, error) {
	t := &Table{entries: make(map[string]Entry)}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, ",")
		if len(fields) != 3 {
			return nil, fmt.Errorf("peertable: line %d: expected 3 fields, got %d", lineNo, len(fields))
		}

		id := strings.TrimSpace(fields[0])
		host := strings.TrimSpace(fields[1])
		port, err := strconv.Atoi(strings.TrimSpace(fields[2]))
		if err != nil {
			return nil, fmt.Errorf("peertable: line %d: bad port %q: %w", lineNo, fields[2], err)
		}

		if _, exists := t.entries[id]; !exists {
			t.order = append(t.order, id)
		}
		t.entries[id] = Entry{ID: id, Host: host, Port: port}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("peertable: scan: %w", err)
	}

	return t, nil
}

// Lookup resolves a member id to its entry.
func (t *Table) Lookup(id string) (Entry, bool) {
	e, ok := t.entries[id]
	return e, ok
}

// Members returns all member ids in table (file) order.
func (t *Table) Members() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Peers returns all member ids except self, in table order.
func (t *Table) Peers(self string) []string {
	out := make([]string, 0, len(t.order))
	for _, id := range t.order {
		if id != self {
			out = append(out, id)
		}
	}
	return out
}

// Len returns the number of members in the table.
func (t *Table) Len() int {
	return len(t.order)
}

// Majority returns floor(N/2)+1 for the table's member count.
func (t *Table) Majority() int {
	return t.Len()/2 + 1
}
