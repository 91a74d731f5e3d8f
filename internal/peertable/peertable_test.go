package peertable

import (
	"strings"
	"testing"
)

const sample = `# council peer table
M1,127.0.0.1,9001
M2,127.0.0.1,9002

M3,127.0.0.1,9003
# trailing comment
M4,127.0.0.1,9004
`

func TestParseOrderAndLookup(t *testing.T) {
	table, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	members := table.Members()
	want := []string{"M1", "M2", "M3", "M4"}
	if len(members) != len(want) {
		t.Fatalf("got %d members, want %d", len(members), len(want))
	}
	for i, id := range want {
		if members[i] != id {
			t.Fatalf("members[%d] = %s, want %s", i, members[i], id)
		}
	}

	e, ok := table.Lookup("M3")
	if !ok || e.Addr() != "127.0.0.1:9003" {
		t.Fatalf("unexpected lookup for M3: %+v ok=%v", e, ok)
	}

	if table.Majority() != 3 {
		t.Fatalf("majority of 4 should be 3, got %d", table.Majority())
	}
}

func TestPeersExcludesSelf(t *testing.T) {
	table, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	peers := table.Peers("M2")
	for _, p := range peers {
		if p == "M2" {
			t.Fatalf("Peers(\"M2\") must not include M2, got %v", peers)
		}
	}
	if len(peers) != 3 {
		t.Fatalf("expected 3 peers, got %d", len(peers))
	}
}

func TestIndex(t *testing.T) {
	cases := map[string]int{"M1": 1, "M9": 9, "M3": 3}
	for id, want := range cases {
		if got := Index(id); got != want {
			t.Fatalf("Index(%s) = %d, want %d", id, got, want)
		}
	}
}

func TestMalformedLine(t *testing.T) {
	_, err := Parse(strings.NewReader("M1,127.0.0.1\n"))
	if err == nil {
		t.Fatalf("expected an error for a malformed line")
	}
}
