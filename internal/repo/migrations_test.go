package repo

import (
	"strings"
	"testing"
)

func TestSplitStatements(t *testing.T) {
	script := `
-- comment only
CREATE TABLE a (id TEXT);

-- leading comment
CREATE INDEX a_idx
    ON a (id);
   ;
`
	stmts := splitStatements(script)
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
	if stmts[0] != "CREATE TABLE a (id TEXT)" {
		t.Errorf("unexpected first statement: %q", stmts[0])
	}
	if !strings.HasPrefix(stmts[1], "CREATE INDEX a_idx") || strings.Contains(stmts[1], "--") {
		t.Errorf("unexpected second statement: %q", stmts[1])
	}
}

func TestInitialSchema(t *testing.T) {
	stmts := splitStatements(migration001)

	tables := []string{"flows", "flow_stages", "flow_runs", "stage_runs"}
	for _, table := range tables {
		found := false
		for _, stmt := range stmts {
			if strings.HasPrefix(stmt, "CREATE TABLE IF NOT EXISTS "+table+" ") {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("table %s is not created by the initial migration", table)
		}
	}
}
