package store

import (
	"context"
	"errors"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestMySQLStore_Contract(t *testing.T) {
	dsn := getTestDSN(t)
	if dsn == "" {
		t.Skip("Skipping MySQL test: TEST_MYSQL_DSN not set")
	}

	runStoreContract(t, func(t *testing.T) Store[TestState] {
		st, err := NewMySQLStore[TestState](dsn)
		if err != nil {
			t.Fatalf("NewMySQLStore failed: %v", err)
		}
		if _, err := st.db.ExecContext(context.Background(), "DELETE FROM negotiation_checkpoints"); err != nil {
			t.Fatalf("failed to reset table: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		return st
	})
}

func TestMySQLStore_InvalidDSN(t *testing.T) {
	if _, err := NewMySQLStore[TestState]("not a dsn"); err == nil {
		t.Fatal("expected error for invalid DSN")
	}
}

func TestIsMySQLDuplicate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"duplicate entry", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, true},
		{"wrapped duplicate", errors.Join(errors.New("insert"), &mysql.MySQLError{Number: 1062}), true},
		{"other mysql error", &mysql.MySQLError{Number: 1213, Message: "Deadlock"}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isMySQLDuplicate(tt.err); got != tt.want {
				t.Errorf("isMySQLDuplicate() = %v, want %v", got, tt.want)
			}
		})
	}
}
