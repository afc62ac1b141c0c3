package storage

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/good-yellow-bee/blazealarm/internal/models"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		dialect Dialect
		in      string
		want    string
	}{
		{DialectSQLite, "SELECT ? , ?", "SELECT ? , ?"},
		{DialectPostgres, "SELECT ? , ?", "SELECT $1 , $2"},
		{DialectPostgres, "SELECT 1", "SELECT 1"},
	}
	for _, tt := range tests {
		if got := tt.dialect.rebind(tt.in); got != tt.want {
			t.Errorf("%s rebind(%q) = %q, want %q", tt.dialect, tt.in, got, tt.want)
		}
	}
}

func TestParseDialect(t *testing.T) {
	if _, err := ParseDialect("oracle"); err == nil {
		t.Error("expected error for unknown dialect")
	}
	d, err := ParseDialect("postgres")
	if err != nil || d != DialectPostgres {
		t.Errorf("ParseDialect(postgres) = %v, %v", d, err)
	}
}

func TestPostgres_UpdatePropertiesStale(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	s := NewSQLStore(db, DialectPostgres, nil)
	em := &recordingEmitter{}
	s.SetEmitter(em, "changes")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1 FROM objects WHERE id = \$1`).
		WithArgs("item").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec(`(?s)INSERT INTO object_properties .* VALUES \(\$1, \$2, \$3, \$4, \$5, \$6\)`).
		WithArgs("item", "State", "Alert", `"ON"`, int64(42), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err = s.UpdateProperties(context.Background(), "item", 42,
		[]models.PropertyValue{{Group: "State", Property: "Alert", Value: "ON"}})
	if err != nil {
		t.Fatalf("UpdateProperties: %v", err)
	}
	if len(em.events) != 0 {
		t.Errorf("stale write must not be announced, got %d events", len(em.events))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
