package migrate

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMock(t *testing.T) (sqlmock.Sqlmock, func(fs.FS, fs.FS) *Manager) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		_ = db.Close()
	})
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return mock, func(migrations, seeds fs.FS) *Manager {
		return NewManager(db, migrations, seeds, WithClock(func() time.Time { return fixed }))
	}
}

func expectTables(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`create table if not exists schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`create table if not exists schema_seeds`).WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	mock, build := newMock(t)
	src := fstest.MapFS{
		"0002_b.up.sql":   {Data: []byte("create table b (id int);")},
		"0001_a.up.sql":   {Data: []byte("create table a (id int);\ncreate index a_idx on a (id);")},
		"0001_a.down.sql": {Data: []byte("drop table a;")},
	}

	expectTables(mock)
	mock.ExpectQuery(`select name from schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(`create table b`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec(`insert into schema_migrations`).
		WithArgs("0002_b.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := build(src, nil).Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if len(applied) != 1 || applied[0] != "0002_b.up.sql" {
		t.Fatalf("unexpected applied list %v", applied)
	}
}

func TestUpStopsOnFailure(t *testing.T) {
	mock, build := newMock(t)
	src := fstest.MapFS{"0001_a.up.sql": {Data: []byte("create table a (id int);")}}

	expectTables(mock)
	mock.ExpectQuery(`select name from schema_migrations`).WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec(`create table a`).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	_, err := build(src, nil).Up(context.Background())
	if err == nil || !strings.Contains(err.Error(), "0001_a.up.sql") {
		t.Fatalf("expected named failure, got %v", err)
	}
}

func TestDownRollsBackLatest(t *testing.T) {
	mock, build := newMock(t)
	src := fstest.MapFS{
		"0001_a.up.sql":   {Data: []byte("create table a (id int);")},
		"0001_a.down.sql": {Data: []byte("drop table a;")},
	}

	expectTables(mock)
	mock.ExpectQuery(`select name from schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(`drop table a`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec(`delete from schema_migrations where name = \$1`).
		WithArgs("0001_a.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))

	name, err := build(src, nil).Down(context.Background())
	if err != nil || name != "0001_a.up.sql" {
		t.Fatalf("Down: name=%q err=%v", name, err)
	}
}

func TestDownWithoutHistory(t *testing.T) {
	mock, build := newMock(t)
	expectTables(mock)
	mock.ExpectQuery(`select name from schema_migrations`).WillReturnRows(sqlmock.NewRows([]string{"name"}))

	if _, err := build(fstest.MapFS{}, nil).Down(context.Background()); !errors.Is(err, ErrNothingApplied) {
		t.Fatalf("expected ErrNothingApplied, got %v", err)
	}
}

func TestSeedSkipsApplied(t *testing.T) {
	mock, build := newMock(t)
	seeds := fstest.MapFS{"0001_roles.sql": {Data: []byte("insert into roles values ('r');")}}

	expectTables(mock)
	mock.ExpectQuery(`select name from schema_seeds`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_roles.sql"))

	applied, err := build(nil, seeds).Seed(context.Background())
	if err != nil || len(applied) != 0 {
		t.Fatalf("expected no seeds applied, got %v err=%v", applied, err)
	}
}

func TestSplitStatements(t *testing.T) {
	sql := `-- header; with a semicolon
insert into roles (name) values ('a;b');
insert into roles (name) values ('it''s');
select 1`
	got := splitStatements(sql)
	if len(got) != 3 {
		t.Fatalf("expected 3 statements, got %d: %q", len(got), got)
	}
	if !strings.Contains(got[0], "'a;b'") {
		t.Fatalf("quoted semicolon split: %q", got[0])
	}
	if strings.Contains(got[0], "header") {
		t.Fatalf("comment kept: %q", got[0])
	}
	if got[2] != "select 1" {
		t.Fatalf("unexpected tail %q", got[2])
	}
}

func TestEmbeddedSources(t *testing.T) {
	ups, err := collectSQL(Migrations(), ".up.sql")
	if err != nil {
		t.Fatalf("collect migrations: %v", err)
	}
	if len(ups) == 0 || ups[0] != "0001_identity.up.sql" {
		t.Fatalf("unexpected migrations %v", ups)
	}
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(Migrations(), down); err != nil {
			t.Fatalf("missing %s", down)
		}
	}
	seeds, err := collectSQL(Seeds(), ".sql")
	if err != nil || len(seeds) == 0 {
		t.Fatalf("expected embedded seeds, got %v err=%v", seeds, err)
	}
}
