package migrate

import (
	"context"
	"errors"
	"io/fs"
	"reflect"
	"regexp"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMock(t *testing.T) (*Manager, sqlmock.Sqlmock, fstest.MapFS) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	migrations := fstest.MapFS{
		"0002_more.up.sql":   {Data: []byte("create table b(id int);")},
		"0002_more.down.sql": {Data: []byte("drop table b;")},
		"0001_init.up.sql":   {Data: []byte("-- accounts\ncreate table a(id int);\ncreate index a_idx on a(id);")},
		"0001_init.down.sql": {Data: []byte("drop table a;")},
	}
	return NewManager(db, migrations, nil), mock, migrations
}

func met(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func expectTables(mock sqlmock.Sqlmock) {
	mock.ExpectExec(regexp.QuoteMeta("create table if not exists schema_migrations")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("create table if not exists schema_seeds")).WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectLock(mock sqlmock.Sqlmock) {
	mock.ExpectExec(regexp.QuoteMeta("select pg_advisory_lock($1)")).WithArgs(lockKey).WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectUnlock(mock sqlmock.Sqlmock) {
	mock.ExpectExec(regexp.QuoteMeta("select pg_advisory_unlock($1)")).WithArgs(lockKey).WillReturnResult(sqlmock.NewResult(0, 0))
}

func appliedRows(names ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"name", "applied_at"})
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, n := range names {
		rows.AddRow(n, at.Add(time.Duration(i)*time.Minute))
	}
	return rows
}

func TestUpAppliesPendingWithRecordInSameTransaction(t *testing.T) {
	mgr, mock, _ := newMock(t)

	expectTables(mock)
	expectLock(mock)
	mock.ExpectQuery(regexp.QuoteMeta("select name, applied_at from schema_migrations")).
		WillReturnRows(appliedRows("0001_init.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("create table b(id int);")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("insert into schema_migrations(name, applied_at)")).
		WithArgs("0002_more.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	expectUnlock(mock)

	if err := mgr.Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	met(t, mock)
}

func TestUpRollsBackFailedMigration(t *testing.T) {
	mgr, mock, _ := newMock(t)

	expectTables(mock)
	expectLock(mock)
	mock.ExpectQuery(regexp.QuoteMeta("select name, applied_at from schema_migrations")).
		WillReturnRows(appliedRows())
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("-- accounts\ncreate table a(id int);")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("create index a_idx on a(id);")).WillReturnError(errors.New("boom"))
	mock.ExpectRollback()
	expectUnlock(mock)

	err := mgr.Up(context.Background())
	if err == nil || !strings.Contains(err.Error(), "0001_init.up.sql") {
		t.Fatalf("expected failure naming the migration, got %v", err)
	}
	met(t, mock)
}

func TestDownForgetsLastMigration(t *testing.T) {
	mgr, mock, _ := newMock(t)

	expectTables(mock)
	expectLock(mock)
	mock.ExpectQuery(regexp.QuoteMeta("select name, applied_at from schema_migrations")).
		WillReturnRows(appliedRows("0001_init.up.sql", "0002_more.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("drop table b;")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("delete from schema_migrations where name = $1")).
		WithArgs("0002_more.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectUnlock(mock)

	if err := mgr.Down(context.Background()); err != nil {
		t.Fatalf("Down: %v", err)
	}
	met(t, mock)
}

func TestDownRequiresDownFile(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mgr := NewManager(db, fstest.MapFS{"0003_x.up.sql": {Data: []byte("select 1;")}}, nil)
	expectTables(mock)
	expectLock(mock)
	mock.ExpectQuery(regexp.QuoteMeta("select name, applied_at from schema_migrations")).
		WillReturnRows(appliedRows("0003_x.up.sql"))
	expectUnlock(mock)

	err = mgr.Down(context.Background())
	if err == nil || !strings.Contains(err.Error(), "missing down migration") {
		t.Fatalf("expected missing down migration, got %v", err)
	}
	met(t, mock)
}

func TestStatusListsPending(t *testing.T) {
	mgr, mock, _ := newMock(t)

	expectTables(mock)
	mock.ExpectQuery(regexp.QuoteMeta("select name, applied_at from schema_migrations")).
		WillReturnRows(appliedRows("0001_init.up.sql"))

	records, err := mgr.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %+v", records)
	}
	if records[0].Name != "0001_init.up.sql" || records[0].Pending {
		t.Fatalf("unexpected applied record %+v", records[0])
	}
	if records[1] != (Record{Name: "0002_more.up.sql", Pending: true}) {
		t.Fatalf("unexpected pending record %+v", records[1])
	}
	if got := records[1].String(); got != "0002_more.up.sql\tpending" {
		t.Fatalf("unexpected String %q", got)
	}
}

func TestSeedRequiresSeeds(t *testing.T) {
	mgr, _, _ := newMock(t)
	if err := mgr.Seed(context.Background()); err == nil {
		t.Fatal("expected error without seeds")
	}
}

func TestEmbeddedMigrationsPaired(t *testing.T) {
	fsys := Migrations()
	ups, err := collectSQL(fsys, ".up.sql")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(ups) == 0 {
		t.Fatal("no embedded migrations")
	}
	for _, up := range ups {
		down := up.Base[:len(up.Base)-len(".up.sql")] + ".down.sql"
		if _, err := fs.Stat(fsys, down); err != nil {
			t.Fatalf("missing %s", down)
		}
	}
}

func TestSplitStatements(t *testing.T) {
	cases := []struct {
		script string
		want   []string
	}{
		{"insert into t values ('a;b'); select 1;\n", []string{"insert into t values ('a;b');", "select 1;"}},
		{"-- drop; nothing here\nselect 2; -- trailing; note\n", []string{"-- drop; nothing here\nselect 2;"}},
	}
	for _, tc := range cases {
		if got := splitStatements(tc.script); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("splitStatements(%q) = %q, want %q", tc.script, got, tc.want)
		}
	}
}
