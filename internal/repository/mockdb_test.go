package repository

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recordedStatement struct {
	SQL  string
	Vars []any
}

// statementLog collects every statement gorm sends so tests can assert on
// the rendered SQL and its bind values.
type statementLog struct {
	mu         sync.Mutex
	statements []recordedStatement
}

func (l *statementLog) record(tx *gorm.DB) {
	l.mu.Lock()
	defer l.mu.Unlock()
	vars := make([]any, len(tx.Statement.Vars))
	copy(vars, tx.Statement.Vars)
	l.statements = append(l.statements, recordedStatement{SQL: tx.Statement.SQL.String(), Vars: vars})
}

// find returns the first statement containing fragment.
func (l *statementLog) find(t *testing.T, fragment string) recordedStatement {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.statements {
		if strings.Contains(s.SQL, fragment) {
			return s
		}
	}
	var all []string
	for _, s := range l.statements {
		all = append(all, s.SQL)
	}
	t.Fatalf("no statement contains %q; got:\n%s", fragment, strings.Join(all, "\n"))
	return recordedStatement{}
}

func (s recordedStatement) hasVar(want any) bool {
	for _, v := range s.Vars {
		if fmt.Sprint(v) == fmt.Sprint(want) {
			return true
		}
	}
	return false
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, *statementLog) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 logger.Discard,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("gorm.Open() error = %v", err)
	}

	log := &statementLog{}
	cb := db.Callback()
	registrations := []error{
		cb.Create().After("gorm:create").Register("test:record_create", log.record),
		cb.Query().After("gorm:query").Register("test:record_query", log.record),
		cb.Update().After("gorm:update").Register("test:record_update", log.record),
		cb.Delete().After("gorm:delete").Register("test:record_delete", log.record),
		cb.Row().After("gorm:row").Register("test:record_row", log.record),
	}
	for _, err := range registrations {
		if err != nil {
			t.Fatalf("register callback: %v", err)
		}
	}

	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet sql expectations: %v", err)
		}
	})

	return db, mock, log
}
