package data

import (
	"path/filepath"
	"testing"

	"gorm.io/gorm"
)

// Creates a database for testing. For the sake of simplicity, this only uses the
// SQLite engine and creates a new database on every invocation since it is relatively
// cheap to do so (especially given the low number of tests). If this ever becomes
// prohibitive due to performance, this approach will need to be reevaluated.
func setUpDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dialector, err := Dialector(EngineSQLite, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("error picking test database driver: %s", err)
	}
	db, err := Open(dialector, false)
	if err != nil {
		t.Fatalf("error initializing test database: %s", err)
	}
	t.Cleanup(func() {
		if err := Close(db); err != nil {
			t.Errorf("error closing test database: %s", err)
		}
	})
	return db
}

func TestDialector(t *testing.T) {
	tests := []struct {
		engine  string
		want    string
		wantErr bool
	}{
		{engine: "", want: "sqlite"},
		{engine: EngineSQLite, want: "sqlite"},
		{engine: EnginePostgres, want: "postgres"},
		{engine: "mysql", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.engine, func(t *testing.T) {
			d, err := Dialector(tt.engine, "source")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Dialector() wantErr = %v, error = %v", tt.wantErr, err)
			}
			if err == nil && d.Name() != tt.want {
				t.Errorf("Dialector() = %s, want %s", d.Name(), tt.want)
			}
		})
	}
}
