package db

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestInitPostgres_Unreachable(t *testing.T) {
	for _, dsn := range []string{"some=random", ""} {
		_, err := InitPostgres(dsn)
		if err == nil || !strings.Contains(err.Error(), "ping postgres") {
			t.Errorf("InitPostgres(%q) error = %v; want ping failure", dsn, err)
		}
	}
}

func TestCreateSchema(t *testing.T) {
	cases := []struct {
		name    string
		execErr error
		wantErr string
	}{
		{name: "created"},
		{name: "exec fails", execErr: errors.New("permission denied"), wantErr: "create schema: permission denied"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dbMock, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to open sqlmock database: %v", err)
			}
			defer dbMock.Close()

			exp := mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS accounts"))
			if tc.execErr != nil {
				exp.WillReturnError(tc.execErr)
			} else {
				exp.WillReturnResult(sqlmock.NewResult(0, 0))
			}

			err = createSchema(dbMock)
			switch {
			case tc.wantErr == "" && err != nil:
				t.Fatalf("createSchema() error = %v", err)
			case tc.wantErr != "" && (err == nil || err.Error() != tc.wantErr):
				t.Fatalf("createSchema() error = %v; want %q", err, tc.wantErr)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestSchema_TriggersPublishOnPushChannel(t *testing.T) {
	notifies := regexp.MustCompile(`pg_notify\('([a-z_]+)'`).FindAllStringSubmatch(schema, -1)
	if len(notifies) != 3 {
		t.Fatalf("found %d pg_notify calls; want 3", len(notifies))
	}
	for _, m := range notifies {
		if m[1] != PushChannel {
			t.Errorf("pg_notify channel = %q; want %q", m[1], PushChannel)
		}
	}

	for _, kind := range []string{"'containerUpdate'", "'itemUpdate'", "'message'"} {
		if !strings.Contains(schema, "'kind', "+kind) {
			t.Errorf("schema has no trigger publishing kind %s", kind)
		}
	}
}
