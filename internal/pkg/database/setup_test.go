package database

import (
	"testing"

	"github.com/ManuelReschke/PayFox/internal/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
		want string
	}{
		{
			name: "mysql default port",
			cfg:  config.DatabaseConfig{Driver: "mysql", Host: "db", User: "payfox", Password: "secret", Name: "payfox"},
			want: "payfox:secret@tcp(db:3306)/payfox?charset=utf8mb4&parseTime=True&loc=UTC",
		},
		{
			name: "postgres explicit port",
			cfg:  config.DatabaseConfig{Driver: "postgres", Host: "pg", Port: "6543", User: "u", Password: "p", Name: "billing"},
			want: "host=pg user=u password=p dbname=billing port=6543 sslmode=disable TimeZone=UTC",
		},
		{
			name: "url wins",
			cfg:  config.DatabaseConfig{Driver: "postgres", URL: "postgres://u:p@pg/billing", Name: "ignored"},
			want: "postgres://u:p@pg/billing",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn, err := DSN(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, dsn)
		})
	}
}

func TestDSNUnsupportedDriver(t *testing.T) {
	_, err := DSN(config.DatabaseConfig{Driver: "sqlite"})
	assert.Error(t, err)
}

func TestModelsCoverEveryTable(t *testing.T) {
	assert.Len(t, Models(), 15)
}
