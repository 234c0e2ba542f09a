package core

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestConfig_DatabaseURL(t *testing.T) {
	cfg := &Config{}
	cfg.Database.Engine = "postgres"
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.Name = "testdb"
	cfg.Database.Username = "testuser"
	cfg.Database.Password = "testpassword"

	url := cfg.DatabaseURL()
	expected := "host=localhost port=5432 dbname=testdb user=testuser password=testpassword sslmode="
	if url != expected {
		t.Errorf("DatabaseURL() want = %s, got = %s", expected, url)
	}
}

func TestConfig_ListenAddress(t *testing.T) {
	cfg := &Config{Hostname: "127.0.0.1", Port: 6767}

	addr := cfg.ListenAddress()
	expected := "127.0.0.1:6767"
	if diff := cmp.Diff(expected, addr); diff != "" {
		t.Errorf("ListenAddress() generated the wrong address; diff:\n%s", diff)
	}
}

func TestConfig_IsAdmin(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Admins = []uint64{76561198000000001, 76561198000000002}

	tests := []struct {
		name    string
		steamID uint64
		want    bool
	}{
		{name: "listed admin", steamID: 76561198000000002, want: true},
		{name: "unlisted player", steamID: 76561198000000003, want: false},
		{name: "zero id", steamID: 0, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cfg.IsAdmin(tt.steamID); got != tt.want {
				t.Errorf("IsAdmin(%d) = %v, want %v", tt.steamID, got, tt.want)
			}
		})
	}
}

func TestConfig_SetDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.setDefaults()

	if cfg.Port != 6767 {
		t.Errorf("expected default port 6767, got %d", cfg.Port)
	}
	if cfg.Server.MaxPlayers != 20 {
		t.Errorf("expected default max players 20, got %d", cfg.Server.MaxPlayers)
	}
	if cfg.Database.Engine != "sqlite" {
		t.Errorf("expected default database engine sqlite, got %s", cfg.Database.Engine)
	}
}
