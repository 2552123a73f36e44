package app

import (
	"fmt"
	"os"

	"guildpay/internal/config"
	"guildpay/internal/db"
	"guildpay/internal/engine"
	"guildpay/internal/migrate"
)

// OpenEngine opens the workspace database, applies migrations and loads
// guildpay.yml when present, falling back to defaults. The returned cleanup
// closes the database.
func OpenEngine(workspace string) (engine.Engine, func(), error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	e := engine.New(conn, cfg)
	return e, func() { conn.Close() }, nil
}

// InitWorkspace creates the .guildpay directory, the database and a default
// guildpay.yml. It refuses to overwrite an existing config.
func InitWorkspace(workspace string) (string, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return "", err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return "", err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return "", err
	}
	cfgPath := config.Path(workspace)
	if _, err := os.Stat(cfgPath); err == nil {
		return cfgPath, fmt.Errorf("config %s already exists", cfgPath)
	}
	if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
		return "", err
	}
	return cfgPath, nil
}
