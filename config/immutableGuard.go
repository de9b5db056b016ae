package config

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrImmutableGroup is returned for any UPDATE/DELETE against group rows.
var ErrImmutableGroup = errors.New("groups are immutable once created")

// immutableTables lists tables that are append-only: a grouping run writes them once
// and nothing revisits them.
//
// NOTE:
// - This does NOT apply to Raw/Exec SQL. Operators purging data must do so explicitly.
var immutableTables = map[string]bool{
	"goods_groups": true,
	"group_lines":  true,
}

// ImmutableGroupPlugin rejects gorm updates and deletes on groups and their lines.
type ImmutableGroupPlugin struct{}

func NewImmutableGroupPlugin() *ImmutableGroupPlugin { return &ImmutableGroupPlugin{} }

func (p *ImmutableGroupPlugin) Name() string { return "immutable_group_guard" }

func (p *ImmutableGroupPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Update().Before("gorm:update").Register("immutable_group_guard:update", immutableGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("immutable_group_guard:delete", immutableGuardCallback); err != nil {
		return err
	}
	return nil
}

func immutableGuardCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	table := db.Statement.Table
	if table == "" && db.Statement.Schema != nil {
		table = db.Statement.Schema.Table
	}
	if !immutableTables[table] {
		return
	}
	_ = db.AddError(fmt.Errorf("%w (table=%s)", ErrImmutableGroup, table))
}
