// Package jconn manages single database connections: lifecycle, autocommit
// and atomic blocks, savepoints, on-commit hooks and health recycling.
package jconn

import (
	"github.com/shrek82/jconn/config"
	"github.com/shrek82/jconn/core"
	"github.com/shrek82/jconn/dberr"
	"github.com/shrek82/jconn/pool"
)

// Re-export core types and functions
type Wrapper = core.Wrapper
type Cursor = core.Cursor
type Option = core.Option
type Settings = config.Settings
type Config = config.Config
type Handler = pool.Handler

var (
	New  = core.New
	Open = core.Open

	WithThreadSharing = core.WithThreadSharing
	WithLogger        = core.WithLogger
	WithObserver      = core.WithObserver
	WithoutSavepoint  = core.WithoutSavepoint

	LoadConfig      = config.Load
	NewHandler      = pool.New
	DefaultSettings = config.Defaults
)

// Re-export error sentinels
var (
	ErrImproperlyConfigured  = dberr.ErrImproperlyConfigured
	ErrTransactionManagement = dberr.ErrTransactionManagement
	ErrConnectionState       = dberr.ErrConnectionState
	ErrDatabase              = dberr.ErrDatabase
	ErrCommitHook            = core.ErrCommitHook
)
