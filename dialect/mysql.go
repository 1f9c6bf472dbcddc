package dialect

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/shrek82/jconn/config"
	"github.com/shrek82/jconn/dberr"
)

// MySQL backend
type mysqlBackend struct {
	base
}

func init() {
	d := &mysqlBackend{}
	d.base = base{quote: d.Quote}
	Register("mysql", d)
}

func (d *mysqlBackend) Vendor() string { return "mysql" }

func (d *mysqlBackend) Features() Features {
	return Features{UsesSavepoints: true}
}

func (d *mysqlBackend) Quote(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (d *mysqlBackend) ConnectionParams(s config.Settings) (Params, error) {
	cfg := mysql.NewConfig()
	cfg.User = s.User
	cfg.Passwd = s.Password
	cfg.DBName = s.Name
	cfg.ParseTime = true

	host := s.Host
	if host == "" {
		host = "localhost"
	}
	if strings.HasPrefix(host, "/") {
		cfg.Net = "unix"
		cfg.Addr = host
	} else {
		port := s.Port
		if port == 0 {
			port = 3306
		}
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	}

	if s.UseTZ {
		cfg.Loc = time.UTC
	}
	if len(s.Options) > 0 {
		cfg.Params = make(map[string]string, len(s.Options))
		for k, v := range s.Options {
			cfg.Params[k] = v
		}
	}

	dsn := cfg.FormatDSN()
	cfg.Passwd = ""
	return Params{Driver: "mysql", DSN: dsn, Display: cfg.FormatDSN()}, nil
}

func (d *mysqlBackend) Open(ctx context.Context, p Params) (*Handle, error) {
	return OpenHandle(ctx, p.Driver, p.DSN, BeginOnServer)
}

func (d *mysqlBackend) InitConnectionState(ctx context.Context, h *Handle, s config.Settings) error {
	// Keep "WHERE id IS NULL" from matching the last inserted row.
	return h.Probe(ctx, "SET SQL_AUTO_IS_NULL = 0")
}

func (d *mysqlBackend) SetAutocommit(ctx context.Context, h *Handle, autocommit bool) error {
	stmt := "SET autocommit = 0"
	if autocommit {
		stmt = "SET autocommit = 1"
	}
	if err := h.Probe(ctx, stmt); err != nil {
		return err
	}
	return h.setAutocommit(autocommit)
}

func (d *mysqlBackend) IsUsable(ctx context.Context, h *Handle) bool {
	return h.Ping(ctx) == nil
}

func (d *mysqlBackend) DisableConstraintChecking(ctx context.Context, h *Handle) (bool, error) {
	if err := h.Probe(ctx, "SET foreign_key_checks=0"); err != nil {
		return false, err
	}
	return true, nil
}

func (d *mysqlBackend) EnableConstraintChecking(ctx context.Context, h *Handle) error {
	return h.Probe(ctx, "SET foreign_key_checks=1")
}

// CheckConstraints is a no-op: InnoDB checks foreign keys on every statement
// unless they were disabled, and re-enabling doesn't re-validate old rows.
func (d *mysqlBackend) CheckConstraints(ctx context.Context, h *Handle, tables []string) error {
	return nil
}

var mysqlKinds = map[uint16]dberr.Kind{
	// integrity
	1022: dberr.KindIntegrity, 1048: dberr.KindIntegrity, 1062: dberr.KindIntegrity,
	1169: dberr.KindIntegrity, 1216: dberr.KindIntegrity, 1217: dberr.KindIntegrity,
	1451: dberr.KindIntegrity, 1452: dberr.KindIntegrity, 1557: dberr.KindIntegrity,
	1586: dberr.KindIntegrity, 3819: dberr.KindIntegrity,
	// data
	1264: dberr.KindData, 1265: dberr.KindData, 1292: dberr.KindData,
	1366: dberr.KindData, 1406: dberr.KindData, 1411: dberr.KindData,
	// operational
	1040: dberr.KindOperational, 1045: dberr.KindOperational, 1053: dberr.KindOperational,
	1205: dberr.KindOperational, 1213: dberr.KindOperational, 2006: dberr.KindOperational,
	2013: dberr.KindOperational,
	// programming
	1049: dberr.KindProgramming, 1054: dberr.KindProgramming, 1064: dberr.KindProgramming,
	1146: dberr.KindProgramming, 1305: dberr.KindProgramming,
	// not supported
	1235: dberr.KindNotSupported,
}

func (d *mysqlBackend) ClassifyError(err error) (dberr.Kind, string, bool) {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		code := strconv.Itoa(int(myErr.Number))
		if kind, ok := mysqlKinds[myErr.Number]; ok {
			return kind, code, true
		}
		return dberr.KindDatabase, code, true
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return dberr.KindOperational, "", true
	}
	kind, ok := classifyCommon(err)
	return kind, "", ok
}
