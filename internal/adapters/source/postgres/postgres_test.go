package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/ladder/internal/adapters/tunnel"
	"github.com/okian/ladder/internal/domain/model"
)

func TestPoolConfig(t *testing.T) {
	Convey("Given discrete endpoint fields", t, func() {
		ep := Endpoint{
			Host:             "db.internal",
			Name:             "events",
			User:             "reader",
			Password:         "p@ss:w/rd",
			SSLMode:          "disable",
			SearchPath:       "analytics,public",
			StatementTimeout: 90 * time.Second,
		}

		cfg, err := ep.poolConfig()

		Convey("Then the password survives escaping and defaults apply", func() {
			So(err, ShouldBeNil)
			cc := cfg.ConnConfig
			So(cc.Host, ShouldEqual, "db.internal")
			So(cc.Port, ShouldEqual, uint16(5432))
			So(cc.Database, ShouldEqual, "events")
			So(cc.User, ShouldEqual, "reader")
			So(cc.Password, ShouldEqual, "p@ss:w/rd")
			So(cc.ConnectTimeout, ShouldEqual, defaultConnectTimeout)
			So(cc.RuntimeParams["TimeZone"], ShouldEqual, "UTC")
			So(cc.RuntimeParams["search_path"], ShouldEqual, "analytics,public")
			So(cc.RuntimeParams["statement_timeout"], ShouldEqual, "90000")
		})
	})

	Convey("Given a DSN", t, func() {
		ep := Endpoint{DSN: "postgres://u:p@h:6543/d?sslmode=disable", Host: "ignored", ConnectTimeout: 5 * time.Second}

		cfg, err := ep.poolConfig()

		Convey("Then the DSN wins over discrete fields", func() {
			So(err, ShouldBeNil)
			So(cfg.ConnConfig.Host, ShouldEqual, "h")
			So(cfg.ConnConfig.Port, ShouldEqual, uint16(6543))
			So(cfg.ConnConfig.ConnectTimeout, ShouldEqual, 5*time.Second)
			_, ok := cfg.ConnConfig.RuntimeParams["search_path"]
			So(ok, ShouldBeFalse)
		})
	})

	Convey("Given an unparseable DSN", t, func() {
		_, err := Endpoint{DSN: "postgres://u:p@h:notaport/d"}.poolConfig()
		So(err, ShouldNotBeNil)
	})
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	Convey("Given errors from the driver", t, func() {
		ctx := context.Background()

		cases := []struct {
			name string
			err  error
			want error
		}{
			{"connection exception", &pgconn.PgError{Code: "08006"}, model.ErrConnection},
			{"auth failure", &pgconn.PgError{Code: "28P01"}, model.ErrConnection},
			{"serialization failure", &pgconn.PgError{Code: "40001"}, model.ErrConnection},
			{"too many connections", &pgconn.PgError{Code: "53300"}, model.ErrConnection},
			{"admin shutdown", &pgconn.PgError{Code: "57P01"}, model.ErrConnection},
			{"statement timeout", &pgconn.PgError{Code: "57014"}, model.ErrQuery},
			{"syntax error", &pgconn.PgError{Code: "42601"}, model.ErrQuery},
			{"undefined column", &pgconn.PgError{Code: "42703"}, model.ErrQuery},
			{"tunnel down", fmt.Errorf("%w: ssh refused", tunnel.ErrTunnel), model.ErrConnection},
			{"eof", io.ErrUnexpectedEOF, model.ErrConnection},
			{"net timeout", timeoutErr{}, model.ErrConnection},
			{"reset", errors.New("read: connection reset by peer"), model.ErrConnection},
			{"other", errors.New("cannot scan"), model.ErrQuery},
		}

		for _, tc := range cases {
			Convey("When the error is "+tc.name, func() {
				got := classify(ctx, "activity", tc.err)
				So(errors.Is(got, tc.want), ShouldBeTrue)
				So(errors.Is(got, tc.err), ShouldBeTrue)
				So(got.Error(), ShouldContainSubstring, "activity")
			})
		}
	})

	Convey("Given a tunnel credential error", t, func() {
		err := classify(context.Background(), "identity", fmt.Errorf("%w: bad key", tunnel.ErrCredentials))

		Convey("Then it is neither retryable nor a query failure", func() {
			So(errors.Is(err, tunnel.ErrCredentials), ShouldBeTrue)
			So(errors.Is(err, model.ErrConnection), ShouldBeFalse)
			So(errors.Is(err, model.ErrQuery), ShouldBeFalse)
		})
	})

	Convey("Given a cancelled context", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := classify(ctx, "activity", &pgconn.PgError{Code: "08006"})

		Convey("Then the error is left unclassified", func() {
			So(errors.Is(err, model.ErrConnection), ShouldBeFalse)
		})
	})

	Convey("Given no error", t, func() {
		So(classify(context.Background(), "activity", nil), ShouldBeNil)
	})
}

func TestSourceUnknownDatabase(t *testing.T) {
	Convey("Given a source with no endpoints", t, func() {
		s := New(nil)
		defer s.Close()

		_, err := s.Fetch(context.Background(), "nowhere", "SELECT 1")

		Convey("Then the fetch fails without retry", func() {
			So(errors.Is(err, model.ErrQuery), ShouldBeTrue)
		})
	})
}
