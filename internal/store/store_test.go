package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"jax-marketdata-core/internal/bars"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewFromDB(db), mock
}

func TestUpsertBarsEmptyGroupNoQuery(t *testing.T) {
	s, mock := newMockStore(t)
	if err := s.UpsertBars(context.Background(), bars.AssetKey{Market: "crypto", Provider: "binance", Symbol: "BTC/USD", Timeframe: "1m"}, nil); err != nil {
		t.Fatalf("UpsertBars: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected expectations: %v", err)
	}
}

func TestUpsertBarsCommitsOnSuccess(t *testing.T) {
	s, mock := newMockStore(t)
	key := bars.AssetKey{Market: "crypto", Provider: "binance", Symbol: "BTC/USD", Timeframe: "1m"}
	group := []bars.Bar{{Timestamp: 60000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}}

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO ohlcv_data")
	mock.ExpectExec("INSERT INTO ohlcv_data").
		WithArgs(key.Market, key.Provider, key.Symbol, key.Timeframe,
			group[0].Timestamp, group[0].Open, group[0].High, group[0].Low, group[0].Close, group[0].Volume).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.UpsertBars(context.Background(), key, group); err != nil {
		t.Fatalf("UpsertBars: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected expectations: %v", err)
	}
}

func TestUpsertBarsRollsBackOnExecError(t *testing.T) {
	s, mock := newMockStore(t)
	key := bars.AssetKey{Market: "crypto", Provider: "binance", Symbol: "BTC/USD", Timeframe: "1m"}
	group := []bars.Bar{{Timestamp: 60000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}}

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO ohlcv_data")
	mock.ExpectExec("INSERT INTO ohlcv_data").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	if err := s.UpsertBars(context.Background(), key, group); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected expectations: %v", err)
	}
}

func TestQueryBarsBuildsWhereClauseAndScans(t *testing.T) {
	s, mock := newMockStore(t)
	key := bars.AssetKey{Market: "crypto", Provider: "binance", Symbol: "BTC/USD", Timeframe: "1m"}
	since := int64(60000)
	before := int64(180000)

	rows := sqlmock.NewRows([]string{"timestamp", "open", "high", "low", "close", "volume"}).
		AddRow(int64(60000), 1.0, 2.0, 0.5, 1.5, 10.0).
		AddRow(int64(120000), 1.5, 2.5, 1.0, 2.0, 20.0)

	mock.ExpectQuery("SELECT timestamp, open, high, low, close, volume FROM ohlcv_data").
		WithArgs(key.Market, key.Provider, key.Symbol, key.Timeframe, since, before, 10).
		WillReturnRows(rows)

	out, err := s.QueryBars(context.Background(), key, &since, &before, 10)
	if err != nil {
		t.Fatalf("QueryBars: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d bars, want 2", len(out))
	}
	if out[0].Timestamp != 60000 || out[1].Timestamp != 120000 {
		t.Errorf("unexpected timestamps: %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected expectations: %v", err)
	}
}

func TestMinTimestampNoRowsReturnsFalse(t *testing.T) {
	s, mock := newMockStore(t)
	asset := bars.Asset{Market: "crypto", Provider: "binance", Symbol: "BTC/USD"}

	rows := sqlmock.NewRows([]string{"min"}).AddRow(nil)
	mock.ExpectQuery("SELECT MIN\\(timestamp\\) FROM ohlcv_data").
		WithArgs(asset.Market, asset.Provider, asset.Symbol).
		WillReturnRows(rows)

	_, ok, err := s.MinTimestamp(context.Background(), asset)
	if err != nil {
		t.Fatalf("MinTimestamp: %v", err)
	}
	if ok {
		t.Error("expected ok=false when no rows exist")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected expectations: %v", err)
	}
}

func TestMinTimestampReturnsValue(t *testing.T) {
	s, mock := newMockStore(t)
	asset := bars.Asset{Market: "crypto", Provider: "binance", Symbol: "BTC/USD"}

	rows := sqlmock.NewRows([]string{"min"}).AddRow(int64(42000))
	mock.ExpectQuery("SELECT MIN\\(timestamp\\) FROM ohlcv_data").
		WithArgs(asset.Market, asset.Provider, asset.Symbol).
		WillReturnRows(rows)

	min, ok, err := s.MinTimestamp(context.Background(), asset)
	if err != nil {
		t.Fatalf("MinTimestamp: %v", err)
	}
	if !ok || min != 42000 {
		t.Errorf("got (min=%d, ok=%v), want (42000, true)", min, ok)
	}
}

func TestQuoteIdentEscapesDoubleQuotes(t *testing.T) {
	got := quoteIdent(`weird"view`)
	want := `"weird""view"`
	if got != want {
		t.Errorf("quoteIdent: got %q, want %q", got, want)
	}
}
