package pairparams

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultsSeeded(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "pairparams.json"), testLogger())

	if got := s.Get("BNBUSDT")[KeyMaxLeverage]; got != 8 {
		t.Errorf("BNBUSDT max_leverage = %v, want 8", got)
	}

	p := s.ParamsFor("BTCUSDT")
	want := Params{Priority: 2, MaxLeverage: 5, SLMultiplier: 1.3, TPMultiplier: 1.2, MinVolumeRatio: 1.0, ATRPeriod: 14}
	if p != want {
		t.Errorf("ParamsFor(BTCUSDT) = %+v, want %+v", p, want)
	}
}

func TestParamsForUnknownPair(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "pairparams.json"), testLogger())

	p := s.ParamsFor("DOGEUSDT")
	want := Params{Priority: 99, MaxLeverage: 5, SLMultiplier: 1.0, TPMultiplier: 1.0, MinVolumeRatio: 1.0, ATRPeriod: 14}
	if p != want {
		t.Errorf("ParamsFor(unknown) = %+v, want neutral %+v", p, want)
	}
}

func TestSetPersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairparams.json")

	s := NewStore(path, testLogger())
	s.Set("BTCUSDT", KeySLMultiplier, 1.5)
	s.Set("DOGEUSDT", KeyMaxLeverage, 3)

	reloaded := NewStore(path, testLogger())
	if got := reloaded.Get("BTCUSDT")[KeySLMultiplier]; got != 1.5 {
		t.Errorf("reloaded BTCUSDT sl_multiplier = %v, want 1.5", got)
	}
	if got := reloaded.Get("DOGEUSDT")[KeyMaxLeverage]; got != 3 {
		t.Errorf("reloaded DOGEUSDT max_leverage = %v, want 3", got)
	}
	// Untouched defaults survive the round trip.
	if got := reloaded.Get("BNBUSDT")[KeyMaxLeverage]; got != 8 {
		t.Errorf("reloaded BNBUSDT max_leverage = %v, want 8", got)
	}
}

func TestDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairparams.json")

	s := NewStore(path, testLogger())
	s.Set("DOGEUSDT", KeyMaxLeverage, 3)
	s.Delete("DOGEUSDT", KeyMaxLeverage)

	if got := s.Get("DOGEUSDT"); len(got) != 0 {
		t.Errorf("DOGEUSDT after delete = %v, want empty", got)
	}

	reloaded := NewStore(path, testLogger())
	if got := reloaded.Get("DOGEUSDT"); len(got) != 0 {
		t.Errorf("reloaded DOGEUSDT = %v, want empty", got)
	}
}

func TestSubscribe(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "pairparams.json"), testLogger())

	id, ch := s.Subscribe(4)
	s.Set("BTCUSDT", KeyTPMultiplier, 1.4)
	s.Delete("BTCUSDT", KeyTPMultiplier)

	e := <-ch
	if e.Type != "set" || e.Pair != "BTCUSDT" || e.Key != KeyTPMultiplier || e.Value != 1.4 {
		t.Errorf("first event = %+v, want set BTCUSDT tp_multiplier 1.4", e)
	}
	e = <-ch
	if e.Type != "delete" || e.Pair != "BTCUSDT" || e.Key != KeyTPMultiplier {
		t.Errorf("second event = %+v, want delete BTCUSDT tp_multiplier", e)
	}

	s.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("channel still open after Unsubscribe")
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "pairparams.json"), testLogger())

	id, ch := s.Subscribe(1)
	defer s.Unsubscribe(id)

	s.Set("BTCUSDT", KeySLMultiplier, 1.1)
	s.Set("BTCUSDT", KeySLMultiplier, 1.2)

	e := <-ch
	if e.Value != 1.1 {
		t.Errorf("buffered event value = %v, want 1.1", e.Value)
	}
	select {
	case e := <-ch:
		t.Errorf("expected second event dropped, got %+v", e)
	default:
	}
}

func TestSnapshotEventAndIsolation(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "pairparams.json"), testLogger())

	e := s.SnapshotEvent()
	if e.Type != "snapshot" {
		t.Errorf("event type = %q, want snapshot", e.Type)
	}
	if _, ok := e.Data["BNBUSDT"]; !ok {
		t.Error("snapshot missing BNBUSDT defaults")
	}

	// Mutating the snapshot must not touch the store.
	e.Data["BNBUSDT"][KeyMaxLeverage] = 99
	if got := s.Get("BNBUSDT")[KeyMaxLeverage]; got != 8 {
		t.Errorf("store mutated through snapshot: max_leverage = %v, want 8", got)
	}
}
