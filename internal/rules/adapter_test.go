package rules

import (
	"errors"
	"strings"
	"testing"
)

func TestApply_UCIMove(t *testing.T) {
	ad := New()
	res, err := ad.Apply(StartingFEN, "e2e4")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.UCI != "e2e4" {
		t.Fatalf("uci = %q, want e2e4", res.UCI)
	}
	if res.SAN != "e4" {
		t.Fatalf("san = %q, want e4", res.SAN)
	}
	if res.Turn != "black" {
		t.Fatalf("turn = %q, want black", res.Turn)
	}
	if res.Terminal != nil {
		t.Fatalf("unexpected terminal: %+v", res.Terminal)
	}
	if !strings.Contains(res.FEN, " b ") {
		t.Fatalf("fen side to move not black: %q", res.FEN)
	}
}

func TestApply_SANMove(t *testing.T) {
	ad := New()
	res, err := ad.Apply(StartingFEN, "Nf3")
	if err != nil {
		t.Fatalf("Apply SAN: %v", err)
	}
	if res.UCI != "g1f3" {
		t.Fatalf("uci = %q, want g1f3", res.UCI)
	}
}

func TestApply_IllegalMove(t *testing.T) {
	ad := New()
	for _, mv := range []string{"e2e5", "Ke2", "zzz", ""} {
		if _, err := ad.Apply(StartingFEN, mv); !errors.Is(err, ErrIllegalMove) {
			t.Fatalf("Apply(%q) err = %v, want ErrIllegalMove", mv, err)
		}
	}
}

func TestApply_BadFEN(t *testing.T) {
	ad := New()
	_, err := ad.Apply("not a position", "e2e4")
	if err == nil || errors.Is(err, ErrIllegalMove) {
		t.Fatalf("Apply bad fen err = %v, want adapter error", err)
	}
}

func TestApply_Checkmate(t *testing.T) {
	ad := New()
	fen := StartingFEN
	// Fool's mate.
	for _, mv := range []string{"f2f3", "e7e5", "g2g4"} {
		res, err := ad.Apply(fen, mv)
		if err != nil {
			t.Fatalf("Apply(%q): %v", mv, err)
		}
		if res.Terminal != nil {
			t.Fatalf("premature terminal after %q", mv)
		}
		fen = res.FEN
	}
	res, err := ad.Apply(fen, "d8h4")
	if err != nil {
		t.Fatalf("Apply mate: %v", err)
	}
	if res.Terminal == nil || res.Terminal.Kind != Checkmate {
		t.Fatalf("terminal = %+v, want checkmate", res.Terminal)
	}
	if res.Terminal.Winner != "black" {
		t.Fatalf("winner = %q, want black", res.Terminal.Winner)
	}
	if res.SAN != "Qh4#" {
		t.Fatalf("san = %q, want Qh4#", res.SAN)
	}
}

func TestApply_Stalemate(t *testing.T) {
	ad := New()
	// White queen traps the black king without check after Qf7.
	res, err := ad.Apply("7k/8/6K1/5Q2/8/8/8/8 w - - 0 1", "f5f7")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Terminal == nil || res.Terminal.Kind != Stalemate {
		t.Fatalf("terminal = %+v, want stalemate", res.Terminal)
	}
	if res.Terminal.Winner != "" {
		t.Fatalf("winner = %q, want none", res.Terminal.Winner)
	}
}
