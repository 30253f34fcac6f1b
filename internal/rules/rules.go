// Package rules adapts corentings/chess to the session engine: it validates a
// candidate move against a position and reports the resulting terminal status.
package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var (
	ErrIllegalMove = errors.New("illegal move")
	ErrBadPosition = errors.New("position cannot be reconstructed")
)

// Status is the terminal state of a position after a move.
type Status string

const (
	Ongoing   Status = ""
	Checkmate Status = "checkmate"
	Stalemate Status = "stalemate"
	DrawRule  Status = "draw-rule"
)

// Move is a from/to square pair with optional promotion piece (q, r, b, n).
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// UCI renders the move in long algebraic form, e.g. e7e8q.
func (m Move) UCI() string {
	return strings.ToLower(strings.TrimSpace(m.From) + strings.TrimSpace(m.To) + strings.TrimSpace(m.Promotion))
}

// Position is the replayable game state: the move history from the start position.
// FEN is carried for presentation only.
type Position struct {
	FEN     string
	History []string
}

// Result is the outcome of an accepted move.
type Result struct {
	FEN     string
	UCI     string
	SAN     string
	Mover   string // white | black
	Turn    string // side to move after the move
	Status  Status
	Winner  string // white | black | draw, set when Status != Ongoing
	Method  string // library termination method, lower-case
	History []string
}

// Validator checks and applies moves.
type Validator interface {
	Apply(pos Position, mv Move) (Result, error)
}

// Chess is the corentings/chess backed Validator.
type Chess struct{}

func NewChess() Chess { return Chess{} }

func (Chess) Apply(pos Position, mv Move) (Result, error) {
	game, err := replay(pos.History)
	if err != nil {
		return Result{}, err
	}
	uci := mv.UCI()
	if len(uci) < 4 {
		return Result{}, fmt.Errorf("%w: %q", ErrIllegalMove, uci)
	}
	before := game.Position()
	mover := colorName(before.Turn())
	if err := game.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}
	moves := game.Moves()
	if len(moves) == 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}
	last := moves[len(moves)-1]

	res := Result{
		FEN:     game.FEN(),
		UCI:     uci,
		SAN:     nchess.AlgebraicNotation{}.Encode(before, last),
		Mover:   mover,
		Turn:    colorName(game.Position().Turn()),
		History: append(append([]string(nil), pos.History...), uci),
	}
	res.Status, res.Winner = classify(game.Outcome(), game.Method())
	if res.Status != Ongoing {
		res.Method = strings.ToLower(game.Method().String())
	}
	return res, nil
}

func classify(outcome nchess.Outcome, method nchess.Method) (Status, string) {
	switch outcome {
	case nchess.WhiteWon:
		return Checkmate, "white"
	case nchess.BlackWon:
		return Checkmate, "black"
	case nchess.Draw:
		if method == nchess.Stalemate {
			return Stalemate, "draw"
		}
		return DrawRule, "draw"
	default:
		return Ongoing, ""
	}
}

// replay rebuilds a game from the start position; applying stored UCI moves
// keeps repetition history intact.
func replay(history []string) (*nchess.Game, error) {
	game := nchess.NewGame()
	for i, mv := range history {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("%w: ply %d (%s): %v", ErrBadPosition, i+1, mv, err)
		}
	}
	return game, nil
}

func colorName(c nchess.Color) string {
	if c == nchess.White {
		return "white"
	}
	return "black"
}
