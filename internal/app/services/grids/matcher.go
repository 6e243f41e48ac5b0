package grids

import (
	"fmt"

	"github.com/R3E-Network/scratchcards/internal/app/domain/card"
)

// RowMatch is a row whose three cells show the same value.
type RowMatch struct {
	Row  int
	Cell card.Cell
}

// MatchingRows returns every row whose three cells are identical, either the
// same (amount, asset) pair or the same peer.
func MatchingRows(g card.Grid) []RowMatch {
	var out []RowMatch
	for r := 0; r < card.Rows; r++ {
		row := g.Row(r)
		if row[0].SameAs(row[1]) && row[1].SameAs(row[2]) {
			out = append(out, RowMatch{Row: r, Cell: row[0]})
		}
	}
	return out
}

// FindWinningRow returns the first row that encodes outcome. NoWin never
// matches.
func FindWinningRow(g card.Grid, outcome card.Outcome) (int, bool) {
	for r := 0; r < card.Rows; r++ {
		row := g.Row(r)
		switch outcome.Kind {
		case card.KindAmount:
			if row[0].Encodes(outcome) && row[1].Encodes(outcome) && row[2].Encodes(outcome) {
				return r, true
			}
		case card.KindPeerWin:
			if row[0].IsPeer() && row[0].SameAs(row[1]) && row[1].SameAs(row[2]) {
				return r, true
			}
		default:
			return -1, false
		}
	}
	return -1, false
}

// RewardedPeer returns the peer on the winning row of a PeerWin card.
func RewardedPeer(g card.Grid, outcome card.Outcome) (card.Peer, bool) {
	if outcome.Kind != card.KindPeerWin {
		return card.Peer{}, false
	}
	r, ok := FindWinningRow(g, outcome)
	if !ok {
		return card.Peer{}, false
	}
	return *g[r*card.Cols].Peer, true
}

// Verify checks that g encodes outcome on exactly one row and that no other
// row shows three identical values.
func Verify(g card.Grid, outcome card.Outcome) error {
	matches := MatchingRows(g)
	if !outcome.IsWin() {
		if len(matches) > 0 {
			return fmt.Errorf("%w: row %d on a losing card", card.ErrUnintendedMatch, matches[0].Row)
		}
		return nil
	}

	row, ok := FindWinningRow(g, outcome)
	if !ok {
		return fmt.Errorf("%w: no row encodes %s", card.ErrInconsistentGrid, outcome)
	}
	for _, m := range matches {
		if m.Row != row {
			return fmt.Errorf("%w: row %d besides winning row %d", card.ErrUnintendedMatch, m.Row, row)
		}
	}
	return nil
}
