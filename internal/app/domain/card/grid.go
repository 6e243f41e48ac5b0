package card

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Card face geometry: 4 rows of 3 cells, stored row-major.
const (
	Rows = 4
	Cols = 3
	Size = Rows * Cols
)

// Peer is another player who can appear on a card face or receive a free card.
type Peer struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
	WalletRef   string `json:"wallet_ref,omitempty"`
}

// Cell is one position on the card face. It is either an amount cell
// (Asset set, Peer nil) or a peer cell (Peer set, Asset empty, Amount zero).
type Cell struct {
	Amount decimal.Decimal `json:"amount"`
	Asset  string          `json:"asset,omitempty"`
	Peer   *Peer           `json:"peer,omitempty"`
}

// AmountCell builds an amount cell.
func AmountCell(amount decimal.Decimal, asset string) Cell {
	return Cell{Amount: amount, Asset: asset}
}

// PeerCell builds a peer cell. The peer is copied.
func PeerCell(p Peer) Cell {
	return Cell{Amount: decimal.Zero, Peer: &p}
}

// IsPeer reports whether the cell shows a peer.
func (c Cell) IsPeer() bool { return c.Peer != nil }

// SameAs reports whether two cells show the same value: the same peer identity,
// or the same (amount, asset) pair with the asset compared case-insensitively.
func (c Cell) SameAs(other Cell) bool {
	if c.IsPeer() || other.IsPeer() {
		return c.IsPeer() && other.IsPeer() && c.Peer.ID == other.Peer.ID
	}
	return c.Amount.Equal(other.Amount) && strings.EqualFold(c.Asset, other.Asset)
}

// Encodes reports whether the cell displays the given amount outcome.
func (c Cell) Encodes(o Outcome) bool {
	if o.Kind != KindAmount || c.IsPeer() {
		return false
	}
	return c.Amount.Equal(o.Amount) && strings.EqualFold(c.Asset, o.Asset)
}

// Grid is the 3x4 card face.
type Grid [Size]Cell

// Row returns the three cells of row r.
func (g Grid) Row(r int) [Cols]Cell {
	var row [Cols]Cell
	copy(row[:], g[r*Cols:(r+1)*Cols])
	return row
}

// SetRow overwrites row r with cells.
func (g *Grid) SetRow(r int, cells [Cols]Cell) {
	copy(g[r*Cols:(r+1)*Cols], cells[:])
}

// Clone deep-copies the grid, including peer pointers.
func (g Grid) Clone() Grid {
	out := g
	for i := range out {
		if out[i].Peer != nil {
			p := *out[i].Peer
			out[i].Peer = &p
		}
	}
	return out
}
