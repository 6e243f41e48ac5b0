// Package grids builds and reads scratch card faces.
package grids

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/scratchcards/internal/app/domain/card"
	"github.com/R3E-Network/scratchcards/internal/app/services/random"
	"github.com/R3E-Network/scratchcards/pkg/logger"
)

// Defaults for Settings.
const (
	DefaultPeerCellProbability = 0.30
	DefaultMaxRedraws          = 30
	DefaultMaxGridAttempts     = 5
)

// Settings tunes decoy placement.
type Settings struct {
	PeerCellProbability float64 // chance a decoy cell shows a peer, when a pool exists
	MaxRedraws          int     // per cell, before a third identical value is accepted
	MaxGridAttempts     int     // whole-grid rebuilds before giving up
}

// DefaultSettings returns the reference decoy policy.
func DefaultSettings() Settings {
	return Settings{
		PeerCellProbability: DefaultPeerCellProbability,
		MaxRedraws:          DefaultMaxRedraws,
		MaxGridAttempts:     DefaultMaxGridAttempts,
	}
}

// GenerateRequest describes one card face.
type GenerateRequest struct {
	Outcome      card.Outcome
	PrizeAsset   string
	DecoyAmounts []decimal.Decimal
	DecoyAssets  []string
	PeerPool     []card.Peer
}

// Result is a generated face and the row that carries the prize (-1 for NoWin).
type Result struct {
	Grid       card.Grid
	WinningRow int
}

// Generator lays out card faces.
type Generator struct {
	src      random.Source
	settings Settings
	log      *logger.Logger
}

// NewGenerator returns a generator. Zero settings fields take their defaults.
func NewGenerator(src random.Source, settings Settings, log *logger.Logger) *Generator {
	if settings.PeerCellProbability < 0 || settings.PeerCellProbability > 1 {
		settings.PeerCellProbability = DefaultPeerCellProbability
	}
	if settings.MaxRedraws <= 0 {
		settings.MaxRedraws = DefaultMaxRedraws
	}
	if settings.MaxGridAttempts <= 0 {
		settings.MaxGridAttempts = DefaultMaxGridAttempts
	}
	if log == nil {
		log = logger.NewDefault("grids")
	}
	return &Generator{src: src, settings: settings, log: log}
}

// Generate builds a face for req.Outcome. The winning row, if any, shows the
// prize on all three cells; every other cell is a decoy. A face that would
// show an unintended line is rebuilt, and after MaxGridAttempts the call fails
// with ErrUnintendedMatch.
func (g *Generator) Generate(req GenerateRequest) (Result, error) {
	expected, err := validate(req)
	if err != nil {
		return Result{}, err
	}

	var lastErr error
	for attempt := 1; attempt <= g.settings.MaxGridAttempts; attempt++ {
		res := g.build(req)
		lastErr = Verify(res.Grid, expected)
		if lastErr == nil {
			return res, nil
		}
		g.log.WithError(lastErr).
			WithField("attempt", attempt).
			WithField("outcome", expected.String()).
			Warn("generated grid rejected")
	}
	if errors.Is(lastErr, card.ErrUnintendedMatch) {
		return Result{}, fmt.Errorf("%w: %w", card.ErrConfiguration, lastErr)
	}
	return Result{}, lastErr
}

func validate(req GenerateRequest) (card.Outcome, error) {
	if len(req.DecoyAmounts) == 0 {
		return card.Outcome{}, fmt.Errorf("%w: decoy amounts are empty", card.ErrConfiguration)
	}
	if len(req.DecoyAssets) == 0 {
		return card.Outcome{}, fmt.Errorf("%w: decoy assets are empty", card.ErrConfiguration)
	}
	if err := req.Outcome.Validate(); err != nil {
		return card.Outcome{}, err
	}
	expected := req.Outcome
	switch expected.Kind {
	case card.KindPeerWin:
		if len(req.PeerPool) == 0 {
			return card.Outcome{}, fmt.Errorf("%w: peer win without a peer pool", card.ErrConfiguration)
		}
	case card.KindAmount:
		if req.PrizeAsset == "" {
			return card.Outcome{}, fmt.Errorf("%w: prize asset is empty", card.ErrConfiguration)
		}
		expected.Asset = req.PrizeAsset
	}
	return expected, nil
}

func (g *Generator) build(req GenerateRequest) Result {
	var grid card.Grid
	winningRow := -1

	switch req.Outcome.Kind {
	case card.KindAmount:
		winningRow = g.src.IntN(card.Rows)
		c := card.AmountCell(req.Outcome.Amount, req.PrizeAsset)
		grid.SetRow(winningRow, [card.Cols]card.Cell{c, c, c})
	case card.KindPeerWin:
		winningRow = g.src.IntN(card.Rows)
		p := req.PeerPool[g.src.IntN(len(req.PeerPool))]
		grid.SetRow(winningRow, [card.Cols]card.Cell{card.PeerCell(p), card.PeerCell(p), card.PeerCell(p)})
	}

	for r := 0; r < card.Rows; r++ {
		if r == winningRow {
			continue
		}
		grid.SetRow(r, g.decoyRow(req))
	}
	return Result{Grid: grid, WinningRow: winningRow}
}

// decoyRow fills three cells, redrawing any candidate that would be the third
// identical value in the row.
func (g *Generator) decoyRow(req GenerateRequest) [card.Cols]card.Cell {
	var row [card.Cols]card.Cell
	for i := 0; i < card.Cols; i++ {
		cand := g.decoyCell(req)
		for redraw := 0; redraw < g.settings.MaxRedraws && completesTriple(row[:i], cand); redraw++ {
			cand = g.decoyCell(req)
		}
		row[i] = cand
	}
	return row
}

func completesTriple(placed []card.Cell, cand card.Cell) bool {
	same := 0
	for _, c := range placed {
		if c.SameAs(cand) {
			same++
		}
	}
	return same >= card.Cols-1
}

func (g *Generator) decoyCell(req GenerateRequest) card.Cell {
	if len(req.PeerPool) > 0 && g.src.Float64() < g.settings.PeerCellProbability {
		return card.PeerCell(req.PeerPool[g.src.IntN(len(req.PeerPool))])
	}
	amount := req.DecoyAmounts[g.src.IntN(len(req.DecoyAmounts))]
	asset := req.DecoyAssets[g.src.IntN(len(req.DecoyAssets))]
	return card.AmountCell(amount, asset)
}
