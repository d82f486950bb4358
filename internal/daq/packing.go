package daq

import (
	"fmt"

	"github.com/Ultimaker/OpenTelepathy/internal/domain"
	"github.com/Ultimaker/OpenTelepathy/internal/xerr"
)

// packOdts greedily bins entries into ODTs so that no ODT's payload exceeds
// maxDTO, grounded on xcpclient.py's XcpDaq/XcpOdt which fill one Odt object
// until the next entry would overflow it before opening a new one. Every DTO
// carries a one-byte packet identifier ahead of its payload; the first ODT
// of a timestamped list also carries a four-byte target timestamp ahead of
// its entries (spec.md §4.6).
func packOdts(entries []domain.DaqEntry, maxDTO uint16, timestamped bool) ([][]domain.DaqEntry, error) {
	budgetFor := func(odtIdx int) int {
		b := int(maxDTO) - 1
		if timestamped && odtIdx == 0 {
			b -= 4
		}
		return b
	}

	var odts [][]domain.DaqEntry
	var current []domain.DaqEntry
	used := 0
	odtIdx := 0
	budget := budgetFor(odtIdx)

	for _, e := range entries {
		size := e.Symbol.Type.Size()
		if size > budget {
			return nil, xerr.New(xerr.Resource, "packOdts",
				fmt.Errorf("entry %q (%d bytes) does not fit in an ODT of %d bytes", e.Path, size, budget))
		}
		if len(current) > 0 && used+size > budget {
			odts = append(odts, current)
			odtIdx++
			current = nil
			used = 0
			budget = budgetFor(odtIdx)
		}
		current = append(current, e)
		used += size
	}
	if len(current) > 0 {
		odts = append(odts, current)
	}
	return odts, nil
}
