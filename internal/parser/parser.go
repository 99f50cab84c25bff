package parser

import (
	"github.com/IshaanNene/scrapegoat-spiders/internal/types"
)

// Parser extracts records and the next page link from a fetched response.
type Parser interface {
	// Parse returns the page's records in document order and the raw
	// next-page link ("" when the page is the last one).
	Parse(resp *types.Response) ([]*types.Record, string, error)
}
