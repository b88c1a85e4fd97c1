package network

import (
	"strconv"
	"strings"

	"github.com/Faultbox/tilestream/pkg/tile"
)

// Template expands slippy-map style URL patterns.
//
// Supported placeholders: {s} subdomain, {z}, {x}, {y} north-origin row and {-y}
// south-origin row.
type Template struct {
	Pattern    string
	Subdomains []string
}

// URL expands the template for a coord in scheme s. Subdomains are picked by
// (x+y) mod len(Subdomains) so neighbouring tiles spread across hosts.
func (t Template) URL(c tile.Coord, s tile.Scheme) string {
	sub := ""
	if n := len(t.Subdomains); n > 0 {
		sub = t.Subdomains[(uint64(c.X)+uint64(c.Y))%uint64(n)]
	}
	r := strings.NewReplacer(
		"{s}", sub,
		"{z}", strconv.FormatUint(uint64(c.Z), 10),
		"{x}", strconv.FormatUint(uint64(c.X), 10),
		"{-y}", strconv.FormatUint(uint64(s.TMSY(c)), 10),
		"{y}", strconv.FormatUint(uint64(s.XYZY(c)), 10),
	)
	return r.Replace(t.Pattern)
}
