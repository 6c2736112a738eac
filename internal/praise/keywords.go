package praise

import (
	"sort"

	"github.com/matheuscscp/praise-prison/internal/constants"
	"github.com/matheuscscp/praise-prison/internal/store"
)

// Keyword is one entry of the keyword cloud.
type Keyword struct {
	Keyword string
	Count   int
}

// Keywords counts the distinct keywords of praises, most frequent first and
// ties in order of first appearance. Without any praise the defaults are
// returned with a zero count.
func Keywords(praises []store.Praise) []Keyword {
	index := make(map[string]int)
	var out []Keyword
	for _, p := range praises {
		if p.Keyword == "" {
			continue
		}
		if i, ok := index[p.Keyword]; ok {
			out[i].Count++
			continue
		}
		index[p.Keyword] = len(out)
		out = append(out, Keyword{Keyword: p.Keyword, Count: 1})
	}
	if len(out) == 0 {
		for _, k := range constants.DefaultKeywords {
			out = append(out, Keyword{Keyword: k})
		}
		return out
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	return out
}
