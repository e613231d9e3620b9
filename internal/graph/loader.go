package graph

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// LoadAdjacencyList reads the sample-program input format: each line is
// "<src_vid> (<neigh_vid> [<edge_weight>])*", whitespace-separated. It is a
// cmd/gasrun concern only — the core never parses this format, it only
// consumes the resulting Graph.
//
// newVertexData supplies each newly-seen vertex's initial data. tokensPerEdge
// is 1 when neighbours carry no weight token (parseEdge's weightTok argument
// is then always "") or 2 when every neighbour is followed by a weight token.
// Unlike the original sample-program loaders, which call add_edge in a loop
// and silently ignore its boolean return, every rejected edge here is
// aggregated into the returned error instead of being dropped.
func LoadAdjacencyList[VD, ED any](
	r io.Reader,
	tokensPerEdge int,
	newVertexData func(id int) VD,
	parseEdge func(farTok, weightTok string) (ED, error),
) (*Graph[VD, ED], error) {
	if tokensPerEdge != 1 && tokensPerEdge != 2 {
		return nil, fmt.Errorf("graph: tokensPerEdge must be 1 or 2, got %d", tokensPerEdge)
	}

	g := New[VD, ED]()
	var errs error

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		toks := strings.Fields(line)

		src, err := strconv.Atoi(toks[0])
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("line %d: invalid source vertex %q: %w", lineNo, toks[0], err))
			continue
		}
		if !g.occupied(src) {
			g.AddVertex(src, newVertexData(src))
		}

		rest := toks[1:]
		for i := 0; i < len(rest); i += tokensPerEdge {
			farTok := rest[i]
			far, err := strconv.Atoi(farTok)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("line %d: invalid neighbour %q: %w", lineNo, farTok, err))
				continue
			}
			weightTok := ""
			if tokensPerEdge == 2 {
				if i+1 >= len(rest) {
					errs = multierror.Append(errs, fmt.Errorf("line %d: neighbour %d missing its weight token", lineNo, far))
					continue
				}
				weightTok = rest[i+1]
			}

			if !g.occupied(far) {
				g.AddVertex(far, newVertexData(far))
			}
			data, err := parseEdge(farTok, weightTok)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("line %d: parse edge to %d: %w", lineNo, far, err))
				continue
			}
			if !g.AddEdge(src, far, data) {
				errs = multierror.Append(errs, fmt.Errorf("line %d: AddEdge(%d, %d) rejected", lineNo, src, far))
			}
		}
	}
	if err := scanner.Err(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("scan input: %w", err))
	}

	return g, errs
}
