// Package viz renders the structure of a document, tombstones and creation
// anchors included, as a graphviz SVG.
package viz

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/asadovsky/woot/server/woot"
)

// RenderSvg writes chars (structural order, sentinels included) to w. Solid
// edges follow structural order; dashed edges point from each character to
// the anchors it was created between.
func RenderSvg(chars []woot.Char, w io.Writer) error {
	g := graphviz.New()
	defer g.Close()
	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}
	defer graph.Close()
	graph.SetRankDir(cgraph.LRRank)

	nodes := make(map[woot.CharId]*cgraph.Node, len(chars))
	for _, c := range chars {
		n, err := graph.CreateNode(c.Id.String())
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		label := strconv.Quote(c.Value)
		if c.Id.IsSentinel() {
			label = c.Id.Site
		}
		n.SetLabel(fmt.Sprintf("%s\n%s", c.Id, label))
		if !c.Visible {
			n.SetFontColor("grey")
			n.SetColor("grey")
		}
		nodes[c.Id] = n
	}

	edges := 0
	edge := func(from, to *cgraph.Node) (*cgraph.Edge, error) {
		edges++
		e, err := graph.CreateEdge(strconv.Itoa(edges), from, to)
		if err != nil {
			return nil, fmt.Errorf("failed to create edge: %w", err)
		}
		return e, nil
	}
	for i := 1; i < len(chars); i++ {
		if _, err := edge(nodes[chars[i-1].Id], nodes[chars[i].Id]); err != nil {
			return err
		}
	}
	for _, c := range chars {
		if c.Id.IsSentinel() {
			continue
		}
		for _, anchor := range []woot.CharId{c.LeftId, c.RightId} {
			to, found := nodes[anchor]
			if !found {
				continue
			}
			e, err := edge(nodes[c.Id], to)
			if err != nil {
				return err
			}
			e.SetStyle(cgraph.DashedEdgeStyle)
			e.SetConstraint(false)
		}
	}

	var buff bytes.Buffer
	if err := g.Render(graph, graphviz.SVG, &buff); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	_, err = w.Write(buff.Bytes())
	return err
}
