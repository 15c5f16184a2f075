package monitor

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/arplace/internal/httputil"
	"github.com/banshee-data/arplace/internal/placement"
	"github.com/banshee-data/arplace/internal/planes"
)

var alignmentColors = map[planes.Alignment]color.RGBA{
	planes.HorizontalUp:   {R: 0x35, G: 0xb7, B: 0x79, A: 0xff},
	planes.HorizontalDown: {R: 0x3e, G: 0x49, B: 0x89, A: 0xff},
	planes.Vertical:       {R: 0xfd, G: 0xe7, B: 0x25, A: 0xff},
	planes.NotAxisAligned: {R: 0x99, G: 0x99, B: 0x99, A: 0xff},
}

// handlePlanesChart renders a top-down scatter of plane centres (X/Z),
// one series per alignment, sized by area.
func (ws *WebServer) handlePlanesChart(w http.ResponseWriter, r *http.Request) {
	if ws.planes == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no plane registry")
		return
	}
	snap := ws.planes.Snapshot()

	series := make(map[planes.Alignment][]opts.ScatterData)
	for p := range snap.All() {
		series[p.Alignment] = append(series[p.Alignment], opts.ScatterData{
			Name:       string(p.ID),
			Value:      []interface{}{p.Center.X(), p.Center.Z(), p.Area()},
			SymbolSize: 6 + int(4*p.Area()),
		})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Tracked planes", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Tracked planes", Subtitle: fmt.Sprintf("version=%d planes=%d", snap.Version(), snap.Len())}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Z (m)", NameLocation: "middle", NameGap: 30}),
	)
	for _, a := range []planes.Alignment{planes.HorizontalUp, planes.HorizontalDown, planes.Vertical, planes.NotAxisAligned} {
		if data := series[a]; len(data) > 0 {
			scatter.AddSeries(string(a), data)
		}
	}
	if ws.session != nil {
		if p, ok := ws.session.CommittedPose(); ok {
			scatter.AddSeries("committed", []opts.ScatterData{{
				Name:       string(p.SourcePlaneID),
				Value:      []interface{}{p.Position.X(), p.Position.Z(), 0},
				Symbol:     "diamond",
				SymbolSize: 14,
			}})
		}
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (ws *WebServer) handlePlanesPNG(w http.ResponseWriter, r *http.Request) {
	if ws.planes == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no plane registry")
		return
	}
	var marker *placement.PlacementPose
	if ws.session != nil {
		if p, ok := ws.session.CommittedPose(); ok {
			marker = &p
		} else if p, ok := ws.session.CandidatePose(); ok {
			marker = &p
		}
	}
	var buf bytes.Buffer
	if err := WritePlaneMapPNG(&buf, ws.planes.Snapshot(), marker); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

// WritePlaneMapPNG draws a top-down (X/Z) map of the live plane outlines
// and, when marker is non-nil, the placement position.
func WritePlaneMapPNG(w io.Writer, snap *planes.Snapshot, marker *placement.PlacementPose) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Tracked planes (v%d)", snap.Version())
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Z (m)"
	p.Add(plotter.NewGrid())

	for tp := range snap.All() {
		ring := tp.Polygon()
		pts := make(plotter.XYs, 0, len(ring))
		for _, v := range ring {
			wp := tp.ToWorld(v[0], v[1])
			pts = append(pts, plotter.XY{X: wp.X(), Y: wp.Z()})
		}
		poly, err := plotter.NewPolygon(pts)
		if err != nil {
			return fmt.Errorf("plane %s outline: %w", tp.ID, err)
		}
		c := alignmentColors[tp.Alignment]
		poly.LineStyle.Color = c
		poly.LineStyle.Width = vg.Points(1)
		c.A = 0x40
		poly.Color = c
		p.Add(poly)
		p.Legend.Add(string(tp.ID), poly)
	}

	if marker != nil {
		s, err := plotter.NewScatter(plotter.XYs{{X: marker.Position.X(), Y: marker.Position.Z()}})
		if err != nil {
			return fmt.Errorf("marker: %w", err)
		}
		s.GlyphStyle.Shape = draw.CrossGlyph{}
		s.GlyphStyle.Radius = vg.Points(6)
		s.GlyphStyle.Color = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
		p.Add(s)
	}

	if snap.Len() == 0 && marker == nil {
		p.X.Min, p.X.Max = -1, 1
		p.Y.Min, p.Y.Max = -1, 1
	}

	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render plane map: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
