// Command heightgrid-preview renders a terrain.TileUpdate as an
// interactive HTML heatmap and a PNG cross-section profile, for eyeballing
// the result of a fusion run without standing up the full admin UI.
//
// The tile update is read as JSON from stdin or a file, shaped like:
//
//	{"key":{"tx":0,"tz":0},"tile_size":32,"n":65,"heights":[...],"valid":[...]}
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"image/color"
	"log"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/fieldmesh/terrafuse/internal/terrain"
)

func main() {
	inPath := flag.String("in", "", "path to a tile update JSON file; empty reads stdin")
	htmlOut := flag.String("html", "heightgrid.html", "output path for the interactive heatmap")
	pngOut := flag.String("png", "heightgrid_profile.png", "output path for the cross-section PNG")
	profileRow := flag.Int("row", -1, "grid row to plot as a cross-section; -1 uses the middle row")
	flag.Parse()

	tile, err := loadTileUpdate(*inPath)
	if err != nil {
		log.Fatalf("load tile update: %v", err)
	}

	if err := renderHeatmap(tile, *htmlOut); err != nil {
		log.Fatalf("render heatmap: %v", err)
	}
	log.Printf("heightgrid-preview: wrote %s", *htmlOut)

	row := *profileRow
	if row < 0 {
		row = tile.N / 2
	}
	if err := renderProfile(tile, row, *pngOut); err != nil {
		log.Fatalf("render profile: %v", err)
	}
	log.Printf("heightgrid-preview: wrote %s", *pngOut)
}

func loadTileUpdate(path string) (*terrain.TileUpdate, error) {
	var r *os.File
	if path == "" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var t terrain.TileUpdate
	if err := json.NewDecoder(r).Decode(&t); err != nil {
		return nil, fmt.Errorf("decode tile update: %w", err)
	}
	if t.N*t.N != len(t.Heights) {
		return nil, fmt.Errorf("heights length %d does not match n=%d grid", len(t.Heights), t.N)
	}
	return &t, nil
}

// renderHeatmap writes an interactive go-echarts heatmap of the tile's
// height grid, with invalid cells omitted so unobserved terrain reads as
// blank rather than a misleading zero.
func renderHeatmap(t *terrain.TileUpdate, outPath string) error {
	data := make([]opts.HeatMapData, 0, len(t.Heights))
	minZ, maxZ := float32(0), float32(0)
	first := true
	for row := 0; row < t.N; row++ {
		for col := 0; col < t.N; col++ {
			idx := row*t.N + col
			if len(t.Valid) > idx && !t.Valid[idx] {
				continue
			}
			z := t.Heights[idx]
			data = append(data, opts.HeatMapData{Value: [3]interface{}{col, row, z}})
			if first || z < minZ {
				minZ = z
			}
			if first || z > maxZ {
				maxZ = z
			}
			first = false
		}
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Tile Height Grid", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Elevation Height Grid",
			Subtitle: fmt.Sprintf("tile=(%d,%d) size=%.1fm n=%d", t.Key.TX, t.Key.TZ, t.TileSize, t.N),
		}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Name: "x (grid)"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Name: "z (grid)"}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(minZ),
			Max:        float32(maxZ),
			InRange:    &opts.VisualMapInRange{Color: []string{"#313695", "#74add1", "#fed976", "#f46d43", "#a50026"}},
		}),
	)
	hm.AddSeries("height", data)

	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return hm.Render(f)
}

// renderProfile writes a PNG cross-section of one grid row, with invalid
// cells excluded from the plotted line so gaps show as breaks.
func renderProfile(t *terrain.TileUpdate, row int, outPath string) error {
	if row < 0 || row >= t.N {
		return fmt.Errorf("row %d out of range [0, %d)", row, t.N)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Height profile, row %d, tile (%d,%d)", row, t.Key.TX, t.Key.TZ)
	p.X.Label.Text = "x (grid column)"
	p.Y.Label.Text = "elevation (m)"

	pts := make(plotter.XYs, 0, t.N)
	for col := 0; col < t.N; col++ {
		idx := row*t.N + col
		if len(t.Valid) > idx && !t.Valid[idx] {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(col), Y: float64(t.Heights[idx])})
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("build profile line: %w", err)
	}
	line.Color = color.RGBA{R: 220, G: 90, B: 40, A: 255}
	line.Width = vg.Points(1.5)
	p.Add(line)

	return p.Save(10*vg.Inch, 4*vg.Inch, outPath)
}
