package fractal

import (
	"fmt"
	"sort"
	"strings"
)

// Region is a rectangle of the complex plane without a resolution.
type Region struct {
	Xmin, Xmax float64
	Ymin, Ymax float64
}

// Viewport maps r onto an xRes × yRes raster.
func (r Region) Viewport(xRes, yRes int) Viewport {
	return Viewport{
		MinX: r.Xmin,
		MaxX: r.Xmax,
		MinY: r.Ymin,
		MaxY: r.Ymax,
		XRes: xRes,
		YRes: yRes,
	}
}

// Classic regions / landmarks in the Mandelbrot set
var (
	// Home is the whole set, the window Viewport.Reset returns to.
	Home = Region{Xmin: HomeMinX, Xmax: HomeMaxX, Ymin: HomeMinY, Ymax: HomeMaxY}

	// Seahorse Valley – dense filaments and repeating “seahorse” curls
	SeahorseValley = Region{Xmin: -0.8, Xmax: -0.7, Ymin: 0.05, Ymax: 0.15}

	// Elephant Valley – large bulb with trunk-like tendrils
	ElephantValley = Region{Xmin: -1.85, Xmax: -1.75, Ymin: -0.10, Ymax: -0.02}

	// Spiral Minibrot – small Mandelbrot copy with tight spiral arms
	SpiralMinibrot = Region{Xmin: -0.7435, Xmax: -0.7420, Ymin: 0.1310, Ymax: 0.1325}

	// Triple Spiral – threefold symmetric spiral structure
	TripleSpiral = Region{Xmin: -0.7480, Xmax: -0.7450, Ymin: 0.0950, Ymax: 0.0980}

	// Valley of the Dragon – deep, highly detailed spiral filaments
	ValleyOfTheDragon = Region{Xmin: -0.7400, Xmax: -0.7350, Ymin: 0.1800, Ymax: 0.1850}

	// Minibrot in a Mini-Spiral – self-similar Mandelbrot copy inside a spiral arm
	MinibrotInMiniSpiral = Region{Xmin: -1.7390, Xmax: -1.7375, Ymin: -0.0235, Ymax: -0.0220}
)

var regions = map[string]Region{
	"home":            Home,
	"seahorse-valley": SeahorseValley,
	"elephant-valley": ElephantValley,
	"spiral-minibrot": SpiralMinibrot,
	"triple-spiral":   TripleSpiral,
	"dragon-valley":   ValleyOfTheDragon,
	"minibrot-spiral": MinibrotInMiniSpiral,
}

// LookupRegion finds a landmark by its command-line name.
func LookupRegion(name string) (Region, error) {
	r, ok := regions[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Region{}, fmt.Errorf("unknown region %q (known: %s)", name, strings.Join(RegionNames(), ", "))
	}
	return r, nil
}

// RegionNames lists the landmark names in sorted order.
func RegionNames() []string {
	names := make([]string, 0, len(regions))
	for n := range regions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
