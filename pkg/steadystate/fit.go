package steadystate

// Line is y = Slope*x + Intercept.
type Line struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
}

// At evaluates the line at x.
func (l Line) At(x float64) float64 {
	return l.Slope*x + l.Intercept
}

// FitLine returns the ordinary least squares line through points, using the
// round as x and the value as y.
//
// With fewer than two distinct rounds the slope is undetermined; the fit is
// then the horizontal line through the mean value. For a window of one sample
// this is the line through that sample.
func FitLine(points []Point) Line {
	if len(points) == 0 {
		return Line{}
	}

	n := float64(len(points))
	var sumX, sumY float64
	for _, p := range points {
		sumX += float64(p.Round)
		sumY += p.Value
	}
	meanX, meanY := sumX/n, sumY/n

	// centered sums keep precision when rounds are large
	var sxx, sxy float64
	for _, p := range points {
		dx := float64(p.Round) - meanX
		sxx += dx * dx
		sxy += dx * (p.Value - meanY)
	}

	if sxx == 0 {
		return Line{Intercept: meanY}
	}

	slope := sxy / sxx
	return Line{
		Slope:     slope,
		Intercept: meanY - slope*meanX,
	}
}
