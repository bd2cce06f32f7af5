package transform

import (
	"errors"
	"fmt"
	"math"

	"BrentBreaks/internal/domain/models"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrSeriesTooShort is returned when the ADF regression has no degrees of freedom.
var ErrSeriesTooShort = errors.New("series too short for unit-root test")

// MacKinnon (1994, 2010) response-surface coefficients for the constant-only
// regression with one integrated variable.
var (
	tauMax    = 2.74
	tauMin    = -18.83
	tauStar   = -1.61
	tauSmallP = []float64{2.1659, 1.4412, 0.038269}
	tauLargeP = []float64{1.7339, 0.93202, -0.12745, -0.010368}
	tauCrit   = map[string][]float64{
		"1%":  {-3.43035, -6.5393, -16.786, -79.433},
		"5%":  {-2.86154, -2.8903, -4.234, -40.040},
		"10%": {-2.56677, -1.5384, -2.809, 0},
	}
)

// ADFResult is the raw outcome of one Augmented Dickey-Fuller regression.
type ADFResult struct {
	Statistic      float64
	PValue         float64
	UsedLag        int
	Observations   int
	CriticalValues map[string]float64
}

// SchwertMaxLag is the default upper bound on the lag order: ceil(12*(n/100)^(1/4)).
func SchwertMaxLag(n int) int {
	return int(math.Ceil(12 * math.Pow(float64(n)/100, 0.25)))
}

// ADF runs the test with a constant term. The lag order is chosen by AIC over
// 0..maxLag on a common sample; maxLag < 0 selects the Schwert bound.
func ADF(x []float64, maxLag int) (ADFResult, error) {
	n := len(x)
	if maxLag < 0 {
		maxLag = SchwertMaxLag(n)
	}
	if bound := n/2 - 2; maxLag > bound {
		maxLag = bound
	}
	if maxLag < 0 || n < 6 {
		return ADFResult{}, ErrSeriesTooShort
	}

	dx := make([]float64, n-1)
	for i := 1; i < n; i++ {
		dx[i-1] = x[i] - x[i-1]
	}

	bestLag, bestAIC := 0, math.Inf(1)
	design, y := adfDesign(x, dx, maxLag, maxLag)
	rows, _ := design.Dims()
	for lag := 0; lag <= maxLag; lag++ {
		fit, err := ols(design.Slice(0, rows, 0, lag+2), y)
		if err != nil {
			continue
		}
		if fit.aic < bestAIC {
			bestAIC, bestLag = fit.aic, lag
		}
	}
	if math.IsInf(bestAIC, 1) {
		return ADFResult{}, fmt.Errorf("unit-root regression is singular for every lag up to %d", maxLag)
	}

	design, y = adfDesign(x, dx, bestLag, bestLag)
	fit, err := ols(design, y)
	if err != nil {
		return ADFResult{}, fmt.Errorf("unit-root regression at lag %d: %w", bestLag, err)
	}
	stat := fit.beta[1] / fit.se[1]
	nobs := len(y)
	return ADFResult{
		Statistic:      stat,
		PValue:         MacKinnonP(stat),
		UsedLag:        bestLag,
		Observations:   nobs,
		CriticalValues: CriticalValues(nobs),
	}, nil
}

// adfDesign builds [1, x_{t-1}, dx_{t-1}..dx_{t-lags}] against dx_t, starting
// the sample after skip lags so that fits with different orders share rows.
func adfDesign(x, dx []float64, lags, skip int) (*mat.Dense, []float64) {
	rows := len(dx) - skip
	cols := lags + 2
	design := mat.NewDense(rows, cols, nil)
	y := make([]float64, rows)
	for r := 0; r < rows; r++ {
		t := r + skip
		y[r] = dx[t]
		design.Set(r, 0, 1)
		design.Set(r, 1, x[t])
		for j := 1; j <= lags; j++ {
			design.Set(r, j+1, dx[t-j])
		}
	}
	return design, y
}

type olsFit struct {
	beta []float64
	se   []float64
	aic  float64
}

func ols(x mat.Matrix, yv []float64) (olsFit, error) {
	n, k := x.Dims()
	if n <= k {
		return olsFit{}, ErrSeriesTooShort
	}
	y := mat.NewVecDense(n, yv)

	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	var inv mat.Dense
	if err := inv.Inverse(&xtx); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return olsFit{}, err
		}
	}
	var xty mat.VecDense
	xty.MulVec(x.T(), y)
	var beta mat.VecDense
	beta.MulVec(&inv, &xty)

	var fitted mat.VecDense
	fitted.MulVec(x, &beta)
	ssr := 0.0
	for i := 0; i < n; i++ {
		r := yv[i] - fitted.AtVec(i)
		ssr += r * r
	}
	if ssr <= 0 {
		return olsFit{}, errors.New("perfect fit")
	}

	fn := float64(n)
	sigma2 := ssr / float64(n-k)
	fit := olsFit{beta: make([]float64, k), se: make([]float64, k)}
	for j := 0; j < k; j++ {
		fit.beta[j] = beta.AtVec(j)
		fit.se[j] = math.Sqrt(sigma2 * inv.At(j, j))
	}
	llf := -fn / 2 * (math.Log(2*math.Pi) + math.Log(ssr/fn) + 1)
	fit.aic = -2*llf + 2*float64(k)
	return fit, nil
}

// MacKinnonP approximates the p-value of an ADF statistic.
func MacKinnonP(stat float64) float64 {
	if stat > tauMax {
		return 1
	}
	if stat < tauMin {
		return 0
	}
	coef := tauLargeP
	if stat <= tauStar {
		coef = tauSmallP
	}
	z, pow := 0.0, 1.0
	for _, c := range coef {
		z += c * pow
		pow *= stat
	}
	return distuv.UnitNormal.CDF(z)
}

// CriticalValues returns the finite-sample 1%, 5% and 10% critical values.
func CriticalValues(nobs int) map[string]float64 {
	inv := 1 / float64(nobs)
	out := make(map[string]float64, len(tauCrit))
	for level, c := range tauCrit {
		out[level] = c[0] + c[1]*inv + c[2]*inv*inv + c[3]*inv*inv*inv
	}
	return out
}

// Stationarity tests raw prices, log prices and log returns and chooses the
// modelling domain. A non-auto override replaces the automatic choice.
func Stationarity(t Transformed, threshold float64, maxLag int, override models.Domain) models.StationarityReport {
	report := models.StationarityReport{Threshold: threshold}
	for _, d := range []models.Domain{models.DomainPrice, models.DomainLogPrice, models.DomainLogReturn} {
		res := models.StationarityResult{Domain: d}
		out, err := ADF(t.column(d), maxLag)
		if err != nil {
			res.PValue = 1
			res.Error = err.Error()
		} else {
			res.Statistic = out.Statistic
			res.PValue = out.PValue
			res.UsedLag = out.UsedLag
			res.Observations = out.Observations
			res.CriticalValues = out.CriticalValues
			res.Stationary = out.PValue <= threshold
		}
		report.Results = append(report.Results, res)
	}
	report.Chosen = ChooseDomain(report, threshold)
	if override != "" && override != models.DomainAuto {
		report.Chosen = override
		report.Override = true
	}
	return report
}

// ChooseDomain picks log returns when the price level has a unit root and the
// returns do not; otherwise it keeps the level series.
func ChooseDomain(report models.StationarityReport, threshold float64) models.Domain {
	level, okLevel := report.Result(models.DomainPrice)
	ret, okRet := report.Result(models.DomainLogReturn)
	if okLevel && okRet && level.PValue > threshold && ret.Error == "" && ret.PValue <= threshold {
		return models.DomainLogReturn
	}
	return models.DomainPrice
}
