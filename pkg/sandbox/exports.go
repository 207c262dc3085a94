package sandbox

import (
	"reflect"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

func statExports() map[string]reflect.Value {
	return map[string]reflect.Value{
		"CumulantKind":     reflect.ValueOf((*stat.CumulantKind)(nil)),
		"Empirical":        reflect.ValueOf(stat.Empirical),
		"LinInterp":        reflect.ValueOf(stat.LinInterp),
		"Correlation":      reflect.ValueOf(stat.Correlation),
		"Covariance":       reflect.ValueOf(stat.Covariance),
		"ExKurtosis":       reflect.ValueOf(stat.ExKurtosis),
		"GeometricMean":    reflect.ValueOf(stat.GeometricMean),
		"HarmonicMean":     reflect.ValueOf(stat.HarmonicMean),
		"LinearRegression": reflect.ValueOf(stat.LinearRegression),
		"Mean":             reflect.ValueOf(stat.Mean),
		"MeanStdDev":       reflect.ValueOf(stat.MeanStdDev),
		"MeanVariance":     reflect.ValueOf(stat.MeanVariance),
		"Mode":             reflect.ValueOf(stat.Mode),
		"Quantile":         reflect.ValueOf(stat.Quantile),
		"RSquared":         reflect.ValueOf(stat.RSquared),
		"Skew":             reflect.ValueOf(stat.Skew),
		"SortWeighted":     reflect.ValueOf(stat.SortWeighted),
		"StdDev":           reflect.ValueOf(stat.StdDev),
		"Variance":         reflect.ValueOf(stat.Variance),
	}
}

func floatsExports() map[string]reflect.Value {
	return map[string]reflect.Value{
		"Add":     reflect.ValueOf(floats.Add),
		"Argsort": reflect.ValueOf(floats.Argsort),
		"CumSum":  reflect.ValueOf(floats.CumSum),
		"Dot":     reflect.ValueOf(floats.Dot),
		"Max":     reflect.ValueOf(floats.Max),
		"MaxIdx":  reflect.ValueOf(floats.MaxIdx),
		"Min":     reflect.ValueOf(floats.Min),
		"MinIdx":  reflect.ValueOf(floats.MinIdx),
		"Scale":   reflect.ValueOf(floats.Scale),
		"Sum":     reflect.ValueOf(floats.Sum),
	}
}
