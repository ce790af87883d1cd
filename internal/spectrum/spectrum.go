// Package spectrum computes the magnitude spectrum of a sampled sine.
package spectrum

import (
	"errors"
	"fmt"
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/cwbudde/algo-vecmath"

	"github.com/reqstat/backend/internal/models"
)

var ErrInvalidSize = errors.New("spectrum: size must not be negative")

// Signal returns sin(0), sin(1), ..., sin(n-1) as a complex sequence.
func Signal(n int) []complex128 {
	out := make([]complex128, n)
	for i := range out {
		out[i] = complex(math.Sin(float64(i)), 0)
	}
	return out
}

// Compute returns |X[k]| for the unnormalized forward DFT of Signal(n),
// paired with the bin index.
func Compute(n int) ([]models.DataPoint, error) {
	if n < 0 {
		return nil, ErrInvalidSize
	}
	if n == 0 {
		return []models.DataPoint{}, nil
	}

	bins, err := Transform(Signal(n))
	if err != nil {
		return nil, err
	}

	re := make([]float64, n)
	im := make([]float64, n)
	for i, c := range bins {
		re[i] = real(c)
		im[i] = imag(c)
	}
	mag := make([]float64, n)
	vecmath.Magnitude(mag, re, im)

	out := make([]models.DataPoint, n)
	for i, m := range mag {
		out[i] = models.DataPoint{X: float64(i), Y: m}
	}
	return out, nil
}

// Transform runs the unnormalized forward FFT of in.
func Transform(in []complex128) ([]complex128, error) {
	out := make([]complex128, len(in))
	if len(in) == 0 {
		return out, nil
	}

	plan, err := algofft.NewPlan64(len(in))
	if err != nil {
		return nil, fmt.Errorf("spectrum: plan size %d: %w", len(in), err)
	}
	if err := plan.Forward(out, in); err != nil {
		return nil, fmt.Errorf("spectrum: forward transform: %w", err)
	}
	return out, nil
}
