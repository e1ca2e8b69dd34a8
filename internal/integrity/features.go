package integrity

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Analysis parameters for the perceptual representations. Changing any of
// these invalidates every stored golden reference.
const (
	fftSize = 2048
	hopSize = 512
	numMels = 64
	melFMin = 20.0
	melFMax = 12000.0
	numMFCC = 13

	logFloor = 1e-10
)

var errTooShort = errors.New("signal too short for spectral analysis")

// melSpectrogram computes a power mel spectrogram, numMels filters per
// frame.
func melSpectrogram(samples []float64, sampleRate int) ([][]float64, error) {
	power, err := powerSpectrogram(samples)
	if err != nil {
		return nil, err
	}
	filters := melFilterbank(sampleRate)

	mel := make([][]float64, len(power))
	for t, spectrum := range power {
		row := make([]float64, numMels)
		for m, filter := range filters {
			var sum float64
			for k, w := range filter {
				sum += w * spectrum[k]
			}
			row[m] = sum
		}
		mel[t] = row
	}
	return mel, nil
}

// mfcc computes numMFCC cepstral coefficients per frame: DCT-II over the
// log mel spectrum.
func mfcc(samples []float64, sampleRate int) ([][]float64, error) {
	mel, err := melSpectrogram(samples, sampleRate)
	if err != nil {
		return nil, err
	}

	out := make([][]float64, len(mel))
	for t, row := range mel {
		logRow := make([]float64, len(row))
		for i, v := range row {
			logRow[i] = math.Log(v + logFloor)
		}
		out[t] = dct2(logRow, numMFCC)
	}
	return out, nil
}

func powerSpectrogram(samples []float64) ([][]float64, error) {
	if len(samples) == 0 {
		return nil, errTooShort
	}

	// Zero-pad half a window on each side so short signals still produce
	// at least one frame.
	padded := make([]float64, len(samples)+fftSize)
	copy(padded[fftSize/2:], samples)

	window := hannWindow(fftSize)
	fft := fourier.NewFFT(fftSize)
	frames := 1 + (len(padded)-fftSize)/hopSize

	power := make([][]float64, frames)
	buf := make([]float64, fftSize)
	for t := 0; t < frames; t++ {
		offset := t * hopSize
		for i := 0; i < fftSize; i++ {
			buf[i] = padded[offset+i] * window[i]
		}
		coeffs := fft.Coefficients(nil, buf)
		spectrum := make([]float64, len(coeffs))
		for k, c := range coeffs {
			re, im := real(c), imag(c)
			spectrum[k] = re*re + im*im
		}
		power[t] = spectrum
	}
	return power, nil
}

func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

func hzToMel(hz float64) float64 {
	return 2595 * math.Log10(1+hz/700)
}

func melToHz(mel float64) float64 {
	return 700 * (math.Pow(10, mel/2595) - 1)
}

// melFilterbank builds numMels triangular filters over the FFT bins
// between melFMin and melFMax.
func melFilterbank(sampleRate int) [][]float64 {
	bins := fftSize/2 + 1
	melLo := hzToMel(melFMin)
	melHi := hzToMel(math.Min(melFMax, float64(sampleRate)/2))

	centers := make([]float64, numMels+2)
	for i := range centers {
		mel := melLo + (melHi-melLo)*float64(i)/float64(numMels+1)
		centers[i] = melToHz(mel)
	}

	binHz := float64(sampleRate) / float64(fftSize)
	filters := make([][]float64, numMels)
	for m := 0; m < numMels; m++ {
		lo, mid, hi := centers[m], centers[m+1], centers[m+2]
		filter := make([]float64, bins)
		for k := 0; k < bins; k++ {
			hz := float64(k) * binHz
			switch {
			case hz <= lo || hz >= hi:
				// outside the triangle
			case hz <= mid:
				filter[k] = (hz - lo) / (mid - lo)
			default:
				filter[k] = (hi - hz) / (hi - mid)
			}
		}
		filters[m] = filter
	}
	return filters
}

// dct2 computes the first n coefficients of the orthonormal DCT-II.
func dct2(input []float64, n int) []float64 {
	size := len(input)
	if n > size {
		n = size
	}
	out := make([]float64, n)
	for k := 0; k < n; k++ {
		var sum float64
		for i, v := range input {
			sum += v * math.Cos(math.Pi*float64(k)*(float64(i)+0.5)/float64(size))
		}
		scale := math.Sqrt(2 / float64(size))
		if k == 0 {
			scale = math.Sqrt(1 / float64(size))
		}
		out[k] = sum * scale
	}
	return out
}
