package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/cadenza-labs/synthd/internal/audio"
	"github.com/cadenza-labs/synthd/internal/golden"
	"github.com/cadenza-labs/synthd/internal/integrity"
)

var version = "0.1.0-dev"

func main() {
	var (
		wavPath string
		refDir  string
		profile string
	)
	goldenCmd := flag.NewFlagSet("golden-check", flag.ExitOnError)
	goldenCmd.StringVar(&wavPath, "file", "", "Path to WAV file to verify")
	goldenCmd.StringVar(&refDir, "dir", "./golden", "Directory holding reference hashes")

	qcCmd := flag.NewFlagSet("qc", flag.ExitOnError)
	qcCmd.StringVar(&wavPath, "file", "", "Path to WAV file to inspect")

	surfaceCmd := flag.NewFlagSet("surface", flag.ExitOnError)
	surfaceCmd.StringVar(&profile, "profile", "streaming", "Profile whose contract to show")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'golden-check', 'qc', 'surface' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "golden-check":
		goldenCmd.Parse(os.Args[2:])
		if err := runGoldenCheck(refDir, wavPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "qc":
		qcCmd.Parse(os.Args[2:])
		if err := runQC(wavPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "surface":
		surfaceCmd.Parse(os.Args[2:])
		if err := runSurface(profile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func loadWAV(path string) ([]float64, int, error) {
	if path == "" {
		return nil, 0, fmt.Errorf("-file is required")
	}
	samples, rate, channels, err := audio.DecodeFile(path)
	if err != nil {
		return nil, 0, err
	}
	if channels != 1 {
		return nil, 0, fmt.Errorf("expected mono audio, got %d channels", channels)
	}
	return samples, rate, nil
}

func runGoldenCheck(refDir, path string) error {
	samples, rate, err := loadWAV(path)
	if err != nil {
		return err
	}
	result, err := integrity.Verify(refDir, samples, rate)
	if err != nil {
		return err
	}
	if err := printJSON(result); err != nil {
		return err
	}
	if result.FirstRun {
		fmt.Println("reference hashes recorded")
		return nil
	}
	if !result.Valid {
		return fmt.Errorf("audio does not match golden references")
	}
	fmt.Println("audio matches golden references")
	return nil
}

func runQC(path string) error {
	samples, _, err := loadWAV(path)
	if err != nil {
		return err
	}
	report, err := audio.QC(samples)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runSurface(name string) error {
	profile := golden.Profile(name)
	if !profile.Valid() {
		return fmt.Errorf("unknown profile %q", name)
	}
	verdict := golden.Validate(profile, golden.DefaultSurface(profile))
	return printJSON(verdict)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
