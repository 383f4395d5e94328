// Command verify checks whether a sequence of per-round benchmark results has
// reached steady state, using the SNIA PTS range and slope criteria.
//
// Usage:
//
//	verify [flags] LIST WINDOW_SIZE
//
// LIST holds the results, oldest first, e.g. "[100, 102, 98, 101, 99]". Plain
// comma or whitespace separated numbers are accepted too, and "-" reads the
// list from stdin. WINDOW_SIZE is the number of trailing values that form the
// measurement window (5 in the PTS).
//
// Exit status:
//
//	0 - the window is in steady state
//	1 - the window is not in steady state, or there are fewer values than WINDOW_SIZE
//	2 - usage error or malformed input
//
// Environment variables:
//
//	THRESHOLD  - Excursion threshold as a fraction of the average (default: 0.10)
//	OUTPUT     - Result format: text, json (default: text)
//	LOG_LEVEL  - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT - Logging format: text, json (default: text)
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/HatiCode/steadystate/pkg/logger"
	"github.com/HatiCode/steadystate/pkg/series"
	"github.com/HatiCode/steadystate/pkg/steadystate"
)

// version is set via ldflags at build time
var version = "dev"

const (
	exitSteady    = 0
	exitNotSteady = 1
	exitUsage     = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type options struct {
	threshold float64
	output    string
	logLevel  string
	logFormat string
	version   bool
}

func newFlagSet(opts *options, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("verify", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: verify [flags] LIST WINDOW_SIZE")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "LIST         values, oldest first, e.g. \"[100, 102, 98]\"; - reads stdin")
		fmt.Fprintln(stderr, "WINDOW_SIZE  number of trailing values in the measurement window")
		fmt.Fprintln(stderr)
		fs.PrintDefaults()
	}

	fs.Float64VarP(&opts.threshold, "threshold", "t", getEnvFloat("THRESHOLD", steadystate.DefaultThreshold), "Excursion threshold as a fraction of the window average")
	fs.StringVarP(&opts.output, "output", "o", getEnv("OUTPUT", "text"), "Result format: text or json")
	fs.StringVar(&opts.logLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	fs.StringVar(&opts.logFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	fs.BoolVar(&opts.version, "version", false, "Print version and exit")
	return fs
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var opts options
	fs := newFlagSet(&opts, stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitSteady
		}
		return exitUsage
	}
	if opts.version {
		fmt.Fprintln(stdout, version)
		return exitSteady
	}

	log := logger.New(opts.logFormat, opts.logLevel, stderr)

	if fs.NArg() != 2 {
		fs.Usage()
		return exitUsage
	}
	if opts.output != "text" && opts.output != "json" {
		log.Error("invalid output format", "output", opts.output)
		return exitUsage
	}

	var (
		values []float64
		err    error
	)
	if list := fs.Arg(0); list == "-" {
		values, err = series.Read(stdin)
	} else {
		values, err = series.Parse(list)
	}
	if err != nil {
		log.Error("malformed value list", "error", err)
		return exitUsage
	}

	windowSize, err := series.ParseWindowSize(fs.Arg(1))
	if err != nil {
		log.Error("malformed window size", "error", err)
		return exitUsage
	}

	ev := steadystate.New(steadystate.WithThreshold(opts.threshold))
	res, err := ev.Evaluate(values, windowSize)
	if err != nil {
		var ide *steadystate.InsufficientDataError
		if errors.As(err, &ide) {
			log.Warn("insufficient data", "window_size", windowSize, "values", len(values))
			writeInsufficient(stdout, opts.output, ide)
			return exitNotSteady
		}
		log.Error("evaluation failed", "error", err)
		return exitUsage
	}

	log.Info("values in window",
		"values", series.Format(res.Values()),
		"first_round", res.Window[0].Round,
	)
	log.Debug("evaluation",
		"average", res.Average,
		"upper", res.Upper,
		"lower", res.Lower,
		"slope", res.Fit.Slope,
		"verdict", res.Verdict.String(),
	)

	if opts.output == "json" {
		if err := writeJSON(stdout, res); err != nil {
			log.Error("failed to write result", "error", err)
			return exitUsage
		}
	} else {
		writeText(stdout, res)
	}

	if !res.Steady() {
		return exitNotSteady
	}
	return exitSteady
}

func writeText(w io.Writer, res steadystate.Result) {
	switch {
	case res.Steady():
		fmt.Fprintln(w, "steady")
	default:
		fmt.Fprintf(w, "not steady: %s check failed\n", res.FailedCheck)
	}

	first, last := res.Window[0].Round, res.Window[len(res.Window)-1].Round
	fmt.Fprintf(w, "window:  %s (rounds %d-%d)\n", series.Format(res.Values()), first, last)
	fmt.Fprintf(w, "average: %s, band [%s, %s]\n", fmtFloat(res.Average), fmtFloat(res.Lower), fmtFloat(res.Upper))
	if res.FailedCheck != steadystate.CheckRange {
		fmt.Fprintf(w, "fit:     slope %s, %s at round %d, %s at round %d\n",
			fmtFloat(res.Fit.Slope), fmtFloat(res.FitFirst), first, fmtFloat(res.FitLast), last)
	}
}

func writeJSON(w io.Writer, res steadystate.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func writeInsufficient(w io.Writer, output string, ide *steadystate.InsufficientDataError) {
	if output != "json" {
		fmt.Fprintln(w, ide.Error())
		return
	}
	values := ide.Samples
	if values == nil {
		values = []float64{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(map[string]any{
		"verdict":    "insufficient_data",
		"windowSize": ide.WindowSize,
		"values":     values,
		"error":      ide.Error(),
	})
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
