package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
	vh "github.com/tckz/vegetahelper"
	vegeta "github.com/tsenart/vegeta/v12/lib"
	"go.uber.org/zap"

	"github.com/tckz/visitor-counter/internal/log"
	"github.com/tckz/visitor-counter/internal/visitor"
)

var (
	myName  = filepath.Base(os.Args[0])
	logger  *zap.SugaredLogger
	version string
)

var (
	optRate = &vh.RateFlag{
		Rate: &vegeta.Rate{
			Freq: 30,
			Per:  1 * time.Second,
		}}
	optDuration    = flag.Duration("duration", 10*time.Second, "Duration of the test")
	optOutput      = flag.String("output", "", "/path/to/results.bin or 'stdout', empty to skip")
	optWorkers     = flag.Uint64("workers", vegeta.DefaultWorkers, "Number of workers")
	optLogEncoding = flag.String("log-encoding", "json", "json|console")
	optLogOutput   = flag.String("log-output", "stderr", "Comma separated log outputs, stderr|stdout|/path/to/file")
	optLogLevel    = flag.String("log-level", "info", "info|warn|error")
	optTarget      = flag.String("target", "", "base URL of visitor-counter (env VISITOR_URL, default http://localhost:5000)")
	optReset       = flag.Bool("reset", true, "Reset the counter before attacking so the values must be exactly 1..N")
	optTimeout     = flag.Duration("timeout", 5*time.Second, "Timeout of each request")
)

func init() {
	godotenv.Load()

	flag.Var(optRate, "rate", "Number of requests per time unit")
	flag.Parse()

	logger = log.Must(log.NewLogger(
		log.WithLogLevel(*optLogLevel),
		log.WithEncoding(*optLogEncoding),
		log.WithOutputPaths(strings.Split(*optLogOutput, ",")...),
	)).Sugar().With(zap.String("app", myName))
}

type nopWriteCloser struct {
	io.Writer
}

func (c nopWriteCloser) Close() error {
	return nil
}

func openResultFile(out string) (io.WriteCloser, error) {
	switch out {
	case "":
		return &nopWriteCloser{io.Discard}, nil
	case "stdout":
		return &nopWriteCloser{os.Stdout}, nil
	default:
		return os.Create(out)
	}
}

func main() {
	logger.Infof("ver=%s, args=%s", version, os.Args)
	defer logger.Infof("done")

	target := *optTarget
	if target == "" {
		target = os.Getenv("VISITOR_URL")
	}
	if target == "" {
		target = "http://localhost:5000"
	}
	target = strings.TrimSuffix(target, "/")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, target); err != nil {
		logger.Fatalf("*** run: %v", err)
	}
}

func run(ctx context.Context, target string) error {
	var start int64
	if *optReset {
		n, err := reset(ctx, target)
		if err != nil {
			return err
		}
		start = n
		logger.Infof("counter reset to %d", n)
	}

	out, err := openResultFile(*optOutput)
	if err != nil {
		return fmt.Errorf("openResultFile: %w", err)
	}
	defer out.Close()
	enc := vegeta.NewEncoder(out)

	atk := vegeta.NewAttacker(vegeta.Workers(*optWorkers), vegeta.Timeout(*optTimeout))
	tr := vegeta.NewStaticTargeter(vegeta.Target{Method: http.MethodGet, URL: target + "/visitor"})
	res := atk.Attack(tr, *optRate.Rate, *optDuration, "visitor")

	var metrics vegeta.Metrics
	var values []int64
	var badBodies int

loop:
	for {
		select {
		case <-ctx.Done():
			logger.Infof("Received signal, stopping attack")
			atk.Stop()
			ctx = context.Background()
			// keep loop until 'res' is closed.
		case r, ok := <-res:
			if !ok {
				break loop
			}
			metrics.Add(r)
			if err := enc.Encode(r); err != nil {
				return fmt.Errorf("enc.Encode: %w", err)
			}
			if r.Code != http.StatusOK {
				continue
			}
			n, err := visitor.ParseVisit(string(r.Body))
			if err != nil {
				badBodies++
				logger.Warnf("ParseVisit: seq=%d: %v", r.Seq, err)
				continue
			}
			values = append(values, n)
		}
	}
	metrics.Close()

	codes := lo.Keys(metrics.StatusCodes)
	slices.Sort(codes)
	for _, code := range codes {
		logger.Infof("status=%s count=%s", code, humanize.Comma(int64(metrics.StatusCodes[code])))
	}
	logger.Infof("requests=%s success=%.2f%% p50=%s p99=%s",
		humanize.Comma(int64(metrics.Requests)), metrics.Success*100, metrics.Latencies.P50, metrics.Latencies.P99)

	if badBodies > 0 {
		return fmt.Errorf("%d responses had an unexpected body", badBodies)
	}
	if !*optReset {
		logger.Infof("values=%s (sequence not checked without --reset)", humanize.Comma(int64(len(values))))
		return nil
	}

	// A request that timed out on our side may still have incremented, so gaps only count when every request succeeded.
	dups, missing := visitor.CheckSequence(values, start)
	if len(dups) > 0 {
		return fmt.Errorf("duplicate visit numbers: %v", head(dups, 20))
	}
	if len(values) == int(metrics.Requests) && len(missing) > 0 {
		return fmt.Errorf("missing visit numbers: %v", head(missing, 20))
	}
	logger.Infof("values=%s, no duplicates", humanize.Comma(int64(len(values))))
	return nil
}

func head(vs []int64, n int) []int64 {
	if len(vs) > n {
		return vs[:n]
	}
	return vs
}

func reset(ctx context.Context, target string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, *optTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target+"/visitor/reset", nil)
	if err != nil {
		return 0, fmt.Errorf("http.NewRequest: %w", err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("reset: %w", err)
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return 0, fmt.Errorf("io.ReadAll: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("reset: status=%d body=%s", res.StatusCode, b)
	}
	return visitor.ParseReset(string(b))
}
