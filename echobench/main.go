package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type flags struct {
	envFile        string
	address        string
	length         int
	duration       string
	connections    int
	reportInterval string
	dialTimeout    string
	localAddr      string
	failFast       bool
	metricsAddr    string
	jsonOutput     bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "echobench",
		Short: "Echo benchmark",
		Long: `Echo benchmark.

Opens many TCP connections to an echo server, writes a fixed length message
on each and waits for the same number of bytes back, as fast as every round
trip allows. Prints request and response throughput at the end.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := f.config(cmd.Flags())
			if err != nil {
				return err
			}
			return runClient(cmd.Context(), &app, cmd.OutOrStdout())
		},
	}

	f.register(cmd.Flags())

	cmd.AddCommand(newServeCmd())
	return cmd
}

func (f *flags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.envFile, "env", ".env", "Optional dotenv file with ECHOBENCH_* settings.")
	fs.StringVarP(&f.address, "address", "a", defaultAddress, "Target echo server address.")
	fs.IntVarP(&f.length, "length", "l", defaultLength, "Test message length.")
	fs.StringVarP(&f.duration, "duration", "t", "60", "Test duration, in seconds unless a unit is given.")
	fs.IntVarP(&f.connections, "number", "c", defaultConnections, "Test connection number.")
	fs.StringVar(&f.reportInterval, "report-interval", "0", "Time between progress reports, 0 disables them.")
	fs.StringVar(&f.dialTimeout, "dial-timeout", defaultDialTimeout.String(), "Connect timeout per connection.")
	fs.StringVar(&f.localAddr, "local", "", "Local address to dial from.")
	fs.BoolVar(&f.failFast, "fail-fast", false, "Abort the whole run when a connection cannot be opened.")
	fs.StringVar(&f.metricsAddr, "metrics", "", "Serve Prometheus metrics on this address during the run.")
	fs.BoolVar(&f.jsonOutput, "json", false, "Print the result as JSON.")
}

// config layers defaults, environment and explicitly set flags, in that order.
func (f *flags) config(fs *pflag.FlagSet) (config, error) {
	app := defaultConfig()
	if err := loadEnv(&app, f.envFile); err != nil {
		return app, err
	}

	var err error
	if fs.Changed("address") {
		app.address = f.address
	}
	if fs.Changed("length") {
		app.length = f.length
	}
	if fs.Changed("number") {
		app.connections = f.connections
	}
	if fs.Changed("duration") {
		if app.duration, err = parseDuration(f.duration); err != nil {
			return app, err
		}
	}
	if fs.Changed("report-interval") {
		if app.reportInterval, err = parseDuration(f.reportInterval); err != nil {
			return app, err
		}
	}
	if fs.Changed("dial-timeout") {
		if app.dialTimeout, err = parseDuration(f.dialTimeout); err != nil {
			return app, err
		}
	}
	if fs.Changed("local") {
		app.localAddr = f.localAddr
	}
	if fs.Changed("metrics") {
		app.metricsAddr = f.metricsAddr
	}
	app.failFast = f.failFast
	app.jsonOutput = f.jsonOutput

	err = app.validate()
	return app, err
}

func runClient(ctx context.Context, app *config, out io.Writer) error {
	acc := &account{}

	if app.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(acc.collectors()...)
		srv := &http.Server{
			Addr:    app.metricsAddr,
			Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("runClient: metrics server on %s: %v", app.metricsAddr, err)
			}
		}()
		defer srv.Close()
	}

	log.Printf("connections=%d length=%d duration=%s host=%q", app.connections, app.length, app.duration, app.address)

	r := newReport(runBenchmark(ctx, app, acc))
	if app.jsonOutput {
		return r.writeJSON(out)
	}
	return r.writeText(out)
}

func newServeCmd() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a TCP echo server to benchmark against",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := listenEcho(appendPortIfMissing(address, defaultPort))
			if err != nil {
				return err
			}
			go func() {
				<-cmd.Context().Done()
				srv.close()
			}()
			return srv.serve()
		},
	}
	cmd.Flags().StringVarP(&address, "address", "a", defaultAddress, "Address to listen on.")
	return cmd
}
