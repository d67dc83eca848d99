package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/joho/godotenv"
)

const envPrefix = "ECHOBENCH_"

func defaultConfig() config {
	return config{
		address:     defaultAddress,
		length:      defaultLength,
		connections: defaultConnections,
		duration:    defaultDuration,
		dialTimeout: defaultDialTimeout,
	}
}

// loadEnv reads the optional dotenv file into the process environment and
// applies every ECHOBENCH_* variable found there on top of app.
func loadEnv(app *config, file string) error {
	if file != "" {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", file, err)
		}
	}

	var err error
	if v, ok := lookupEnv("ADDRESS"); ok {
		app.address = v
	}
	if v, ok := lookupEnv("LENGTH"); ok {
		if app.length, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("bad %sLENGTH %q: %w", envPrefix, v, err)
		}
	}
	if v, ok := lookupEnv("CONNECTIONS"); ok {
		if app.connections, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("bad %sCONNECTIONS %q: %w", envPrefix, v, err)
		}
	}
	if v, ok := lookupEnv("DURATION"); ok {
		if app.duration, err = parseDuration(v); err != nil {
			return err
		}
	}
	if v, ok := lookupEnv("REPORT_INTERVAL"); ok {
		if app.reportInterval, err = parseDuration(v); err != nil {
			return err
		}
	}
	if v, ok := lookupEnv("DIAL_TIMEOUT"); ok {
		if app.dialTimeout, err = parseDuration(v); err != nil {
			return err
		}
	}
	if v, ok := lookupEnv("LOCAL_ADDR"); ok {
		app.localAddr = v
	}
	if v, ok := lookupEnv("METRICS_ADDR"); ok {
		app.metricsAddr = v
	}

	return nil
}

func lookupEnv(name string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (app *config) validate() error {
	if app.length < 1 {
		return fmt.Errorf("message length must be at least 1, got %d", app.length)
	}
	if app.connections < 0 {
		return fmt.Errorf("connection number must not be negative, got %d", app.connections)
	}
	if app.duration < 0 {
		return fmt.Errorf("duration must not be negative, got %s", app.duration)
	}
	if app.reportInterval < 0 {
		return fmt.Errorf("report interval must not be negative, got %s", app.reportInterval)
	}
	if app.address == "" {
		return errors.New("empty target address")
	}
	app.address = appendPortIfMissing(app.address, defaultPort)
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(defaultTimeUnit(s))
	if err != nil {
		return 0, fmt.Errorf("bad duration %q: %w", s, err)
	}
	return d, nil
}

// defaultTimeUnit reads a bare number as seconds.
func defaultTimeUnit(s string) string {
	if s != "" && unicode.IsDigit(rune(s[len(s)-1])) {
		return s + "s"
	}
	return s
}

// appendPortIfMissing adds port unless host already ends in one. A bracketed
// IPv6 literal without a port still gets it.
func appendPortIfMissing(host, port string) string {
	if i := strings.LastIndexAny(host, ":]"); i >= 0 && host[i] == ':' {
		return host
	}
	return host + port
}
