package main

import (
    "flag"
    "time"
)

// Options holds CLI options for the node.
type Options struct {
    ConfigPath string
    Topic      string
    Spin       bool
    SpinRate   float64 // radians per second
    Status     time.Duration
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
    fs := flag.NewFlagSet("posemesh-node", flag.ExitOnError)
    var opts Options
    fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
    fs.StringVar(&opts.Topic, "topic", "", "Override the configured topic")
    fs.BoolVar(&opts.Spin, "spin", false, "Rotate the shared object locally (demo input)")
    fs.Float64Var(&opts.SpinRate, "spin-rate", 0.5, "Spin speed in radians per second")
    fs.DurationVar(&opts.Status, "status", 5*time.Second, "Interval of the peer/sync status log; 0 disables")
    _ = fs.Parse(args)
    return opts
}
