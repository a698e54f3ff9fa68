package main

import "flag"

// Options holds CLI options for the edge node.
type Options struct {
    ConfigPath string
    Listen     string
    Hub        string
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
    fs := flag.NewFlagSet("gridlink-server", flag.ExitOnError)
    var opts Options
    fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
    fs.StringVar(&opts.Listen, "listen", "", "UDP listen address (overrides config)")
    fs.StringVar(&opts.Hub, "hub", "", "Hub address to link with (overrides config)")
    _ = fs.Parse(args)
    return opts
}
