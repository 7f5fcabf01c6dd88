package config

import "flag"

// registerFlags wires the command-line overrides onto the shared
// options value.
func registerFlags() {
	flag.StringVar(&options.Addr, "a", options.Addr, "run on ip:port server")
	flag.StringVar(&options.DataDir, "d", options.DataDir, "data directory for encrypted state")
	flag.StringVar(&options.Config, "config", "config.toml", "path to config file")
	flag.StringVar(&options.Config, "c", "config.toml", "path to config file (shorthand)")
}

func parseFlags() {
	if !flag.Parsed() {
		flag.Parse()
	}
}
