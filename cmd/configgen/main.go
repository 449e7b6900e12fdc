package main

import (
	"flag"
	"log"

	"github.com/danmuck/ledgerctl/internal/config"
)

func main() {
	output := flag.String("output", "cmd/ledgerctl/config.toml", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "cmd/ledgerctl/config.toml", "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated ledgerctl config at %s (path %s, policy %s)", *input, cfg.Account.Path(), cfg.Ledger.TransportPolicy)
		return
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote ledgerctl config template to %s", *output)
}
