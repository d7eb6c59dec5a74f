package main

import (
	"context"
	"flag"
	"os"
	"strconv"

	"github.com/gamevidea/meshchat/mesh"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "path to a yaml config file")
	flag.Parse()

	log := logrus.New()

	cfg := mesh.DefaultConfig()
	if *configPath != "" {
		loaded, err := mesh.LoadConfig(*configPath)
		if err != nil {
			log.WithError(err).Fatal("failed to load config")
		}
		cfg = loaded
	}

	// A bare frequency argument overrides the configured one.
	if arg := flag.Arg(0); arg != "" {
		freq, err := strconv.ParseUint(arg, 10, 24)
		if err != nil {
			log.WithField("frequency", arg).Fatal("invalid frequency argument")
		}
		cfg.Frequency = uint32(freq)
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	node := mesh.NewNode(cfg, nil, log)

	if err := node.Run(context.Background()); err != nil {
		log.WithError(err).Error("node stopped")
		os.Exit(1)
	}
}
