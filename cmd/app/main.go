package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/hubertat/servicemaker"

	"github.com/hubertat/w1kit"
)

var (
	Version string
	Build   string

	config      = flag.String("config", "config.json", "path of the configuration file")
	flagInstall = flag.Bool("install", false, "Install service in os")
	flagDebug   = flag.Bool("debug", false, "enable debug logging")

	w1kService = servicemaker.ServiceMaker{
		User:               "w1kit",
		UserGroups:         []string{"gpio"},
		ServicePath:        "/etc/systemd/system/w1kit.service",
		ServiceDescription: "w1kit service: DS18B20 one-wire temperature reader with mqtt, http and HomeKit outputs. github.com/hubertat/w1kit",
		ExecDir:            "/srv/w1kit",
		ExecName:           "w1kit",
	}
)

func main() {
	flag.Parse()
	if *flagDebug {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("w1kit started", "version", Version, "build", Build)

	if *flagInstall {
		err := w1kService.InstallService()
		if err != nil {
			log.Fatal("failed to install service", "err", err)
		}
		log.Info("service installed!")
		return
	}

	wk := &w1kit.W1Kit{}
	configFile, err := os.Open(*config)
	if err != nil {
		log.Fatal("can't find/open config file, will terminate", "config", *config, "err", err)
	}
	cBuff, err := io.ReadAll(configFile)
	configFile.Close()
	if err != nil {
		log.Fatal("failed reading config file", "err", err)
	}
	err = json.Unmarshal(cBuff, wk)
	if err != nil {
		log.Fatal("failed unmarshalling json config", "err", err)
	}

	ctx, cancel := w1kit.NotifyContext(context.Background())
	defer cancel()

	run(ctx, wk)
}

func run(ctx context.Context, wk *w1kit.W1Kit) {
	log.Info("will init w1kit...")
	err := wk.Init(ctx)
	defer wk.Close()
	if err != nil {
		log.Fatal("init failed", "err", err)
	}

	if len(wk.MqttBroker) > 0 {
		err = wk.InitMqtt(ctx)
		if err != nil {
			log.Error("mqtt init failed, we will proceed without it", "err", err)
		}
	}

	wk.PrintStatus(os.Stdout)

	wg := sync.WaitGroup{}

	if len(wk.HttpAddress) > 0 {
		go func() {
			err := wk.StartHttp()
			if err != nil {
				log.Error("http server stopped", "err", err)
			}
		}()
	}

	if len(wk.HkPin) == 8 {
		log.Info("Starting with HomeKit server")
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := wk.StartHomeKit(ctx, Version)
			if err != nil {
				log.Error("HomeKit server stopped", "err", err)
			}
		}()
	} else {
		log.Info("HomeKit not configured, disabled")
	}

	wk.StartTicker(ctx)
	<-ctx.Done()
	wg.Wait()
	log.Info("w1kit stopped")
}
