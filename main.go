package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"framegrab/acquire"
	"framegrab/config"
	"framegrab/serve"
	"framegrab/video/sink"
)

var (
	port       = flag.Int("port", 8080, "Port to host web frontend.")
	configPath = flag.String("config", "", "JSON configuration file, reloaded on change. Defaults are used if unset.")
)

func main() {
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *config.Config, 1)
	cfg := config.Default()
	if *configPath != "" {
		config.OnChange(func(c *config.Config) {
			// Only the latest change matters.
			select {
			case <-changes:
			default:
			}
			changes <- c
		})
		if err := config.Load(ctx, *configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = config.Get()
	}

	mjpegServer := sink.NewMJPEGServer()

	var (
		lock sync.Mutex
		cur  *pipeline
	)
	statsFunc := func() []acquire.Stats {
		lock.Lock()
		defer lock.Unlock()
		if cur == nil {
			return nil
		}
		return []acquire.Stats{cur.stats()}
	}
	restart := func(c *config.Config) {
		lock.Lock()
		defer lock.Unlock()
		if cur != nil {
			cur.stop()
			cur = nil
		}
		p, err := startPipeline(c, mjpegServer)
		if err != nil {
			log.Errorf("Failed to start acquisition: %v", err)
			return
		}
		cur = p
	}

	restart(cfg)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Infof("Hosting web frontend on port %d", *port)
		http.Handle("/mjpeg", mjpegServer)
		http.Handle("/stats", &serve.StatsServer{Stats: statsFunc})
		http.Handle("/statsws", serve.NewStatsUpdater(statsFunc))
		http.Handle("/metrics", promhttp.Handler())
		h := handlers.CombinedLoggingHandler(os.Stdout, http.DefaultServeMux)
		log.Error(http.ListenAndServe(fmt.Sprintf(":%d", *port), h))
	}()

	for {
		select {
		case c := <-changes:
			log.Infof("Configuration changed, restarting acquisition")
			restart(c)
		case sig := <-sigs:
			log.Infof("Caught signal %v", sig)
			lock.Lock()
			if cur != nil {
				cur.stop()
			}
			lock.Unlock()
			return
		}
	}
}
