package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/olivere/jobloop"
	"github.com/olivere/jobloop/internal/simulate"
	"github.com/olivere/jobloop/internal/sources"
	"github.com/olivere/jobloop/ui/server"
)

func main() {
	const (
		exampleDBURL = "root@tcp(127.0.0.1:3306)/jobloop_e2e?loc=UTC&parseTime=true"
	)
	var (
		addr        = flag.String("addr", "127.0.0.1:12345", "HTTP bind address")
		srcType     = flag.String("source", "memory", fmt.Sprintf("source type %v", sources.Types))
		dburl       = flag.String("dburl", "", "connection string for the source, e.g. "+exampleDBURL)
		dbdebug     = flag.Bool("dbdebug", false, "Enabled debug output for DB source")
		n           = flag.Int("n", 50, "number of random job ids to dispatch")
		concurrency = flag.Int("c", 4, "maximum number of workers")
		idle        = flag.Duration("idle", 5*time.Second, "wait time when the source is exhausted")
		runTime     = flag.Duration("run-time", 3*time.Second, "maximum run time of a single job")
		failureRate = flag.Float64("failure-rate", 0.05, "failure rate in the interval [0.0,1.0]")
	)
	flag.Parse()

	if *srcType != "memory" && *dburl == "" {
		log.Fatal("specify a connection string with -dburl like e.g. " + exampleDBURL)
	}

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	ids := make([]jobloop.JobID, *n)
	for i := range ids {
		ids[i] = jobloop.JobID(strconv.Itoa(1000 + rnd.Intn(9000)))
	}

	// Initialize the source
	h, err := sources.Open(sources.Config{Type: *srcType, URL: *dburl, Debug: *dbdebug, IDs: ids})
	if err != nil {
		log.Fatal(err)
	}
	defer h.Close()

	pool := jobloop.NewPool(jobloop.SetConcurrency(*concurrency), jobloop.SetPoolLogger(jobloop.NopLogger()))
	if err := pool.Start(); err != nil {
		log.Fatal(err)
	}
	srv := server.New(pool, server.SetLogger(log.Default()))
	l := jobloop.New(h.Source, pool,
		simulate.Processor(jobloop.NopLogger(), 0, *runTime, *failureRate),
		jobloop.SetLogger(jobloop.NopLogger()),
		jobloop.SetObserver(srv),
		jobloop.SetIdleBackoff(jobloop.ConstantIdleBackoff(*idle)),
		jobloop.SetConnect(h.Start),
	)
	srv.Watch(l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		jobloop.NewCollector(pool.Results(),
			jobloop.SetCollectorLogger(jobloop.NopLogger()),
			jobloop.SetCollectorObserver(srv),
		).Run()
		return nil
	})

	g.Go(func() error {
		err := l.Run(ctx)
		if cerr := pool.CloseWithTimeout(5 * time.Second); cerr != nil && err == nil {
			err = cerr
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		log.Printf("web server listening on %v", *addr)
		return srv.Serve(ctx, *addr)
	})

	g.Go(func() error {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(c)
		select {
		case sig := <-c:
			log.Printf("recv signal %v", fmt.Sprint(sig))
			cancel()
		case <-ctx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("exit with error %v", err)
		os.Exit(1)
	}
}
